// Package llmjson turns free-form model output into JSON-shaped values.
package llmjson

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

const sampleRunes = 200

var (
	fencedBlock    = regexp.MustCompile("(?s)```(?:json|JSON)?[ \\t]*\\r?\\n?(.*?)```")
	fenceMarker    = regexp.MustCompile("```(?:json|JSON)?")
	trailingCommas = regexp.MustCompile(`,\s*([}\]])`)
)

// strategy is one attempt at recovering JSON from raw text.
type strategy struct {
	name string
	fn   func(raw string) (any, bool)
}

var strategies = []strategy{
	{"direct", parseDirect},
	{"fenced", parseFenced},
	{"repaired", parseRepaired},
	{"boundary", parseBoundary},
}

// Parse converts raw model text into a decoded JSON value, trying each
// recovery strategy in order and stopping at the first success. It never
// fails: when nothing can be recovered it returns an empty map if raw
// contains '{' and an empty slice otherwise.
func Parse(raw string) any {
	if v, ok := TryParse(raw); ok {
		return v
	}
	if strings.Contains(raw, "{") {
		return map[string]any{}
	}
	return []any{}
}

// TryParse is Parse without the empty default. The bool is false when no
// strategy recovered a value.
func TryParse(raw string) (any, bool) {
	for _, s := range strategies {
		if v, ok := s.fn(raw); ok {
			if s.name != "direct" {
				zap.L().Debug("llmjson: recovered json", zap.String("strategy", s.name))
			}
			return v, true
		}
	}

	zap.L().Warn("llmjson: could not parse model output",
		zap.Int("length", len(raw)),
		zap.String("sample", Truncate(raw, sampleRunes)),
	)
	return nil, false
}

// parseDirect decodes the whole text. Any well-formed JSON value is accepted.
func parseDirect(raw string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, false
	}
	return v, true
}

// parseFenced decodes the contents of the first ``` block. Like parseDirect
// it accepts any well-formed JSON value, so a fenced value parses the same
// as the bare one.
func parseFenced(raw string) (any, bool) {
	m := fencedBlock.FindStringSubmatch(raw)
	if m == nil {
		return nil, false
	}
	text := strings.TrimSpace(m[1])
	if text == "" {
		return nil, false
	}
	return parseDirect(text)
}

// parseRepaired strips fence markers, unquotes "null" and drops trailing
// commas before decoding.
func parseRepaired(raw string) (any, bool) {
	return decodeContainer(repair(raw))
}

// parseBoundary decodes the span from the earliest opening brace or bracket
// to the latest closing one.
func parseBoundary(raw string) (any, bool) {
	if v, ok := decodeContainer(boundary(raw)); ok {
		return v, true
	}
	return decodeContainer(boundary(repair(raw)))
}

func repair(raw string) string {
	text := fenceMarker.ReplaceAllString(raw, "")
	text = strings.ReplaceAll(text, `"null"`, "null")
	text = trailingCommas.ReplaceAllString(text, "$1")
	return strings.TrimSpace(text)
}

func boundary(raw string) string {
	start := strings.IndexAny(raw, "{[")
	end := strings.LastIndexAny(raw, "}]")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}

// decodeContainer decodes text and accepts only objects and arrays.
func decodeContainer(text string) (any, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, false
	}
	switch v.(type) {
	case map[string]any, []any:
		return v, true
	default:
		return nil, false
	}
}

// Truncate shortens s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}
