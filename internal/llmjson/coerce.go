package llmjson

import (
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/diet-analysis/internal/model"
)

// ingredientKeys are wrapper keys models commonly use around an ingredient
// list when asked for a bare array.
var ingredientKeys = []string{"ingredients", "Ingredients", "items"}

// AsRecord returns v as a HealthRecord when it is a JSON object.
func AsRecord(v any) (model.HealthRecord, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return model.HealthRecord{}, false
	}
	return model.HealthRecord(m), true
}

// AsStrings coerces v into an ingredient list. v must be a JSON array, or an
// object wrapping one under a known key. String elements are trimmed and
// NFC-normalized; numbers are formatted; objects contribute their "name";
// nested arrays are flattened. Empty and unusable elements are dropped.
func AsStrings(v any) (model.IngredientList, bool) {
	var items []any
	switch val := v.(type) {
	case []any:
		items = val
	case map[string]any:
		for _, k := range ingredientKeys {
			if list, ok := val[k].([]any); ok {
				items = list
				break
			}
		}
		if items == nil {
			return model.IngredientList{}, false
		}
	default:
		return model.IngredientList{}, false
	}

	out := model.IngredientList{}
	for _, item := range items {
		out = appendItem(out, item)
	}
	return out, true
}

func appendItem(out model.IngredientList, item any) model.IngredientList {
	switch val := item.(type) {
	case string:
		if s := cleanName(val); s != "" {
			out = append(out, s)
		}
	case float64:
		out = append(out, strconv.FormatFloat(val, 'f', -1, 64))
	case map[string]any:
		if name, ok := val["name"].(string); ok {
			if s := cleanName(name); s != "" {
				out = append(out, s)
			}
		}
	case []any:
		for _, inner := range val {
			out = appendItem(out, inner)
		}
	}
	return out
}

func cleanName(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}

// SplitList reads prose as a comma or newline separated list, dropping list
// bullets and blanks.
func SplitList(raw string) model.IngredientList {
	out := model.IngredientList{}
	for _, part := range strings.Split(strings.ReplaceAll(raw, "\n", ","), ",") {
		part = strings.TrimLeft(strings.TrimSpace(part), "-*• ")
		if s := cleanName(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// SplitKeyValues reads prose as "key: value" lines.
func SplitKeyValues(raw string) model.HealthRecord {
	out := model.HealthRecord{}
	for _, line := range strings.Split(raw, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimLeft(strings.TrimSpace(key), "-*• ")
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(value)
	}
	return out
}
