// Package dietician produces a patient-specific safety analysis of a food
// product's ingredients.
package dietician

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/diet-analysis/internal/cache"
	"github.com/sells-group/diet-analysis/internal/model"
)

// FallbackText is returned when no analysis could be generated.
const FallbackText = "Analysis temporarily unavailable. Please try again later."

// Caller is the subset of the gateway used for analysis.
type Caller interface {
	Call(ctx context.Context, prompt, filePath string, maxRetries int, model string) (string, error)
}

// Config controls analysis.
type Config struct {
	Model      string
	MaxRetries int
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces time.Now for resolving server timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service runs the analysis step. A nil cache disables caching.
type Service struct {
	caller Caller
	cache  *cache.Cache
	cfg    Config
	now    func() time.Time
}

// New creates an analysis service.
func New(caller Caller, c *cache.Cache, cfg Config, opts ...Option) *Service {
	s := &Service{caller: caller, cache: c, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Analyze returns the analysis text for a health record and ingredient list.
// It never fails: when the gateway gives up it returns FallbackText, which is
// not cached.
func (s *Service) Analyze(ctx context.Context, h model.HealthRecord, ingredients model.IngredientList) string {
	normalized := h.Normalize(s.now())

	if s.cache != nil {
		if text, ok := s.cache.Lookup(h, ingredients); ok {
			zap.L().Info("dietician: cache hit", zap.Int("ingredients", len(ingredients)))
			return text
		}
	}

	prompt, err := BuildPrompt(normalized, ingredients)
	if err != nil {
		zap.L().Error("dietician: build prompt", zap.Error(err))
		return FallbackText
	}

	text, err := s.caller.Call(ctx, prompt, "", s.cfg.MaxRetries, s.cfg.Model)
	if err != nil {
		zap.L().Error("dietician: analysis unavailable", zap.Error(err))
		return FallbackText
	}

	if s.cache != nil {
		s.cache.Store(h, ingredients, text)
	}
	return text
}

// BuildPrompt renders the analysis prompt. h must already be normalized.
func BuildPrompt(h model.HealthRecord, ingredients model.IngredientList) (string, error) {
	if h == nil {
		h = model.HealthRecord{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(h); err != nil {
		return "", eris.Wrap(err, "dietician: encode health record")
	}

	var sb strings.Builder
	sb.WriteString("You are an expert dietician. Analyze the following ingredients based on the patient's health data. ")
	sb.WriteString("Provide a structured response with the following sections:\n\n")
	sb.WriteString("1. **Summary:** A brief overview of the analysis.\n")
	sb.WriteString("2. **Ingredient Analysis:** For each ingredient, provide:\n")
	sb.WriteString("   - **Name:** The ingredient name.\n")
	sb.WriteString("   - **Effect:** Whether it is safe or unsafe for the patient.\n")
	sb.WriteString("   - **Reason:** A concise explanation of the effect.\n")
	sb.WriteString("3. **Warnings:** Any specific warnings or risks based on the patient's health conditions.\n")
	sb.WriteString("4. **Recommendations:** Actionable advice for the patient, including portion control, substitutions, or dietary modifications.\n\n")
	sb.WriteString("**Patient Data:**\n")
	sb.WriteString(strings.TrimRight(buf.String(), "\n"))
	sb.WriteString("\n\n**Ingredients:**\n")
	sb.WriteString(ingredients.Joined())
	sb.WriteString("\n\nEnsure the response is concise, accurate, and tailored to the patient's health conditions.")
	return sb.String(), nil
}
