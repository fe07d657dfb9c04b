// Package extract turns uploaded health reports and ingredient labels into
// structured data through the inference gateway.
package extract

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/sells-group/diet-analysis/internal/llmjson"
	"github.com/sells-group/diet-analysis/internal/metrics"
	"github.com/sells-group/diet-analysis/internal/model"
	"github.com/sells-group/diet-analysis/internal/staging"
)

// Extraction kinds, used as metric labels.
const (
	KindHealth      = "health"
	KindIngredients = "ingredients"
)

// Caller is the subset of the gateway used for extraction.
type Caller interface {
	Call(ctx context.Context, prompt, filePath string, maxRetries int, model string) (string, error)
}

// Config controls extraction.
type Config struct {
	Model      string
	MaxRetries int

	// TempDir holds staged uploads. Empty uses the OS temp dir.
	TempDir string

	// ProseFallback reads unparseable health output as "key: value" lines
	// and unparseable ingredient output as a comma separated list.
	ProseFallback bool

	Prompts Prompts
}

// Option customizes a Service.
type Option func(*Service)

// WithMetrics counts extraction outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// Service extracts structured data from documents. Failures never surface:
// every method returns an empty, non-nil value instead.
type Service struct {
	caller  Caller
	cfg     Config
	metrics *metrics.Metrics
}

// New creates an extraction service.
func New(caller Caller, cfg Config, opts ...Option) *Service {
	def := DefaultPrompts()
	if cfg.Prompts.Health == "" {
		cfg.Prompts.Health = def.Health
	}
	if cfg.Prompts.Ingredients == "" {
		cfg.Prompts.Ingredients = def.Ingredients
	}
	s := &Service{caller: caller, cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExtractHealthData reads a health report (PNG, JPEG or PDF) and returns its
// attributes. The result is empty when the file type is unsupported, the
// gateway gives up, or the output is not a JSON object.
func (s *Service) ExtractHealthData(ctx context.Context, r io.ReadSeeker) model.HealthRecord {
	rec := model.HealthRecord{}
	raw, err := s.call(ctx, r, s.cfg.Prompts.Health)
	if err != nil {
		zap.L().Error("extract: health report failed", zap.Error(err))
		s.metrics.Extraction(KindHealth, metrics.OutcomeError)
		return rec
	}

	if v, ok := llmjson.TryParse(raw); ok {
		if parsed, ok := llmjson.AsRecord(v); ok {
			rec = parsed
		} else {
			zap.L().Warn("extract: health output is not an object",
				zap.String("sample", llmjson.Truncate(raw, 200)),
			)
		}
	} else if s.cfg.ProseFallback {
		rec = llmjson.SplitKeyValues(raw)
	}

	s.record(KindHealth, len(rec))
	zap.L().Info("extract: health report processed", zap.Int("fields", len(rec)))
	return rec
}

// ExtractIngredients reads an ingredient label (PNG, JPEG or PDF) and returns
// the ingredients in label order. The result is empty on any failure.
func (s *Service) ExtractIngredients(ctx context.Context, r io.ReadSeeker) model.IngredientList {
	list := model.IngredientList{}
	raw, err := s.call(ctx, r, s.cfg.Prompts.Ingredients)
	if err != nil {
		zap.L().Error("extract: ingredient label failed", zap.Error(err))
		s.metrics.Extraction(KindIngredients, metrics.OutcomeError)
		return list
	}

	if v, ok := llmjson.TryParse(raw); ok {
		if parsed, ok := llmjson.AsStrings(v); ok {
			list = parsed
		} else {
			zap.L().Warn("extract: ingredient output is not a list",
				zap.String("sample", llmjson.Truncate(raw, 200)),
			)
		}
	} else if s.cfg.ProseFallback {
		list = llmjson.SplitList(raw)
	}

	s.record(KindIngredients, len(list))
	zap.L().Info("extract: ingredient label processed", zap.Int("ingredients", len(list)))
	return list
}

// call stages r and sends it with prompt. The staged file is removed before
// call returns.
func (s *Service) call(ctx context.Context, r io.ReadSeeker, prompt string) (string, error) {
	var raw string
	err := staging.With(r, s.cfg.TempDir, func(f *model.StagedFile) error {
		var err error
		raw, err = s.caller.Call(ctx, prompt, f.Path, s.cfg.MaxRetries, s.cfg.Model)
		return err
	})
	return raw, err
}

func (s *Service) record(kind string, n int) {
	if n == 0 {
		s.metrics.Extraction(kind, metrics.OutcomeEmpty)
		return
	}
	s.metrics.Extraction(kind, metrics.OutcomeSuccess)
}
