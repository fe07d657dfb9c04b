// Package pipeline wires extraction and analysis into the end-to-end flows:
// a one-shot pass over a report and a label, and the per-user flows backed
// by the document store.
package pipeline

import (
	"context"
	"io"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/diet-analysis/internal/model"
	"github.com/sells-group/diet-analysis/internal/store"
)

var (
	// ErrNoIngredients means the label yielded no ingredients.
	ErrNoIngredients = eris.New("pipeline: could not extract ingredients")

	// ErrNoHealthData means the report yielded no health attributes.
	ErrNoHealthData = eris.New("pipeline: failed to extract healthcare data")
)

// Extractor turns documents into structured data.
type Extractor interface {
	ExtractHealthData(ctx context.Context, r io.ReadSeeker) model.HealthRecord
	ExtractIngredients(ctx context.Context, r io.ReadSeeker) model.IngredientList
}

// Analyzer produces analysis text.
type Analyzer interface {
	Analyze(ctx context.Context, h model.HealthRecord, i model.IngredientList) string
}

// Pipeline runs the two-stage extraction and analysis flow.
type Pipeline struct {
	extractor Extractor
	analyzer  Analyzer
	store     store.Store
}

// New creates a Pipeline. st may be nil when only Run is used.
func New(e Extractor, a Analyzer, st store.Store) *Pipeline {
	return &Pipeline{extractor: e, analyzer: a, store: st}
}

// Run extracts the report and the label concurrently, then analyzes them.
// An empty health record is analyzed as is; an empty ingredient list stops
// the run with ErrNoIngredients.
func (p *Pipeline) Run(ctx context.Context, report, label io.ReadSeeker) (*model.Result, error) {
	var (
		health      model.HealthRecord
		ingredients model.IngredientList
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		health = p.extractor.ExtractHealthData(gctx, report)
		return gctx.Err()
	})
	g.Go(func() error {
		ingredients = p.extractor.ExtractIngredients(gctx, label)
		return gctx.Err()
	})
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "pipeline: extraction")
	}

	zap.L().Info("pipeline: extraction complete",
		zap.Int("health_fields", len(health)),
		zap.Int("ingredients", len(ingredients)),
	)
	if len(ingredients) == 0 {
		return &model.Result{Health: health, Ingredients: ingredients}, ErrNoIngredients
	}

	return &model.Result{
		Health:      health,
		Ingredients: ingredients,
		Analysis:    p.analyzer.Analyze(ctx, health, ingredients),
	}, nil
}

// UploadHealthReport extracts a report and stores it as the user's latest
// health record.
func (p *Pipeline) UploadHealthReport(ctx context.Context, uid string, report io.ReadSeeker) (model.HealthRecord, error) {
	if err := p.requireStore(); err != nil {
		return nil, err
	}

	rec := p.extractor.ExtractHealthData(ctx, report)
	if rec.IsEmpty() {
		return nil, ErrNoHealthData
	}
	if err := p.store.SetHealthRecord(ctx, uid, rec); err != nil {
		return nil, eris.Wrapf(err, "pipeline: save health record for %s", uid)
	}

	zap.L().Info("pipeline: health record updated",
		zap.String("user_id", uid),
		zap.Int("fields", len(rec)),
	)
	return rec, nil
}

// AnalyzeForUser analyzes a label against the user's stored health record
// and appends the result to the user's history. A failed history write is
// logged and does not discard the analysis.
func (p *Pipeline) AnalyzeForUser(ctx context.Context, uid string, label io.ReadSeeker) (*model.Result, error) {
	if err := p.requireStore(); err != nil {
		return nil, err
	}

	health, err := p.store.GetHealthRecord(ctx, uid)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: load health record for %s", uid)
	}
	if health.IsEmpty() {
		return nil, eris.Wrapf(store.ErrNotFound, "pipeline: empty health record for %s", uid)
	}

	ingredients := p.extractor.ExtractIngredients(ctx, label)
	if len(ingredients) == 0 {
		return nil, ErrNoIngredients
	}

	analysis := p.analyzer.Analyze(ctx, health, ingredients)

	if _, err := p.store.SaveAnalysis(ctx, model.AnalysisRecord{
		UserID:      uid,
		Ingredients: ingredients,
		Analysis:    analysis,
	}); err != nil {
		zap.L().Warn("pipeline: save analysis", zap.String("user_id", uid), zap.Error(err))
	}

	zap.L().Info("pipeline: analysis complete",
		zap.String("user_id", uid),
		zap.Int("ingredients", len(ingredients)),
	)
	return &model.Result{Health: health, Ingredients: ingredients, Analysis: analysis}, nil
}

// History returns the user's most recent analyses, newest first.
func (p *Pipeline) History(ctx context.Context, uid string, limit int) ([]model.AnalysisRecord, error) {
	if err := p.requireStore(); err != nil {
		return nil, err
	}
	recs, err := p.store.ListAnalyses(ctx, uid, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: list analyses for %s", uid)
	}
	return recs, nil
}

func (p *Pipeline) requireStore() error {
	if p.store == nil {
		return eris.New("pipeline: no store configured")
	}
	return nil
}
