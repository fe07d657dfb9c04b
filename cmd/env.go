package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/diet-analysis/internal/cache"
	"github.com/sells-group/diet-analysis/internal/config"
	"github.com/sells-group/diet-analysis/internal/dietician"
	"github.com/sells-group/diet-analysis/internal/extract"
	"github.com/sells-group/diet-analysis/internal/gateway"
	"github.com/sells-group/diet-analysis/internal/metrics"
	"github.com/sells-group/diet-analysis/internal/pipeline"
	"github.com/sells-group/diet-analysis/internal/store"
	anthropicpkg "github.com/sells-group/diet-analysis/pkg/anthropic"
)

// analysisEnv holds the services built from config for the analyze, extract
// and serve commands.
type analysisEnv struct {
	Metrics   *metrics.Metrics
	Gateway   *gateway.Gateway
	Extractor *extract.Service
	Dietician *dietician.Service
	Cache     *cache.Cache // nil when disabled
	Store     store.Store  // nil unless opened with withStore
	Pipeline  *pipeline.Pipeline
}

// Close releases resources held by the environment.
func (e *analysisEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initAnalysis wires the model client, gateway, extraction and analysis
// services. When withStore is set the configured store is opened and
// migrated. Callers should defer env.Close().
func initAnalysis(ctx context.Context, c *config.Config, withStore bool) (*analysisEnv, error) {
	mode := "analyze"
	if withStore {
		mode = "serve"
	}
	if err := c.Validate(mode); err != nil {
		return nil, err
	}
	return buildAnalysis(ctx, c, anthropicpkg.NewClient(c.Anthropic.Key), withStore)
}

func buildAnalysis(ctx context.Context, c *config.Config, client anthropicpkg.Client, withStore bool) (*analysisEnv, error) {
	m := metrics.New()

	prompts := extract.DefaultPrompts()
	if c.Extract.PromptsFile != "" {
		p, err := extract.LoadPrompts(c.Extract.PromptsFile)
		if err != nil {
			return nil, err
		}
		prompts = p
		zap.L().Info("loaded extraction prompts", zap.String("file", c.Extract.PromptsFile))
	}

	gw := gateway.New(
		gateway.NewAnthropicBackend(client, c.Anthropic.MaxTokens),
		gateway.Config{
			Jitter:                  c.Gateway.Jitter(),
			RequestsPerSecond:       c.Gateway.RequestsPerSecond,
			CircuitFailureThreshold: c.Gateway.CircuitFailureThreshold,
			CircuitResetTimeout:     c.Gateway.CircuitReset(),
		},
		gateway.WithMetrics(m),
	)

	var ac *cache.Cache
	if c.Cache.Enabled {
		ac = cache.New(c.Cache.TTL(), cache.WithMetrics(m))
	} else {
		zap.L().Debug("analysis cache disabled")
	}

	ex := extract.New(gw, extract.Config{
		Model:         c.Anthropic.ExtractModel,
		MaxRetries:    c.Gateway.MaxRetries,
		TempDir:       c.Extract.TempDir,
		ProseFallback: c.Extract.ProseFallback,
		Prompts:       prompts,
	}, extract.WithMetrics(m))

	dt := dietician.New(gw, ac, dietician.Config{
		Model:      c.Anthropic.AnalysisModel,
		MaxRetries: c.Gateway.MaxRetries,
	})

	env := &analysisEnv{
		Metrics:   m,
		Gateway:   gw,
		Extractor: ex,
		Dietician: dt,
		Cache:     ac,
	}

	if withStore {
		st, err := initStore(ctx, c)
		if err != nil {
			return nil, err
		}
		env.Store = st
	}

	env.Pipeline = pipeline.New(ex, dt, env.Store)
	return env, nil
}

// initStore opens and migrates the configured store.
func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	st, err := store.Open(ctx, c.Store.Driver, c.Store.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}
