package extract

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/diet-analysis/internal/model"
)

var (
	pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
	pdfBytes = []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\n%%EOF\n")
)

// stubCaller returns a fixed response and records what it was given.
type stubCaller struct {
	mu       sync.Mutex
	response string
	err      error

	prompts   []string
	paths     []string
	existed   []bool
	models    []string
	retries []int
}

func (c *stubCaller) Call(_ context.Context, prompt, filePath string, maxRetries int, model string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, statErr := os.Stat(filePath)
	c.prompts = append(c.prompts, prompt)
	c.paths = append(c.paths, filePath)
	c.existed = append(c.existed, statErr == nil)
	c.models = append(c.models, model)
	c.retries = append(c.retries, maxRetries)
	return c.response, c.err
}

func newService(c Caller, cfg Config) *Service {
	if cfg.Model == "" {
		cfg.Model = "extract-model"
	}
	return New(c, cfg)
}

func TestExtractHealthData_JSONObject(t *testing.T) {
	dir := t.TempDir()
	c := &stubCaller{response: "```json\n{\"conditions\": [\"hypertension\"], \"age\": 54}\n```"}
	s := newService(c, Config{TempDir: dir, MaxRetries: 2})

	rec := s.ExtractHealthData(context.Background(), bytes.NewReader(pdfBytes))
	assert.Equal(t, model.HealthRecord{"conditions": []any{"hypertension"}, "age": 54.0}, rec)

	require.Len(t, c.paths, 1)
	assert.True(t, c.existed[0], "file must exist during the call")
	assert.Equal(t, ".pdf", filepath.Ext(c.paths[0]))
	assert.Equal(t, DefaultPrompts().Health, c.prompts[0])
	assert.Equal(t, "extract-model", c.models[0])
	assert.Equal(t, 2, c.retries[0])

	_, err := os.Stat(c.paths[0])
	assert.True(t, os.IsNotExist(err), "staged file removed after extraction")
	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)
}

func TestExtractHealthData_ArrayIsNotARecord(t *testing.T) {
	c := &stubCaller{response: `["hypertension"]`}
	s := newService(c, Config{TempDir: t.TempDir()})

	rec := s.ExtractHealthData(context.Background(), bytes.NewReader(pngBytes))
	assert.NotNil(t, rec)
	assert.Empty(t, rec)
}

func TestExtractHealthData_GatewayFailure(t *testing.T) {
	dir := t.TempDir()
	c := &stubCaller{err: errors.New("gateway: inference failed after retries")}
	s := newService(c, Config{TempDir: dir})

	rec := s.ExtractHealthData(context.Background(), bytes.NewReader(pngBytes))
	assert.NotNil(t, rec)
	assert.Empty(t, rec)

	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries, "staged file removed on failure")
}

func TestExtractHealthData_UnsupportedType(t *testing.T) {
	c := &stubCaller{response: `{"a": 1}`}
	s := newService(c, Config{TempDir: t.TempDir()})

	rec := s.ExtractHealthData(context.Background(), bytes.NewReader([]byte("hello")))
	assert.Empty(t, rec)
	assert.Empty(t, c.paths, "gateway not called for unsupported input")
}

func TestExtractHealthData_ProseFallback(t *testing.T) {
	prose := "Blood Pressure: 140/90\nBlood Sugar: 200 mg/dL\nno colon here"

	off := newService(&stubCaller{response: prose}, Config{TempDir: t.TempDir()})
	assert.Empty(t, off.ExtractHealthData(context.Background(), bytes.NewReader(pngBytes)))

	on := newService(&stubCaller{response: prose}, Config{TempDir: t.TempDir(), ProseFallback: true})
	rec := on.ExtractHealthData(context.Background(), bytes.NewReader(pngBytes))
	assert.Equal(t, model.HealthRecord{
		"Blood Pressure": "140/90",
		"Blood Sugar":    "200 mg/dL",
	}, rec)
}

func TestExtractIngredients_Array(t *testing.T) {
	c := &stubCaller{response: `Here you go: [" Sugar ", "Salt", "Salt", ""]`}
	s := newService(c, Config{TempDir: t.TempDir()})

	list := s.ExtractIngredients(context.Background(), bytes.NewReader(pngBytes))
	assert.Equal(t, model.IngredientList{"Sugar", "Salt", "Salt"}, list)
	assert.Equal(t, ".png", filepath.Ext(c.paths[0]))
	assert.Equal(t, DefaultPrompts().Ingredients, c.prompts[0])
}

func TestExtractIngredients_WrappedObject(t *testing.T) {
	c := &stubCaller{response: `{"ingredients": ["flour", {"name": "ajwain"}]}`}
	s := newService(c, Config{TempDir: t.TempDir()})

	list := s.ExtractIngredients(context.Background(), bytes.NewReader(pngBytes))
	assert.Equal(t, model.IngredientList{"flour", "ajwain"}, list)
}

func TestExtractIngredients_ObjectWithoutList(t *testing.T) {
	c := &stubCaller{response: `{"summary": "flour and salt"}`}
	s := newService(c, Config{TempDir: t.TempDir()})

	list := s.ExtractIngredients(context.Background(), bytes.NewReader(pngBytes))
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestExtractIngredients_ProseFallback(t *testing.T) {
	prose := "Sugar, Salt\nAjwain"

	off := newService(&stubCaller{response: prose}, Config{TempDir: t.TempDir()})
	assert.Empty(t, off.ExtractIngredients(context.Background(), bytes.NewReader(pngBytes)))

	on := newService(&stubCaller{response: prose}, Config{TempDir: t.TempDir(), ProseFallback: true})
	assert.Equal(t, model.IngredientList{"Sugar", "Salt", "Ajwain"},
		on.ExtractIngredients(context.Background(), bytes.NewReader(pngBytes)))
}

func TestExtractIngredients_GatewayFailure(t *testing.T) {
	c := &stubCaller{err: errors.New("boom")}
	s := newService(c, Config{TempDir: t.TempDir()})

	list := s.ExtractIngredients(context.Background(), bytes.NewReader(pdfBytes))
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestNew_CustomPrompts(t *testing.T) {
	c := &stubCaller{response: `[]`}
	s := newService(c, Config{TempDir: t.TempDir(), Prompts: Prompts{Ingredients: "list them"}})

	s.ExtractIngredients(context.Background(), bytes.NewReader(pngBytes))
	s.ExtractHealthData(context.Background(), bytes.NewReader(pngBytes))
	assert.Equal(t, "list them", c.prompts[0])
	assert.Equal(t, DefaultPrompts().Health, c.prompts[1])
}
