package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/diet-analysis/internal/fetcher"
	"github.com/sells-group/diet-analysis/internal/metrics"
	"github.com/sells-group/diet-analysis/internal/model"
	"github.com/sells-group/diet-analysis/internal/pipeline"
	"github.com/sells-group/diet-analysis/internal/store"
)

var (
	pngDoc = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)
	pdfDoc = []byte("%PDF-1.7\n%stub\n")
)

type mockPipeline struct{ mock.Mock }

func (m *mockPipeline) Run(ctx context.Context, report, label io.ReadSeeker) (*model.Result, error) {
	args := m.Called(ctx, report, label)
	res, _ := args.Get(0).(*model.Result)
	return res, args.Error(1)
}

func (m *mockPipeline) UploadHealthReport(ctx context.Context, uid string, report io.ReadSeeker) (model.HealthRecord, error) {
	args := m.Called(ctx, uid, report)
	rec, _ := args.Get(0).(model.HealthRecord)
	return rec, args.Error(1)
}

func (m *mockPipeline) AnalyzeForUser(ctx context.Context, uid string, label io.ReadSeeker) (*model.Result, error) {
	args := m.Called(ctx, uid, label)
	res, _ := args.Get(0).(*model.Result)
	return res, args.Error(1)
}

func (m *mockPipeline) History(ctx context.Context, uid string, limit int) ([]model.AnalysisRecord, error) {
	args := m.Called(ctx, uid, limit)
	recs, _ := args.Get(0).([]model.AnalysisRecord)
	return recs, args.Error(1)
}

type stubFetcher struct {
	docs map[string][]byte
	err  error
}

func (f *stubFetcher) Fetch(_ context.Context, rawURL string) (*bytes.Reader, error) {
	if f.err != nil {
		return nil, f.err
	}
	doc, ok := f.docs[rawURL]
	if !ok {
		return nil, eris.Errorf("fetch: %s returned 404", rawURL)
	}
	return bytes.NewReader(doc), nil
}

type part struct {
	field string
	file  []byte
	value string
}

func multipartBody(t *testing.T, parts ...part) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		if p.file != nil {
			fw, err := mw.CreateFormFile(p.field, p.field+".bin")
			require.NoError(t, err)
			_, err = fw.Write(p.file)
			require.NoError(t, err)
			continue
		}
		require.NoError(t, mw.WriteField(p.field, p.value))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func do(t *testing.T, h http.Handler, method, path string, body io.Reader, contentType string, header ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func newTestServer(p Pipeline, f Fetcher, cfg Config) http.Handler {
	return New(p, f, metrics.New(), cfg).Handler()
}

func readAll(t *testing.T, r io.ReadSeeker) []byte {
	t.Helper()
	_, err := r.Seek(0, io.SeekStart)
	require.NoError(t, err)
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	return b
}

func TestHealth(t *testing.T) {
	h := newTestServer(&mockPipeline{}, nil, Config{})
	rec, body := do(t, h, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRequestID_Propagated(t *testing.T) {
	h := newTestServer(&mockPipeline{}, nil, Config{})
	rec, _ := do(t, h, http.MethodGet, "/health", nil, "", "X-Request-ID", "abc-123")
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(&mockPipeline{}, nil, Config{})
	do(t, h, http.MethodGet, "/health", nil, "")

	rec, _ := do(t, h, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestUploadHealthReport(t *testing.T) {
	p := &mockPipeline{}
	rec := model.HealthRecord{"conditions": []any{"hypertension"}}
	p.On("UploadHealthReport", mock.Anything, "u1", mock.Anything).
		Run(func(args mock.Arguments) {
			assert.Equal(t, pdfDoc, readAll(t, args.Get(2).(io.ReadSeeker)))
		}).
		Return(rec, nil)

	body, ct := multipartBody(t, part{field: "uid", value: "u1"}, part{field: "report_file", file: pdfDoc})
	resp, out := do(t, newTestServer(p, nil, Config{}), http.MethodPost, "/upload_healthcare_report", body, ct)

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "Healthcare report processed successfully", out["message"])
	assert.Equal(t, map[string]any{"conditions": []any{"hypertension"}}, out["data"])
	p.AssertExpectations(t)
}

func TestUploadHealthReport_MissingUID(t *testing.T) {
	p := &mockPipeline{}
	body, ct := multipartBody(t, part{field: "report_file", file: pdfDoc})
	resp, out := do(t, newTestServer(p, nil, Config{}), http.MethodPost, "/upload_healthcare_report", body, ct)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "Missing user_id or report file", out["error"])
	p.AssertNotCalled(t, "UploadHealthReport", mock.Anything, mock.Anything, mock.Anything)
}

func TestUploadHealthReport_MissingFile(t *testing.T) {
	body, ct := multipartBody(t, part{field: "uid", value: "u1"})
	resp, out := do(t, newTestServer(&mockPipeline{}, nil, Config{}), http.MethodPost, "/upload_healthcare_report", body, ct)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "Missing user_id or report file", out["error"])
}

func TestUploadHealthReport_UnsupportedType(t *testing.T) {
	body, ct := multipartBody(t, part{field: "uid", value: "u1"}, part{field: "report_file", file: []byte("plain text")})
	resp, out := do(t, newTestServer(&mockPipeline{}, nil, Config{}), http.MethodPost, "/upload_healthcare_report", body, ct)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, out["error"], "unsupported file type")
}

func TestUploadHealthReport_ExtractionEmpty(t *testing.T) {
	p := &mockPipeline{}
	p.On("UploadHealthReport", mock.Anything, "u1", mock.Anything).
		Return(nil, eris.Wrap(pipeline.ErrNoHealthData, "upload"))

	body, ct := multipartBody(t, part{field: "uid", value: "u1"}, part{field: "health-data", file: pngDoc})
	resp, out := do(t, newTestServer(p, nil, Config{}), http.MethodPost, "/upload_healthcare_report", body, ct)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "Failed to extract healthcare data", out["error"])
}

func TestAnalyze(t *testing.T) {
	p := &mockPipeline{}
	p.On("AnalyzeForUser", mock.Anything, "u1", mock.Anything).Return(&model.Result{
		Health:      model.HealthRecord{"a": "b"},
		Ingredients: model.IngredientList{"salt", "sugar"},
		Analysis:    "Summary: limit sodium",
	}, nil)

	body, ct := multipartBody(t, part{field: "uid", value: "u1"}, part{field: "ingredient_file", file: pngDoc})
	resp, out := do(t, newTestServer(p, nil, Config{}), http.MethodPost, "/analyze", body, ct)

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, []any{"salt", "sugar"}, out["ingredients"])
	assert.Equal(t, "Summary: limit sodium", out["analysis"])
	assert.NotContains(t, out, "health_data")
}

func TestAnalyze_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"not found", eris.Wrap(store.ErrNotFound, "lookup"), http.StatusNotFound, "Healthcare data not found for this user"},
		{"no ingredients", pipeline.ErrNoIngredients, http.StatusBadRequest, "Could not extract ingredients"},
		{"storage down", eris.Wrap(store.ErrStorageUnavailable, "db"), http.StatusServiceUnavailable, "storage unavailable"},
		{"unexpected", eris.New("boom"), http.StatusInternalServerError, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &mockPipeline{}
			p.On("AnalyzeForUser", mock.Anything, "u1", mock.Anything).Return(nil, tt.err)

			body, ct := multipartBody(t, part{field: "uid", value: "u1"}, part{field: "ingredient-image", file: pngDoc})
			resp, out := do(t, newTestServer(p, nil, Config{}), http.MethodPost, "/analyze", body, ct)

			assert.Equal(t, tt.status, resp.Code)
			assert.Equal(t, tt.msg, out["error"])
		})
	}
}

func TestUpload_FullRun(t *testing.T) {
	p := &mockPipeline{}
	p.On("Run", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			assert.Equal(t, pdfDoc, readAll(t, args.Get(1).(io.ReadSeeker)))
			assert.Equal(t, pngDoc, readAll(t, args.Get(2).(io.ReadSeeker)))
		}).
		Return(&model.Result{
			Health:      model.HealthRecord{"x": "y"},
			Ingredients: model.IngredientList{"oats"},
			Analysis:    "fine",
		}, nil)

	body, ct := multipartBody(t,
		part{field: "report_file", file: pdfDoc},
		part{field: "ingredient_file", file: pngDoc},
	)
	resp, out := do(t, newTestServer(p, nil, Config{}), http.MethodPost, "/upload", body, ct)

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, map[string]any{"x": "y"}, out["health_data"])
	assert.Equal(t, []any{"oats"}, out["ingredients"])
	assert.Equal(t, "fine", out["analysis"])
	p.AssertExpectations(t)
}

func TestUpload_FromURLs(t *testing.T) {
	f := &stubFetcher{docs: map[string][]byte{
		"https://docs.example/report.pdf": pdfDoc,
		"https://docs.example/label.png":  pngDoc,
	}}
	p := &mockPipeline{}
	p.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(&model.Result{Analysis: "ok"}, nil)

	body, ct := multipartBody(t,
		part{field: "report_url", value: "https://docs.example/report.pdf"},
		part{field: "ingredient_url", value: "https://docs.example/label.png"},
	)
	resp, out := do(t, newTestServer(p, f, Config{}), http.MethodPost, "/upload", body, ct)

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "ok", out["analysis"])
}

func TestUpload_URLErrors(t *testing.T) {
	tests := []struct {
		name    string
		fetcher Fetcher
		status  int
	}{
		{"disabled", nil, http.StatusBadRequest},
		{"insecure", &stubFetcher{err: eris.Wrap(fetcher.ErrInsecureURL, "http://x")}, http.StatusBadRequest},
		{"too large", &stubFetcher{err: eris.Wrap(fetcher.ErrSizeExceeded, "big")}, http.StatusRequestEntityTooLarge},
		{"remote failure", &stubFetcher{docs: map[string][]byte{}}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := multipartBody(t,
				part{field: "report_url", value: "https://docs.example/report.pdf"},
				part{field: "ingredient_file", file: pngDoc},
			)
			resp, _ := do(t, newTestServer(&mockPipeline{}, tt.fetcher, Config{}), http.MethodPost, "/upload", body, ct)
			assert.Equal(t, tt.status, resp.Code)
		})
	}
}

func TestUpload_NoIngredientsIsBadRequest(t *testing.T) {
	p := &mockPipeline{}
	p.On("Run", mock.Anything, mock.Anything, mock.Anything).
		Return(&model.Result{Health: model.HealthRecord{}}, pipeline.ErrNoIngredients)

	body, ct := multipartBody(t,
		part{field: "report_file", file: pdfDoc},
		part{field: "ingredient_file", file: pngDoc},
	)
	resp, out := do(t, newTestServer(p, nil, Config{}), http.MethodPost, "/upload", body, ct)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "Could not extract ingredients", out["error"])
}

func TestUpload_BodyTooLarge(t *testing.T) {
	big := append(append([]byte{}, pngDoc...), make([]byte, 4096)...)
	body, ct := multipartBody(t,
		part{field: "report_file", file: big},
		part{field: "ingredient_file", file: big},
	)
	resp, out := do(t, newTestServer(&mockPipeline{}, nil, Config{MaxUploadBytes: 1024}), http.MethodPost, "/upload", body, ct)

	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.Code)
	assert.Equal(t, "file too large", out["error"])
}

func TestHistory(t *testing.T) {
	p := &mockPipeline{}
	p.On("History", mock.Anything, "u1", 5).Return([]model.AnalysisRecord{
		{ID: "a1", UserID: "u1", Analysis: "first"},
	}, nil)

	resp, out := do(t, newTestServer(p, nil, Config{}), http.MethodGet, "/users/u1/analyses?limit=5", nil, "")

	assert.Equal(t, http.StatusOK, resp.Code)
	recs := out["analyses"].([]any)
	require.Len(t, recs, 1)
	assert.Equal(t, "a1", recs[0].(map[string]any)["id"])
}

func TestHistory_BadLimit(t *testing.T) {
	resp, _ := do(t, newTestServer(&mockPipeline{}, nil, Config{}), http.MethodGet, "/users/u1/analyses?limit=-3", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestIdentityGate(t *testing.T) {
	keys := map[string]string{"key-1": "u1"}

	t.Run("missing header", func(t *testing.T) {
		resp, _ := do(t, newTestServer(&mockPipeline{}, nil, Config{APIKeys: keys}), http.MethodGet, "/users/u1/analyses", nil, "")
		assert.Equal(t, http.StatusUnauthorized, resp.Code)
	})

	t.Run("unknown key", func(t *testing.T) {
		resp, _ := do(t, newTestServer(&mockPipeline{}, nil, Config{APIKeys: keys}), http.MethodGet, "/users/u1/analyses", nil, "",
			"Authorization", "Bearer nope")
		assert.Equal(t, http.StatusUnauthorized, resp.Code)
	})

	t.Run("other user forbidden", func(t *testing.T) {
		resp, _ := do(t, newTestServer(&mockPipeline{}, nil, Config{APIKeys: keys}), http.MethodGet, "/users/u2/analyses", nil, "",
			"Authorization", "Bearer key-1")
		assert.Equal(t, http.StatusForbidden, resp.Code)
	})

	t.Run("key identifies user", func(t *testing.T) {
		p := &mockPipeline{}
		p.On("AnalyzeForUser", mock.Anything, "u1", mock.Anything).Return(&model.Result{Analysis: "ok"}, nil)

		body, ct := multipartBody(t, part{field: "ingredient_file", file: pngDoc})
		resp, _ := do(t, newTestServer(p, nil, Config{APIKeys: keys}), http.MethodPost, "/analyze", body, ct,
			"Authorization", "Bearer key-1")
		assert.Equal(t, http.StatusOK, resp.Code)
		p.AssertExpectations(t)
	})

	t.Run("health stays open", func(t *testing.T) {
		resp, _ := do(t, newTestServer(&mockPipeline{}, nil, Config{APIKeys: keys}), http.MethodGet, "/health", nil, "")
		assert.Equal(t, http.StatusOK, resp.Code)
	})
}

func TestCORS_Preflight(t *testing.T) {
	h := newTestServer(&mockPipeline{}, nil, Config{AllowedOrigins: []string{"https://app.example"}})
	req := httptest.NewRequest(http.MethodOptions, "/analyze", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
}
