package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/diet-analysis/internal/fetcher"
	"github.com/sells-group/diet-analysis/internal/pipeline"
	"github.com/sells-group/diet-analysis/internal/staging"
	"github.com/sells-group/diet-analysis/internal/store"
)

// httpError carries a status and a client-facing message.
type httpError struct {
	status int
	msg    string
}

func (e *httpError) Error() string { return e.msg }

func badRequest(msg string) error { return &httpError{status: http.StatusBadRequest, msg: msg} }

type handlerFunc func(http.ResponseWriter, *http.Request) error

// wrap maps handler errors to JSON error responses.
func (s *Server) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h(w, r)
		if err == nil {
			return
		}
		status, msg := classify(err)
		if status >= http.StatusInternalServerError {
			zap.L().Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		} else {
			zap.L().Warn("request rejected", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
		}
		writeError(w, status, msg)
	}
}

func classify(err error) (int, string) {
	var (
		he  *httpError
		mbe *http.MaxBytesError
	)
	switch {
	case errors.As(err, &he):
		return he.status, he.msg
	case errors.As(err, &mbe), errors.Is(err, fetcher.ErrSizeExceeded):
		return http.StatusRequestEntityTooLarge, "file too large"
	case errors.Is(err, staging.ErrUnsupportedFileType):
		return http.StatusBadRequest, "unsupported file type, expected PNG, JPEG or PDF"
	case errors.Is(err, fetcher.ErrInsecureURL):
		return http.StatusBadRequest, "only https URLs are allowed"
	case errors.Is(err, pipeline.ErrNoIngredients):
		return http.StatusBadRequest, "Could not extract ingredients"
	case errors.Is(err, pipeline.ErrNoHealthData):
		return http.StatusBadRequest, "Failed to extract healthcare data"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "Healthcare data not found for this user"
	case errors.Is(err, store.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "storage unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
