package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/diet-analysis/internal/fetcher"
	"github.com/sells-group/diet-analysis/internal/staging"
)

// multipartMemory is how much of a form is kept in memory before spilling
// file parts to disk.
const multipartMemory = 8 << 20

// input names a document field: an uploaded file or an https URL.
type input struct {
	file    string
	alias   string
	url     string
	missing string
}

var (
	reportInput = input{
		file:    "report_file",
		alias:   "health-data",
		url:     "report_url",
		missing: "Missing user_id or report file",
	}
	labelInput = input{
		file:    "ingredient_file",
		alias:   "ingredient-image",
		url:     "ingredient_url",
		missing: "Missing user_id or ingredient file",
	}
)

// POST /upload_healthcare_report
func (s *Server) handleUploadReport(w http.ResponseWriter, r *http.Request) error {
	if err := s.parseForm(w, r); err != nil {
		return err
	}
	uid, err := resolveUser(r, r.FormValue("uid"), reportInput.missing)
	if err != nil {
		return err
	}
	report, closeFn, err := s.document(r, reportInput)
	if err != nil {
		return err
	}
	defer closeFn()

	rec, err := s.pipeline.UploadHealthReport(r.Context(), uid, report)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Healthcare report processed successfully",
		"data":    rec,
	})
	return nil
}

// POST /analyze
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) error {
	if err := s.parseForm(w, r); err != nil {
		return err
	}
	uid, err := resolveUser(r, r.FormValue("uid"), labelInput.missing)
	if err != nil {
		return err
	}
	label, closeFn, err := s.document(r, labelInput)
	if err != nil {
		return err
	}
	defer closeFn()

	res, err := s.pipeline.AnalyzeForUser(r.Context(), uid, label)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ingredients": res.Ingredients,
		"analysis":    res.Analysis,
	})
	return nil
}

// POST /upload
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) error {
	if err := s.parseForm(w, r); err != nil {
		return err
	}
	report, closeReport, err := s.document(r, reportInput)
	if err != nil {
		return err
	}
	defer closeReport()
	label, closeLabel, err := s.document(r, labelInput)
	if err != nil {
		return err
	}
	defer closeLabel()

	res, err := s.pipeline.Run(r.Context(), report, label)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, res)
	return nil
}

// GET /users/{uid}/analyses?limit=N
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) error {
	uid, err := resolveUser(r, chi.URLParam(r, "uid"), "Missing user_id")
	if err != nil {
		return err
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			return badRequest("limit must be a non-negative integer")
		}
	}

	recs, err := s.pipeline.History(r.Context(), uid, limit)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"analyses": recs})
	return nil
}

func (s *Server) parseForm(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	err := r.ParseMultipartForm(multipartMemory)
	if errors.Is(err, http.ErrNotMultipart) {
		err = r.ParseForm()
	}
	var mbe *http.MaxBytesError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &mbe):
		return err
	default:
		return badRequest("invalid form body")
	}
}

// resolveUser picks the acting user: the gate's user when authenticated,
// otherwise the claimed id. An authenticated caller may not act for another
// user.
func resolveUser(r *http.Request, claimed, missing string) (string, error) {
	if uid, ok := authenticatedUser(r.Context()); ok {
		if claimed != "" && claimed != uid {
			return "", &httpError{status: http.StatusForbidden, msg: "user does not match API key"}
		}
		return uid, nil
	}
	if claimed == "" {
		return "", badRequest(missing)
	}
	return claimed, nil
}

// document returns the uploaded file for in, or downloads its URL. The
// stream is checked for a supported type before any extraction runs.
func (s *Server) document(r *http.Request, in input) (io.ReadSeeker, func(), error) {
	noop := func() {}

	for _, field := range []string{in.file, in.alias} {
		f, _, err := r.FormFile(field)
		if errors.Is(err, http.ErrMissingFile) {
			continue
		}
		if err != nil {
			return nil, noop, badRequest("invalid file field " + field)
		}
		closeFn := func() { _ = f.Close() }
		if _, err := staging.Sniff(f); err != nil {
			closeFn()
			return nil, noop, err
		}
		return f, closeFn, nil
	}

	rawURL := r.FormValue(in.url)
	if rawURL == "" {
		return nil, noop, badRequest(in.missing)
	}
	if s.fetcher == nil {
		return nil, noop, badRequest("remote documents are not enabled")
	}

	doc, err := s.fetcher.Fetch(r.Context(), rawURL)
	if err != nil {
		if errors.Is(err, fetcher.ErrInsecureURL) || errors.Is(err, fetcher.ErrSizeExceeded) {
			return nil, noop, err
		}
		zap.L().Warn("fetch remote document", zap.String("field", in.url), zap.Error(err))
		return nil, noop, &httpError{status: http.StatusBadGateway, msg: "could not fetch document"}
	}
	if _, err := staging.Sniff(doc); err != nil {
		return nil, noop, err
	}
	return doc, noop, nil
}
