// Package staging validates uploaded documents and materializes them as
// temporary files for the lifetime of a single extraction.
package staging

import (
	"errors"
	"io"
	"os"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/diet-analysis/internal/model"
)

// sniffLen is how much of the stream is inspected for a magic signature.
const sniffLen = 2048

// ErrUnsupportedFileType is returned when a stream is not a PNG, JPEG or PDF,
// or cannot be read.
var ErrUnsupportedFileType = eris.New("staging: unsupported file type")

var extensions = map[string]string{
	model.MIMEPNG:  ".png",
	model.MIMEJPEG: ".jpg",
	model.MIMEPDF:  ".pdf",
}

// Sniff detects the MIME type of r from its leading bytes and rewinds it.
func Sniff(r io.ReadSeeker) (string, error) {
	if r == nil {
		return "", eris.Wrap(ErrUnsupportedFileType, "nil stream")
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", eris.Wrapf(ErrUnsupportedFileType, "seek: %v", err)
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", eris.Wrapf(ErrUnsupportedFileType, "read: %v", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", eris.Wrapf(ErrUnsupportedFileType, "rewind: %v", err)
	}
	if n == 0 {
		return "", eris.Wrap(ErrUnsupportedFileType, "empty stream")
	}

	for m := mimetype.Detect(head[:n]); m != nil; m = m.Parent() {
		if _, ok := extensions[m.String()]; ok {
			return m.String(), nil
		}
	}
	return "", eris.Wrapf(ErrUnsupportedFileType, "detected %s", mimetype.Detect(head[:n]).String())
}

// Stage writes the full content of r to a new temporary file in dir (the OS
// temp dir when empty). The caller owns the file and must Remove it.
func Stage(r io.ReadSeeker, dir string) (*model.StagedFile, error) {
	mime, err := Sniff(r)
	if err != nil {
		return nil, err
	}

	f, err := os.CreateTemp(dir, "staged-*"+extensions[mime])
	if err != nil {
		return nil, eris.Wrap(err, "staging: create temp file")
	}

	n, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(f.Name())
		if copyErr != nil {
			return nil, eris.Wrap(copyErr, "staging: write temp file")
		}
		return nil, eris.Wrap(closeErr, "staging: close temp file")
	}

	zap.L().Debug("staged upload",
		zap.String("path", f.Name()),
		zap.String("mime", mime),
		zap.Int64("bytes", n),
	)
	return &model.StagedFile{Path: f.Name(), MIME: mime, Size: n}, nil
}

// Remove deletes a staged file. A file that is already gone is not an error.
func Remove(f *model.StagedFile) {
	if f == nil || f.Path == "" {
		return
	}
	if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
		zap.L().Warn("staging: remove temp file", zap.String("path", f.Path), zap.Error(err))
		return
	}
	zap.L().Debug("deleted temp file", zap.String("path", f.Path))
}

// With stages r, runs fn with the staged file and removes the file when fn
// returns, including when fn panics.
func With(r io.ReadSeeker, dir string, fn func(*model.StagedFile) error) error {
	f, err := Stage(r, dir)
	if err != nil {
		return err
	}
	defer Remove(f)
	return fn(f)
}
