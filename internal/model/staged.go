package model

// Supported MIME types for uploaded documents.
const (
	MIMEPNG  = "image/png"
	MIMEJPEG = "image/jpeg"
	MIMEPDF  = "application/pdf"
)

// StagedFile is an uploaded document materialized on local disk.
type StagedFile struct {
	Path string
	MIME string
	Size int64
}

// IsImage reports whether the staged file is a PNG or JPEG image.
func (f *StagedFile) IsImage() bool {
	return f.MIME == MIMEPNG || f.MIME == MIMEJPEG
}
