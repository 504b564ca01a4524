// Package export renders an annotated document, with its discussion threads,
// as standalone HTML or as PDF.
package export

import (
	"errors"
	"time"

	"marginalia/internal/comments"
	"marginalia/internal/doc"
)

// Format represents the export output format
type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

// ParseFormat accepts the format names used in query strings.
func ParseFormat(s string) (Format, bool) {
	switch Format(s) {
	case FormatHTML, "":
		return FormatHTML, true
	case FormatPDF:
		return FormatPDF, true
	}
	return "", false
}

// Request contains parameters for an export operation
type Request struct {
	DocumentID     string
	Format         Format
	IncludeThreads bool
}

// Document is the content handed to the renderer.
type Document struct {
	ID        string
	Title     string
	Content   doc.SerializedNode
	UpdatedBy string
	UpdatedAt time.Time
	Comments  []comments.Item
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrContentUnavailable indicates document content could not be loaded for export.
	ErrContentUnavailable = errors.New("export content unavailable")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	ErrUnsupportedFormat    = errors.New("unsupported export format")
)
