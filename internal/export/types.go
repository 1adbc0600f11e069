// Package export renders annotated documents for download: annotated HTML,
// PDF through headless Chrome, DOCX through pandoc, the raw marker text, or
// a JSON span dump.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatHTML    Format = "html"
	FormatPDF     Format = "pdf"
	FormatDOCX    Format = "docx"
	FormatMarkers Format = "markers"
	FormatJSON    Format = "json"
)

// ParseFormat maps a query value onto a Format. Empty means html.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case "":
		return FormatHTML, nil
	case FormatHTML, FormatPDF, FormatDOCX, FormatMarkers, FormatJSON:
		return f, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Request contains parameters for an export operation
type Request struct {
	DocumentID string
	Version    string // "" or "latest" for head, otherwise a commit hash
	Format     Format
	Upload     bool
}

// DocumentInfo is the metadata printed in the export header.
type DocumentInfo struct {
	ID        string
	Title     string
	DocNumber string
	DocType   string
	UpdatedBy string
	UpdatedAt time.Time
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
	// URL is set when the artifact was uploaded to object storage.
	URL string
}

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrContentUnavailable indicates document content could not be loaded for export.
	ErrContentUnavailable = errors.New("export content unavailable")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
	ErrStorageUnavailable    = errors.New("export storage not configured")
)
