package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"

	"qanun/api/internal/marker"
	"qanun/api/internal/render"
)

// DataStore loads what an export needs.
type DataStore interface {
	GetDocument(ctx context.Context, id string) (DocumentInfo, error)
	// GetDocumentContent returns the marker-embedded text at version.
	GetDocumentContent(ctx context.Context, documentID, version string) (string, error)
}

// Uploader stores finished artifacts and returns a download URL.
type Uploader interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

type Options struct {
	ChromePath string
	PandocPath string
}

type Service struct {
	store    DataStore
	uploader Uploader
	opts     Options
}

// NewService creates an export service. uploader may be nil.
func NewService(store DataStore, uploader Uploader, opts Options) *Service {
	if opts.PandocPath == "" {
		opts.PandocPath = "pandoc"
	}
	return &Service{store: store, uploader: uploader, opts: opts}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	docInfo, err := s.store.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	doc, err := s.store.GetDocumentContent(ctx, req.DocumentID, req.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}
	text, spans, err := marker.Decode(doc)
	if err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}

	var result *Result
	switch req.Format {
	case FormatMarkers:
		result = &Result{
			Data:     []byte(doc),
			Filename: sanitizeFilename(docInfo.Title) + ".txt",
			MimeType: "text/plain; charset=utf-8",
		}
	case FormatJSON:
		result, err = exportJSON(docInfo, text, spans)
	case FormatHTML, FormatPDF, FormatDOCX:
		html, renderErr := RenderDocumentHTML(templateData(docInfo, text, spans))
		if renderErr != nil {
			return nil, fmt.Errorf("render template: %w", renderErr)
		}
		switch req.Format {
		case FormatPDF:
			result, err = exportPDF(ctx, html, docInfo.Title, s.opts.ChromePath)
		case FormatDOCX:
			result, err = exportDOCX(ctx, html, docInfo.Title, s.opts.PandocPath)
		default:
			result = &Result{
				Data:     []byte(html),
				Filename: sanitizeFilename(docInfo.Title) + ".html",
				MimeType: "text/html; charset=utf-8",
			}
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
	if err != nil {
		return nil, err
	}

	if req.Upload {
		if s.uploader == nil {
			return nil, ErrStorageUnavailable
		}
		url, err := s.uploader.Put(ctx, objectKey(req.DocumentID, result.Filename), result.Data, result.MimeType)
		if err != nil {
			return nil, fmt.Errorf("upload export: %w", err)
		}
		result.URL = url
	}
	return result, nil
}

func templateData(info DocumentInfo, text string, spans []marker.Span) TemplateData {
	return TemplateData{
		Title:       info.Title,
		DocNumber:   info.DocNumber,
		DocType:     info.DocType,
		Author:      info.UpdatedBy,
		UpdatedAt:   info.UpdatedAt,
		ContentHTML: template.HTML(render.Document(text, spans, render.Options{})),
		Legend:      render.Legend(spans),
		SpanCount:   len(spans),
	}
}

type jsonExport struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Text     string        `json:"text"`
	Entities []marker.Span `json:"entities"`
}

func exportJSON(info DocumentInfo, text string, spans []marker.Span) (*Result, error) {
	if spans == nil {
		spans = []marker.Span{}
	}
	data, err := json.MarshalIndent(jsonExport{ID: info.ID, Title: info.Title, Text: text, Entities: spans}, "", "  ")
	if err != nil {
		return nil, errors.Join(ErrContentUnavailable, err)
	}
	return &Result{
		Data:     data,
		Filename: sanitizeFilename(info.Title) + ".json",
		MimeType: "application/json",
	}, nil
}
