package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"

	"qanun/api/internal/render"
)

//go:embed templates/*.html
var templateFS embed.FS

var documentTemplate = template.Must(
	template.New("document.html").Funcs(template.FuncMap{
		"formatDate": func(t time.Time, layout string) string {
			if t.IsZero() {
				return ""
			}
			return t.Format(layout)
		},
	}).ParseFS(templateFS, "templates/document.html"),
)

// TemplateData holds data for document template rendering
type TemplateData struct {
	Title       string
	DocNumber   string
	DocType     string
	Author      string
	UpdatedAt   time.Time
	ContentHTML template.HTML
	Legend      []render.TypeCount
	SpanCount   int
}

// RenderDocumentHTML renders the document template with provided data
func RenderDocumentHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
