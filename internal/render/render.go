// Package render produces the final standalone HTML page from
// transformed summary content.
package render

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"time"

	"github.com/recapd/recapd-server/internal/pipeline"
)

//go:embed template.html
var pageHTML string

var page = template.Must(template.New("summary").Parse(pageHTML))

// Renderer writes summary documents as self-contained HTML pages.
type Renderer struct {
	now func() time.Time
}

func NewRenderer() *Renderer {
	return &Renderer{now: time.Now}
}

type pageData struct {
	Title       string
	Content     template.HTML
	GeneratedAt string
}

// Render executes the page template. Content is model output meant for
// the reader and is inserted unescaped; the title is escaped as usual.
func (r *Renderer) Render(doc pipeline.Document) ([]byte, error) {
	var buf bytes.Buffer
	data := pageData{
		Title:       doc.Title,
		Content:     template.HTML(doc.Content),
		GeneratedAt: r.now().UTC().Format("January 2, 2006"),
	}
	if err := page.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render summary page: %w", err)
	}
	return buf.Bytes(), nil
}
