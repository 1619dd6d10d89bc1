package templates

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	sprig "github.com/Masterminds/sprig/v3"
)

// Renderer formats incoming notifications for display using a configurable
// text template. Sprig helpers are available minus the environment and
// filesystem functions, which have no business in a display format string.
type Renderer struct {
	tmpl *template.Template
}

// DefaultFormat is the display line used when no format is configured.
const DefaultFormat = `[{{ .Type }}] {{ .Title }}{{ if .Message }}: {{ .Message }}{{ end }}`

// NewRenderer compiles the display format. An empty format falls back to
// DefaultFormat.
func NewRenderer(format string) (*Renderer, error) {
	if strings.TrimSpace(format) == "" {
		format = DefaultFormat
	}

	funcs := sprig.TxtFuncMap()
	for _, name := range []string{"env", "expandenv", "readDir", "mustReadDir", "readFile", "mustReadFile", "glob"} {
		delete(funcs, name)
	}

	tmpl, err := template.New("display").Funcs(funcs).Parse(format)
	if err != nil {
		return nil, fmt.Errorf("templates: parse display format: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// Render executes the display template against the given notification value.
func (r *Renderer) Render(data any) (string, error) {
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("templates: render display line: %w", err)
	}
	return buf.String(), nil
}
