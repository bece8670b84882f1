// Package views renders the HTML status page for the node.
package views

import (
	"embed"
	"errors"
	"html/template"
	"io"
	"io/fs"

	"wotnode-gateway/internal/telemetry"
)

//go:embed templates
var viewsFS embed.FS

var statusTmpl *template.Template

func loadTemplatesFromFS(fsys fs.FS, dir string) error {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		return err
	}
	t, err := template.ParseFS(sub, "*.html", "partials/*.html")
	if err != nil {
		return err
	}
	statusTmpl = t
	return nil
}

// LoadTemplates parses the embedded templates. Call it before serving.
func LoadTemplates() error {
	return loadTemplatesFromFS(viewsFS, "templates")
}

type StatusData struct {
	NodeID string
	// Snapshot is nil until the first reading arrives.
	Snapshot       *telemetry.Snapshot
	Stale          bool
	Running        bool
	Suspended      bool
	RefreshSeconds int
}

func RenderStatus(w io.Writer, data StatusData) error {
	if statusTmpl == nil {
		return errors.New("status template not loaded: call views.LoadTemplates during startup")
	}
	if data.RefreshSeconds <= 0 {
		data.RefreshSeconds = 10
	}
	return statusTmpl.ExecuteTemplate(w, "status.html", data)
}
