package view

import (
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/topoclimb/topoclimb/internal/shared"
	"github.com/topoclimb/topoclimb/web"
)

// Engine renders HTML templates.
type Engine struct {
	templates *template.Template
}

// TemplateData contains values shared across templates.
type TemplateData struct {
	Title         string
	CSRFToken     string
	Flash         *shared.FlashMessage
	CurrentPath   string
	Authenticated bool
	Data          any
}

// NewTemplateData fills the request-scoped fields and pops the pending flash.
func NewTemplateData(r *http.Request, title, csrfToken string, data any) TemplateData {
	td := TemplateData{Title: title, CSRFToken: csrfToken, Data: data}
	if r == nil {
		return td
	}
	td.CurrentPath = r.URL.Path
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		td.Flash = sess.PopFlash()
	}
	_, td.Authenticated = shared.CurrentUserID(r.Context())
	return td
}

// NewEngine parses templates at build-time.
func NewEngine() (*Engine, error) {
	funcMap := template.FuncMap{
		"formatDate": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("02 Jan 2006 15:04")
		},
		"formatDay": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format(time.DateOnly)
		},
		"csrfField": shared.HiddenField,
		"csrfMeta":  shared.MetaTag,
		"add":       func(a, b int) int { return a + b },
	}
	tpl, err := template.New("root").Funcs(funcMap).ParseFS(web.Templates, "templates/layouts/*.html", "templates/partials/*.html", "templates/pages/*.html")
	if err != nil {
		return nil, err
	}
	return &Engine{templates: tpl}, nil
}

// Render executes a named template with TemplateData.
func (e *Engine) Render(w http.ResponseWriter, name string, data TemplateData) error {
	if e == nil {
		return fmt.Errorf("template engine not initialised")
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return e.templates.ExecuteTemplate(w, name, data)
}
