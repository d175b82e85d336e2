// Package pages serves the server-rendered HTML surface.
package pages

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/bookhive/bookhive/pkg/models"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

//go:embed templates/*.html
var templateFS embed.FS

const layoutName = "layout.html"

var pageNames = []string{
	"home", "book", "profile", "genres", "genre", "import", "search", "login", "error",
}

// Renderer is an echo.Renderer over the embedded templates. Each page is its
// own clone of the layout so that "content" blocks don't collide.
type Renderer struct {
	pages map[string]*template.Template
}

var funcs = template.FuncMap{
	"stars": func(v float64) string {
		full := int(v)
		out := strings.Repeat("★", full)
		if v-float64(full) >= 0.5 {
			out += "½"
		}
		return out
	},
	"date": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("Jan 2, 2006")
	},
	"deref": func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	},
	"pathEscape": url.PathEscape,
	"statusLabel": func(s string) string {
		switch s {
		case models.StatusWantToRead:
			return "Want to read"
		case models.StatusReading:
			return "Reading"
		case models.StatusFinished:
			return "Finished"
		case models.StatusAbandoned:
			return "Abandoned"
		case models.StatusOwned:
			return "Owned"
		}
		return s
	},
	"statuses": func() []string {
		return []string{models.StatusWantToRead, models.StatusReading, models.StatusFinished, models.StatusAbandoned, models.StatusOwned}
	},
	"add": func(a, b int) int { return a + b },
}

func NewRenderer() (*Renderer, error) {
	layout, err := template.New(layoutName).Funcs(funcs).ParseFS(templateFS, "templates/"+layoutName)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	r := &Renderer{pages: make(map[string]*template.Template, len(pageNames))}
	for _, name := range pageNames {
		t, err := layout.Clone()
		if err != nil {
			return nil, errors.WithStack(err)
		}
		if _, err := t.ParseFS(templateFS, "templates/"+name+".html"); err != nil {
			return nil, errors.Wrapf(err, "parse %s", name)
		}
		r.pages[name] = t
	}
	return r, nil
}

func (r *Renderer) Render(w io.Writer, name string, data interface{}, _ echo.Context) error {
	t, ok := r.pages[name]
	if !ok {
		return errors.New(fmt.Sprintf("unknown page %q", name))
	}
	return errors.WithStack(t.ExecuteTemplate(w, layoutName, data))
}
