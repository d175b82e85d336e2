package pages

import (
	"net/http"
	"strconv"

	"github.com/bookhive/bookhive/pkg/auth"
	"github.com/bookhive/bookhive/pkg/books"
	"github.com/bookhive/bookhive/pkg/catalog"
	"github.com/bookhive/bookhive/pkg/genres"
	"github.com/bookhive/bookhive/pkg/jobs"
	"github.com/bookhive/bookhive/pkg/models"
	"github.com/bookhive/bookhive/pkg/profiles"
	"github.com/bookhive/bookhive/pkg/userbooks"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

const (
	homeShelfLimit    = 12
	homeActivityLimit = 20
	homeRecentLimit   = 12
	searchLimit       = 25
	genrePageSize     = 50
	profileShelfLimit = 200
)

// page is what every template gets. Data is page-specific.
type page struct {
	Title   string
	Query   string
	Session *models.Session
	Data    interface{}
}

type handler struct {
	bookService     *books.Service
	catalogService  *catalog.Service
	genreService    *genres.Service
	jobService      *jobs.Service
	profileService  *profiles.Service
	userBookService *userbooks.Service
}

func (h *handler) render(c echo.Context, name, title string, data interface{}) error {
	return errors.WithStack(c.Render(http.StatusOK, name, page{
		Title:   title,
		Query:   c.QueryParam("q"),
		Session: auth.SessionFromContext(c),
		Data:    data,
	}))
}

func (h *handler) home(c echo.Context) error {
	ctx := c.Request().Context()
	data := struct {
		Mine     []*models.UserBook
		Activity []*models.UserBook
		Recent   []*models.HiveBook
	}{}

	if sess := auth.SessionFromContext(c); sess != nil {
		limit := homeShelfLimit
		mine, err := h.userBookService.ListUserBooks(ctx, userbooks.ListUserBooksOptions{Limit: &limit, UserDID: &sess.DID})
		if err != nil {
			return err
		}
		activity, err := h.userBookService.FriendActivity(ctx, sess.DID, homeActivityLimit)
		if err != nil {
			return err
		}
		data.Mine, data.Activity = mine, activity
	}

	limit := homeRecentLimit
	recent, err := h.catalogService.ListBooks(ctx, catalog.ListBooksOptions{Limit: &limit})
	if err != nil {
		return err
	}
	data.Recent = recent

	return h.render(c, "home", "", data)
}

func (h *handler) book(c echo.Context) error {
	ctx := c.Request().Context()
	viewer := ""
	if sess := auth.SessionFromContext(c); sess != nil {
		viewer = sess.DID
	}

	detail, err := h.bookService.Detail(ctx, c.Param("hiveId"), viewer)
	if err != nil {
		return err
	}
	return h.render(c, "book", detail.Book.Title, detail)
}

func (h *handler) profile(c echo.Context) error {
	ctx := c.Request().Context()
	viewer := ""
	if sess := auth.SessionFromContext(c); sess != nil {
		viewer = sess.DID
	}

	view, err := h.profileService.Profile(ctx, c.Param("handle"), viewer, profileShelfLimit, 0)
	if err != nil {
		return err
	}
	return h.render(c, "profile", "@"+view.Profile.Handle, struct{ View *profiles.View }{view})
}

func (h *handler) genres(c echo.Context) error {
	ctx := c.Request().Context()
	list, err := h.genreService.ListGenres(ctx, genres.ListGenresOptions{MinBooks: 1})
	if err != nil {
		return err
	}
	return h.render(c, "genres", "Genres", struct{ Genres []*genres.Genre }{list})
}

func (h *handler) genre(c echo.Context) error {
	ctx := c.Request().Context()
	name := c.Param("genre")
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}

	list, total, err := h.genreService.Books(ctx, name, genrePageSize, offset)
	if err != nil {
		return err
	}
	next := 0
	if offset+len(list) < total {
		next = offset + len(list)
	}
	return h.render(c, "genre", name, struct {
		Genre      string
		Books      []*models.HiveBook
		Total      int
		NextOffset int
	}{name, list, total, next})
}

func (h *handler) search(c echo.Context) error {
	ctx := c.Request().Context()
	q := c.QueryParam("q")
	data := struct{ Result *books.SearchResult }{}
	if q != "" {
		res, err := h.bookService.SearchBooks(ctx, q, searchLimit, 0)
		if err != nil {
			return err
		}
		data.Result = res
	}
	return h.render(c, "search", "Search", data)
}

// importPage shows the upload form and the state of the user's latest
// import.
func (h *handler) importPage(c echo.Context) error {
	ctx := c.Request().Context()
	sess := auth.SessionFromContext(c)
	if sess == nil {
		return c.Redirect(http.StatusFound, "/login")
	}

	latest, err := h.jobService.LatestJob(ctx, models.JobTypeImport, sess.DID)
	if err != nil {
		return err
	}
	data := struct{ Job *models.Job }{Job: latest}
	if latest != nil {
		jobs.Redact(latest)
	}
	return h.render(c, "import", "Import", data)
}

func (h *handler) login(c echo.Context) error {
	if auth.SessionFromContext(c) != nil {
		return c.Redirect(http.StatusFound, "/")
	}
	return h.render(c, "login", "Log in", nil)
}

// RenderError renders the HTML error page. It is the error handler's page
// renderer for browser requests.
func RenderError(c echo.Context, status int, message string) error {
	return errors.WithStack(c.Render(status, "error", page{
		Title:   http.StatusText(status),
		Session: auth.SessionFromContext(c),
		Data: struct {
			Status  int
			Message string
		}{status, message},
	}))
}
