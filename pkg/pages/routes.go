package pages

import (
	"github.com/bookhive/bookhive/pkg/auth"
	"github.com/bookhive/bookhive/pkg/books"
	"github.com/bookhive/bookhive/pkg/catalog"
	"github.com/bookhive/bookhive/pkg/genres"
	"github.com/bookhive/bookhive/pkg/jobs"
	"github.com/bookhive/bookhive/pkg/profiles"
	"github.com/bookhive/bookhive/pkg/userbooks"
	"github.com/labstack/echo/v4"
)

// Services are what the pages read from.
type Services struct {
	Books     *books.Service
	Catalog   *catalog.Service
	Genres    *genres.Service
	Jobs      *jobs.Service
	Profiles  *profiles.Service
	UserBooks *userbooks.Service
}

func RegisterRoutes(e *echo.Echo, svcs Services, authMiddleware *auth.Middleware) {
	h := &handler{
		bookService:     svcs.Books,
		catalogService:  svcs.Catalog,
		genreService:    svcs.Genres,
		jobService:      svcs.Jobs,
		profileService:  svcs.Profiles,
		userBookService: svcs.UserBooks,
	}

	optional := authMiddleware.AuthenticateOptional
	e.GET("/", h.home, optional)
	e.GET("/books/:hiveId", h.book, optional)
	e.GET("/profile/:handle", h.profile, optional)
	e.GET("/genres", h.genres, optional)
	e.GET("/genres/:genre", h.genre, optional)
	e.GET("/search", h.search, optional)
	e.GET("/import", h.importPage, optional)
	e.GET("/login", h.login, optional)
}
