package userbooks

import (
	"github.com/bookhive/bookhive/pkg/auth"
	"github.com/labstack/echo/v4"
)

// RegisterRoutes registers the library write endpoints: the JSON API under
// /api and the form targets used by pages.
func RegisterRoutes(e *echo.Echo, userBookService *Service, authMiddleware *auth.Middleware) {
	h := &handler{userBookService: userBookService}

	api := e.Group("/api", authMiddleware.Authenticate)
	api.POST("/update-book", h.updateJSON)
	api.GET("/books", h.list)
	api.DELETE("/books/:hiveId", h.removeJSON)

	e.POST("/books", h.updateForm, authMiddleware.Authenticate)
	e.DELETE("/books/:hiveId", h.removeForm, authMiddleware.Authenticate)
}
