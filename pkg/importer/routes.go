package importer

import (
	"github.com/bookhive/bookhive/pkg/auth"
	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo, importService *Service, authMiddleware *auth.Middleware) {
	h := &handler{importService: importService}

	e.POST("/import", h.importForm, authMiddleware.Authenticate)
	e.POST("/api/import", h.importJSON, authMiddleware.Authenticate)
}
