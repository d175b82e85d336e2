package buzzes

import (
	"github.com/bookhive/bookhive/pkg/auth"
	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo, buzzService *Service, authMiddleware *auth.Middleware) {
	h := &handler{buzzService: buzzService}

	e.POST("/api/update-comment", h.postJSON, authMiddleware.Authenticate)
	e.POST("/comments", h.postForm, authMiddleware.Authenticate)
	e.DELETE("/comments/:rkey", h.removeForm, authMiddleware.Authenticate)
}
