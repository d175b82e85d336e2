package follows

import (
	"github.com/bookhive/bookhive/pkg/auth"
	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo, followService *Service, authMiddleware *auth.Middleware) {
	h := &handler{followService: followService}

	e.POST("/api/follow", h.follow, authMiddleware.Authenticate)
	e.POST("/follow", h.followForm, authMiddleware.Authenticate)
}
