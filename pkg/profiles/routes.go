package profiles

import (
	"github.com/labstack/echo/v4"
)

func RegisterRoutesWithGroup(g *echo.Group, profileService *Service) {
	h := &handler{profileService: profileService}

	g.GET("/buzz.bookhive.getProfile", h.getProfile)
}
