package jobs

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutesWithGroup registers job routes on a group that already
// requires a session. Users only ever see their own jobs.
func RegisterRoutesWithGroup(g *echo.Group, jobService *Service) {
	h := &handler{jobService: jobService}

	g.GET("", h.list)
	g.GET("/:id", h.retrieve)
}
