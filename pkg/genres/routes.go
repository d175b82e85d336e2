package genres

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutesWithGroup registers the genre XRPC methods on the /xrpc
// group.
func RegisterRoutesWithGroup(g *echo.Group, genreService *Service) {
	h := &handler{genreService: genreService}

	g.GET("/buzz.bookhive.listGenres", h.listGenres)
}
