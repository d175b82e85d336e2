package books

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutesWithGroup registers the book XRPC methods on the /xrpc
// group.
func RegisterRoutesWithGroup(g *echo.Group, bookService *Service) {
	h := &handler{bookService: bookService}

	g.GET("/buzz.bookhive.searchBooks", h.searchBooks)
	g.GET("/buzz.bookhive.getBook", h.getBook)
	g.GET("/buzz.bookhive.getBookIdentifiers", h.getBookIdentifiers)
}
