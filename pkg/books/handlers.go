package books

import (
	"net/http"

	"github.com/bookhive/bookhive/pkg/auth"
	"github.com/bookhive/bookhive/pkg/catalog"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type handler struct {
	bookService *Service
}

// searchBooks is buzz.bookhive.searchBooks.
func (h *handler) searchBooks(c echo.Context) error {
	ctx := c.Request().Context()

	// Bind params.
	params := SearchBooksQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	res, err := h.bookService.SearchBooks(ctx, params.Q, params.Limit, params.Offset)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, res))
}

// getBook is buzz.bookhive.getBook.
func (h *handler) getBook(c echo.Context) error {
	ctx := c.Request().Context()

	params := GetBookQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	viewer := ""
	if sess := auth.SessionFromContext(c); sess != nil {
		viewer = sess.DID
	}

	detail, err := h.bookService.Detail(ctx, params.ID, viewer)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, detail))
}

// getBookIdentifiers is buzz.bookhive.getBookIdentifiers.
func (h *handler) getBookIdentifiers(c echo.Context) error {
	ctx := c.Request().Context()

	params := GetBookIdentifiersQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	ids, err := h.bookService.Identifiers(ctx, catalog.Lookup{
		HiveID:      params.HiveID,
		ISBN10:      params.ISBN,
		ISBN13:      params.ISBN13,
		GoodreadsID: params.GoodreadsID,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, map[string]interface{}{
		"hiveId":      ids.HiveID,
		"identifiers": ids,
	}))
}
