package userbooks

import (
	"net/http"
	"net/url"

	"github.com/bookhive/bookhive/pkg/auth"
	"github.com/bookhive/bookhive/pkg/errcodes"
	"github.com/bookhive/bookhive/pkg/models"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type handler struct {
	userBookService *Service
}

func requireSession(c echo.Context) (*models.Session, error) {
	sess := auth.SessionFromContext(c)
	if sess == nil {
		return nil, errcodes.Unauthorized("Authentication required")
	}
	return sess, nil
}

// updateJSON is the mobile/API add-or-update endpoint.
func (h *handler) updateJSON(c echo.Context) error {
	ctx := c.Request().Context()
	sess, err := requireSession(c)
	if err != nil {
		return err
	}

	// Bind params.
	params := UpdateBookPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	ub, err := h.userBookService.UpdateBook(ctx, sess, params.Input())
	if err != nil {
		return err
	}

	return errors.WithStack(c.JSON(http.StatusOK, UpdateBookResponse{
		Success: true,
		Message: "Book updated",
		Book:    ub,
	}))
}

// updateForm handles the book page form and sends the browser back to the
// book.
func (h *handler) updateForm(c echo.Context) error {
	ctx := c.Request().Context()
	sess, err := requireSession(c)
	if err != nil {
		return err
	}

	params := UpdateBookPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	ub, err := h.userBookService.UpdateBook(ctx, sess, params.Input())
	if err != nil {
		return err
	}

	return c.Redirect(http.StatusFound, "/books/"+url.PathEscape(ub.HiveID))
}

func (h *handler) removeForm(c echo.Context) error {
	ctx := c.Request().Context()
	sess, err := requireSession(c)
	if err != nil {
		return err
	}

	if err := h.userBookService.RemoveBook(ctx, sess, c.Param("hiveId")); err != nil {
		return err
	}
	return c.Redirect(http.StatusFound, "/")
}

func (h *handler) removeJSON(c echo.Context) error {
	ctx := c.Request().Context()
	sess, err := requireSession(c)
	if err != nil {
		return err
	}

	if err := h.userBookService.RemoveBook(ctx, sess, c.Param("hiveId")); err != nil {
		return err
	}
	return errors.WithStack(c.JSON(http.StatusOK, UpdateBookResponse{
		Success: true,
		Message: "Book removed",
	}))
}

func (h *handler) list(c echo.Context) error {
	ctx := c.Request().Context()
	sess, err := requireSession(c)
	if err != nil {
		return err
	}

	// Bind params.
	params := ListUserBooksQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	books, total, err := h.userBookService.ListUserBooksWithTotal(ctx, ListUserBooksOptions{
		Limit:   &params.Limit,
		Offset:  &params.Offset,
		UserDID: &sess.DID,
		Status:  params.Status,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Success bool               `json:"success"`
		Books   []*models.UserBook `json:"books"`
		Total   int                `json:"total"`
	}{true, books, total}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}
