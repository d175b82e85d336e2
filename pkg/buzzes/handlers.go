package buzzes

import (
	"net/http"
	"net/url"

	"github.com/bookhive/bookhive/pkg/auth"
	"github.com/bookhive/bookhive/pkg/errcodes"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type handler struct {
	buzzService *Service
}

func (h *handler) post(c echo.Context) (*CommentResponse, error) {
	ctx := c.Request().Context()
	sess := auth.SessionFromContext(c)
	if sess == nil {
		return nil, errcodes.Unauthorized("Authentication required")
	}

	// Bind params.
	params := CommentPayload{}
	if err := c.Bind(&params); err != nil {
		return nil, errors.WithStack(err)
	}

	bz, err := h.buzzService.PostComment(ctx, sess, CommentInput{
		ParentURI: params.URI,
		ParentCID: params.CID,
		Comment:   params.Comment,
	})
	if err != nil {
		return nil, err
	}
	return &CommentResponse{Success: true, Message: "Comment posted", Comment: bz}, nil
}

func (h *handler) postJSON(c echo.Context) error {
	resp, err := h.post(c)
	if err != nil {
		return err
	}
	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

func (h *handler) postForm(c echo.Context) error {
	resp, err := h.post(c)
	if err != nil {
		return err
	}
	return c.Redirect(http.StatusFound, bookPath(resp.Comment.HiveID))
}

func (h *handler) removeForm(c echo.Context) error {
	ctx := c.Request().Context()
	sess := auth.SessionFromContext(c)
	if sess == nil {
		return errcodes.Unauthorized("Authentication required")
	}

	bz, err := h.buzzService.DeleteComment(ctx, sess, c.Param("rkey"))
	if err != nil {
		return err
	}
	return c.Redirect(http.StatusFound, bookPath(bz.HiveID))
}

func bookPath(hiveID string) string {
	if hiveID == "" {
		return "/"
	}
	return "/books/" + url.PathEscape(hiveID)
}
