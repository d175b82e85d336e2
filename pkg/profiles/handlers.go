package profiles

import (
	"net/http"

	"github.com/bookhive/bookhive/pkg/auth"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type handler struct {
	profileService *Service
}

// getProfile is buzz.bookhive.getProfile.
func (h *handler) getProfile(c echo.Context) error {
	ctx := c.Request().Context()

	// Bind params.
	params := GetProfileQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	viewer := ""
	if sess := auth.SessionFromContext(c); sess != nil {
		viewer = sess.DID
	}

	view, err := h.profileService.Profile(ctx, params.Actor, viewer, params.Limit, params.Offset)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, view))
}
