package follows

import (
	"net/http"

	"github.com/bookhive/bookhive/pkg/auth"
	"github.com/bookhive/bookhive/pkg/errcodes"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type handler struct {
	followService *Service
}

func (h *handler) follow(c echo.Context) error {
	ctx := c.Request().Context()
	sess := auth.SessionFromContext(c)
	if sess == nil {
		return errcodes.Unauthorized("Authentication required")
	}

	// Bind params.
	params := FollowPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	if err := h.followService.Follow(ctx, sess, params.DID); err != nil {
		return err
	}

	return errors.WithStack(c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Followed",
	}))
}

// followForm is the profile page's follow button.
func (h *handler) followForm(c echo.Context) error {
	ctx := c.Request().Context()
	sess := auth.SessionFromContext(c)
	if sess == nil {
		return errcodes.Unauthorized("Authentication required")
	}

	params := FollowPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	if err := h.followService.Follow(ctx, sess, params.DID); err != nil {
		return err
	}
	return c.Redirect(http.StatusFound, "/profile/"+params.DID)
}
