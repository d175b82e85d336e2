package export

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/bookhive/bookhive/pkg/errcodes"
	"github.com/labstack/echo/v4"
	"github.com/robinjoseph08/golib/logger"
)

type handler struct {
	exportService *Service
	token         string
}

// requireToken checks the admin bearer token. With no token configured the
// endpoint is disabled.
func (h *handler) requireToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.token == "" {
			return errcodes.NotFound("Export")
		}
		got, ok := strings.CutPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
			return errcodes.Unauthorized("Invalid admin token")
		}
		return next(c)
	}
}

func (h *handler) export(c echo.Context) error {
	ctx := c.Request().Context()
	name := fmt.Sprintf("bookhive-export-%s.tar.gz", h.exportService.now().UTC().Format("20060102-150405"))

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "application/gzip")
	res.Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	res.WriteHeader(http.StatusOK)

	// Headers are sent by now, so a failure can only be logged.
	if _, err := h.exportService.Write(ctx, res); err != nil {
		logger.FromContext(ctx).Err(err).Error("export failed")
	}
	return nil
}
