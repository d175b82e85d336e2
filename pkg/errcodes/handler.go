package errcodes

import (
	"net/http"
	"strings"

	"github.com/iancoleman/strcase"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/echo/v4/middleware/logger"
	"github.com/robinjoseph08/golib/errutils"
)

func asError(err error, target **Error) bool {
	return errors.As(err, target)
}

// PageRenderer renders an HTML error page for browser requests.
type PageRenderer func(c echo.Context, status int, message string) error

type Handler struct {
	renderPage PageRenderer
}

func NewHandler(renderPage PageRenderer) *Handler {
	return &Handler{renderPage: renderPage}
}

// Handle is an Echo error handler. The response shape depends on the surface
// the request hit: the JSON API answers {success:false, message}, XRPC answers
// {error, message}, browsers get an HTML page and everything else gets the
// generic error envelope. Errors that aren't HTTP or custom errors are 500s.
func (h *Handler) Handle(err error, c echo.Context) {
	if errutils.IsIgnorableErr(err) {
		logger.FromEchoContext(c).Err(err).Warn("broken pipe")
		return
	}
	if c.Response().Committed {
		return
	}

	httpCode, code, msg := h.classify(err)

	if httpCode == http.StatusInternalServerError {
		logger.FromEchoContext(c).Err(err).Error("server error")
	}

	if err := h.respond(c, httpCode, code, msg); err != nil {
		logger.FromEchoContext(c).Err(errors.WithStack(err)).Error("error handler response error")
	}
}

func (h *Handler) respond(c echo.Context, httpCode int, code, msg string) error {
	path := c.Request().URL.Path
	switch {
	case strings.HasPrefix(path, "/api/"), strings.HasPrefix(path, "/mobile/"):
		return c.JSON(httpCode, map[string]interface{}{
			"success": false,
			"message": msg,
			"code":    code,
		})
	case strings.HasPrefix(path, "/xrpc/"):
		return c.JSON(httpCode, map[string]interface{}{
			"error":   strcase.ToCamel(code),
			"message": msg,
		})
	case h.renderPage != nil && wantsHTML(c.Request()):
		return h.renderPage(c, httpCode, msg)
	}

	return c.JSON(httpCode, map[string]interface{}{
		"error": map[string]interface{}{
			"code":        code,
			"message":     msg,
			"status_code": httpCode,
		},
	})
}

func (h *Handler) classify(err error) (int, string, string) {
	code := ""
	msg := ""
	httpCode := http.StatusInternalServerError

	var he *echo.HTTPError
	if ok := errors.As(err, &he); ok {
		httpCode = he.Code
		if s, ok := he.Message.(string); ok {
			msg = s
		} else {
			msg = http.StatusText(he.Code)
		}
		code = strcase.ToSnake(msg)
	}

	var e *Error
	if ok := errors.As(err, &e); ok {
		httpCode = e.HTTPCode
		code = e.Code
		msg = e.Message
	}

	if httpCode == http.StatusInternalServerError && msg == "" {
		code = "internal_server_error"
		msg = "Internal Server Error"
	}

	return httpCode, code, msg
}

func wantsHTML(req *http.Request) bool {
	return strings.Contains(req.Header.Get(echo.HeaderAccept), echo.MIMETextHTML)
}
