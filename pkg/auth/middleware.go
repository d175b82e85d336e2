package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/bookhive/bookhive/pkg/errcodes"
	"github.com/bookhive/bookhive/pkg/models"
	"github.com/labstack/echo/v4"
	"github.com/robinjoseph08/golib/logger"
)

// SessionRestorer loads (and if needed refreshes) a user's OAuth session.
type SessionRestorer interface {
	Restore(ctx context.Context, did string) (*models.Session, error)
}

// Middleware provides authentication middleware.
type Middleware struct {
	authService *Service
	sessions    SessionRestorer
}

func NewMiddleware(authService *Service, sessions SessionRestorer) *Middleware {
	return &Middleware{
		authService: authService,
		sessions:    sessions,
	}
}

// bearerOrCookie returns the sealed token from the Authorization header
// (mobile clients) or the session cookie (browsers).
func bearerOrCookie(c echo.Context) (string, bool) {
	if h := c.Request().Header.Get(echo.HeaderAuthorization); h != "" {
		tok, ok := strings.CutPrefix(h, "Bearer ")
		return strings.TrimSpace(tok), ok && tok != ""
	}
	cookie, err := c.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}

// restore resolves the request's session. The second return is false when
// the request carried a token that no longer works.
func (m *Middleware) restore(c echo.Context) (*models.Session, bool) {
	sealed, ok := bearerOrCookie(c)
	if !ok {
		return nil, true
	}
	did, err := m.authService.Open(sealed)
	if err != nil {
		return nil, false
	}
	sess, err := m.sessions.Restore(c.Request().Context(), did)
	if err != nil {
		logger.FromContext(c.Request().Context()).Err(err).Info("failed to restore session", logger.Data{"did": did})
		return nil, false
	}
	return sess, true
}

// Authenticate requires a working session and stores it in the context
// under "session". A session that can't be restored is cleared and the
// request is rejected with 401.
func (m *Middleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		sess, valid := m.restore(c)
		if !valid {
			clearCookie(c)
			return errcodes.Unauthorized("Session expired, please log in again.")
		}
		if sess == nil {
			return errcodes.Unauthorized("Authentication required")
		}
		setSession(c, sess)
		return next(c)
	}
}

// AuthenticateOptional attaches the session when there is one but lets
// anonymous requests through. Broken sessions are cleared.
func (m *Middleware) AuthenticateOptional(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		sess, valid := m.restore(c)
		if !valid {
			clearCookie(c)
		}
		if sess != nil {
			setSession(c, sess)
		}
		return next(c)
	}
}

func setSession(c echo.Context, sess *models.Session) {
	c.Set("session", sess)
	ctx := c.Request().Context()
	log := logger.FromContext(ctx).Root(logger.Data{"did": sess.DID})
	c.SetRequest(c.Request().WithContext(log.WithContext(ctx)))
}

// SessionFromContext returns the request's session, or nil for anonymous
// requests.
func SessionFromContext(c echo.Context) *models.Session {
	sess, _ := c.Get("session").(*models.Session)
	return sess
}

func secureRequest(c echo.Context) bool {
	return c.Request().TLS != nil || c.Request().Header.Get("X-Forwarded-Proto") == "https"
}

func clearCookie(c echo.Context) {
	if _, err := c.Cookie(CookieName); err != nil {
		return
	}
	c.SetCookie(&http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secureRequest(c),
		SameSite: http.SameSiteLaxMode,
	})
}
