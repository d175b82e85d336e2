package auth

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bookhive/bookhive/pkg/errcodes"
	"github.com/bookhive/bookhive/pkg/models"
	"github.com/bookhive/bookhive/pkg/oauth"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
)

// CookieName is the name of the session cookie.
const CookieName = "bookhive_session"

// OAuthClient is the part of the OAuth client the handlers drive.
type OAuthClient interface {
	SessionRestorer
	Authorize(ctx context.Context, identifier, appRedirect string) (string, error)
	Callback(ctx context.Context, state, code, issuer string) (*oauth.Login, error)
	DeleteSession(ctx context.Context, did string) error
	Metadata() *oauth.ClientMetadata
}

// PostLoginHook runs after a browser login completes. It gets a context that
// outlives the request.
type PostLoginHook func(ctx context.Context, sess *models.Session)

type handler struct {
	authService     *Service
	oauth           OAuthClient
	postLogin       PostLoginHook
	postLoginWait   time.Duration
	mobileAppScheme string
}

func (h *handler) setSessionCookie(c echo.Context, token string, exp time.Time) {
	c.SetCookie(&http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  exp,
		MaxAge:   int(time.Until(exp).Seconds()),
		HttpOnly: true,
		Secure:   secureRequest(c),
		SameSite: http.SameSiteLaxMode,
	})
}

// login starts the OAuth flow for the submitted handle.
func (h *handler) login(c echo.Context) error {
	ctx := c.Request().Context()

	params := LoginPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	redirect, err := h.oauth.Authorize(ctx, params.Handle, "")
	if err != nil {
		return err
	}
	return c.Redirect(http.StatusFound, redirect)
}

// callback finishes the OAuth flow. Browser logins get a cookie and land on
// the home page; mobile logins are handed back to the app with the token.
func (h *handler) callback(c echo.Context) error {
	ctx := c.Request().Context()
	log := logger.FromContext(ctx)

	if e := c.QueryParam("error"); e != "" {
		log.Info("authorization denied", logger.Data{"error": e, "description": c.QueryParam("error_description")})
		return c.Redirect(http.StatusFound, "/login?error="+url.QueryEscape(e))
	}

	login, err := h.oauth.Callback(ctx, c.QueryParam("state"), c.QueryParam("code"), c.QueryParam("iss"))
	if err != nil {
		return err
	}
	sess := login.Session

	token, exp, err := h.authService.Seal(sess.DID)
	if err != nil {
		return err
	}
	log.Info("logged in", logger.Data{"did": sess.DID, "handle": sess.Handle})

	if login.AppRedirect != "" {
		q := url.Values{
			"session": {token},
			"did":     {sess.DID},
			"handle":  {sess.Handle},
		}
		return c.Redirect(http.StatusFound, login.AppRedirect+"?"+q.Encode())
	}

	h.setSessionCookie(c, token, exp)
	h.runPostLogin(ctx, sess)
	return c.Redirect(http.StatusFound, "/")
}

// runPostLogin gives the sync a head start so the first page already shows
// the user's books, but never holds the redirect longer than postLoginWait.
func (h *handler) runPostLogin(ctx context.Context, sess *models.Session) {
	if h.postLogin == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.postLogin(context.WithoutCancel(ctx), sess)
	}()

	timer := time.NewTimer(h.postLoginWait)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		logger.FromContext(ctx).Info("post-login sync still running", logger.Data{"did": sess.DID})
	}
}

func (h *handler) mobileLogin(c echo.Context) error {
	ctx := c.Request().Context()

	params := MobileLoginQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}
	u, err := url.Parse(params.RedirectURI)
	if err != nil || !strings.EqualFold(u.Scheme, h.mobileAppScheme) {
		return errcodes.ValidationError("redirect_uri must use the " + h.mobileAppScheme + ": scheme.")
	}

	redirect, err := h.oauth.Authorize(ctx, params.Handle, params.RedirectURI)
	if err != nil {
		return err
	}
	return c.Redirect(http.StatusFound, redirect)
}

// refreshToken reissues a mobile token. Authenticate has already restored
// (and if needed refreshed) the OAuth session behind it.
func (h *handler) refreshToken(c echo.Context) error {
	sess := SessionFromContext(c)
	if sess == nil {
		return errcodes.Unauthorized("Authentication required")
	}

	token, exp, err := h.authService.Seal(sess.DID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, TokenResponse{
		Success:   true,
		Token:     token,
		ExpiresAt: exp,
		DID:       sess.DID,
		Handle:    sess.Handle,
	})
}

func (h *handler) logout(c echo.Context) error {
	ctx := c.Request().Context()

	if sealed, ok := bearerOrCookie(c); ok {
		if did, err := h.authService.Open(sealed); err == nil {
			if err := h.oauth.DeleteSession(ctx, did); err != nil {
				return err
			}
		}
	}
	clearCookie(c)

	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer ") {
		return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "message": "Logged out"})
	}
	return c.Redirect(http.StatusFound, "/")
}

func (h *handler) clientMetadata(c echo.Context) error {
	return c.JSON(http.StatusOK, h.oauth.Metadata())
}
