package auth

import (
	"github.com/bookhive/bookhive/pkg/config"
	"github.com/bookhive/bookhive/pkg/ratelimit"
	"github.com/labstack/echo/v4"
)

// RegisterRoutes registers the OAuth login surface. The returned limiter
// should be stopped on shutdown.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, authService *Service, oauthClient OAuthClient, mw *Middleware, postLogin PostLoginHook) *ratelimit.KeyedRateLimiter {
	h := &handler{
		authService:     authService,
		oauth:           oauthClient,
		postLogin:       postLogin,
		postLoginWait:   cfg.PostLoginSyncTimeout,
		mobileAppScheme: cfg.MobileAppScheme,
	}

	limiter := ratelimit.PerMinute(int(cfg.LoginRequestsPerMinute))

	e.POST("/login", h.login, limiter.Middleware())
	e.GET("/oauth/callback", h.callback)
	e.POST("/logout", h.logout)
	e.GET("/client-metadata.json", h.clientMetadata)

	mobile := e.Group("/mobile")
	mobile.GET("/login", h.mobileLogin, limiter.Middleware())
	mobile.POST("/refresh-token", h.refreshToken, mw.Authenticate)

	return limiter
}
