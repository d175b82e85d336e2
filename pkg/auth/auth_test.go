package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bookhive/bookhive/pkg/binder"
	"github.com/bookhive/bookhive/pkg/config"
	"github.com/bookhive/bookhive/pkg/errcodes"
	"github.com/bookhive/bookhive/pkg/models"
	"github.com/bookhive/bookhive/pkg/oauth"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOAuth struct {
	mu          sync.Mutex
	sessions    map[string]*models.Session
	appRedirect string
	authorized  []string
}

func newFakeOAuth() *fakeOAuth {
	return &fakeOAuth{sessions: map[string]*models.Session{}}
}

func (f *fakeOAuth) Restore(_ context.Context, did string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[did]
	if !ok {
		return nil, errcodes.Unauthorized("Session expired, please log in again.")
	}
	return sess, nil
}

func (f *fakeOAuth) Authorize(_ context.Context, identifier, appRedirect string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authorized = append(f.authorized, identifier)
	f.appRedirect = appRedirect
	return "https://auth.example/authorize?request_uri=urn:1", nil
}

func (f *fakeOAuth) Callback(_ context.Context, state, code, _ string) (*oauth.Login, error) {
	if state != "good" || code == "" {
		return nil, errcodes.Unauthorized("Login expired, please try again.")
	}
	sess := &models.Session{DID: "did:plc:alice", Handle: "alice.test"}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[sess.DID] = sess
	return &oauth.Login{Session: sess, AppRedirect: f.appRedirect}, nil
}

func (f *fakeOAuth) DeleteSession(_ context.Context, did string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, did)
	return nil
}

func (f *fakeOAuth) Metadata() *oauth.ClientMetadata {
	return &oauth.ClientMetadata{ClientID: "https://bookhive.example/client-metadata.json"}
}

type fixture struct {
	e       *echo.Echo
	svc     *Service
	oauth   *fakeOAuth
	mw      *Middleware
	cfg     *config.Config
	synced  chan string
	release chan struct{}
}

func setup(t *testing.T, hook func(f *fixture) PostLoginHook) *fixture {
	t.Helper()
	cfg := config.NewForTest()
	cfg.PostLoginSyncTimeout = 50 * time.Millisecond
	cfg.LoginRequestsPerMinute = 2

	svc, err := NewService(cfg)
	require.NoError(t, err)

	b, err := binder.New()
	require.NoError(t, err)

	e := echo.New()
	e.Binder = b
	e.HTTPErrorHandler = errcodes.NewHandler(nil).Handle

	f := &fixture{e: e, svc: svc, oauth: newFakeOAuth(), cfg: cfg, synced: make(chan string, 1), release: make(chan struct{})}
	f.mw = NewMiddleware(svc, f.oauth)

	var postLogin PostLoginHook
	if hook != nil {
		postLogin = hook(f)
	}
	limiter := RegisterRoutes(e, cfg, svc, f.oauth, f.mw, postLogin)
	t.Cleanup(limiter.Stop)

	e.GET("/me", func(c echo.Context) error {
		return c.String(http.StatusOK, SessionFromContext(c).DID)
	}, f.mw.Authenticate)
	e.GET("/maybe", func(c echo.Context) error {
		if sess := SessionFromContext(c); sess != nil {
			return c.String(http.StatusOK, sess.DID)
		}
		return c.String(http.StatusOK, "anonymous")
	}, f.mw.AuthenticateOptional)

	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) loggedIn(t *testing.T) string {
	t.Helper()
	f.oauth.sessions["did:plc:alice"] = &models.Session{DID: "did:plc:alice", Handle: "alice.test"}
	token, _, err := f.svc.Seal("did:plc:alice")
	require.NoError(t, err)
	return token
}

func TestSealOpen(t *testing.T) {
	t.Parallel()
	f := setup(t, nil)
	now := time.Now()
	f.svc.now = func() time.Time { return now }

	token, exp, err := f.svc.Seal("did:plc:alice")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, "v4.local."))
	assert.Equal(t, now.Add(24*time.Hour), exp)

	did, err := f.svc.Open(token)
	require.NoError(t, err)
	assert.Equal(t, "did:plc:alice", did)

	f.svc.now = func() time.Time { return now.Add(25 * time.Hour) }
	_, err = f.svc.Open(token)
	assert.Error(t, err, "expired tokens are rejected")

	other := config.NewForTest()
	other.CookieSecret = "a-completely-different-cookie-secret!!"
	otherSvc, err := NewService(other)
	require.NoError(t, err)
	_, err = otherSvc.Open(token)
	assert.Error(t, err)
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()
	f := setup(t, nil)
	token := f.loggedIn(t)

	t.Run("cookie", func(tt *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.AddCookie(&http.Cookie{Name: CookieName, Value: token})
		rec := f.do(req)
		assert.Equal(tt, http.StatusOK, rec.Code)
		assert.Equal(tt, "did:plc:alice", rec.Body.String())
	})

	t.Run("bearer", func(tt *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
		rec := f.do(req)
		assert.Equal(tt, http.StatusOK, rec.Code)
	})

	t.Run("missing", func(tt *testing.T) {
		rec := f.do(httptest.NewRequest(http.MethodGet, "/me", nil))
		assert.Equal(tt, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage token", func(tt *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.AddCookie(&http.Cookie{Name: CookieName, Value: "v4.local.nope"})
		rec := f.do(req)
		assert.Equal(tt, http.StatusUnauthorized, rec.Code)
		assert.Contains(tt, rec.Header().Get("Set-Cookie"), "Max-Age=0")
	})
}

func TestAuthenticate_SessionGoneClearsCookie(t *testing.T) {
	t.Parallel()
	f := setup(t, nil)
	token := f.loggedIn(t)
	require.NoError(t, f.oauth.DeleteSession(context.Background(), "did:plc:alice"))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: token})
	rec := f.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("Set-Cookie"), CookieName+"=;")

	req = httptest.NewRequest(http.MethodGet, "/maybe", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: token})
	rec = f.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "anonymous", rec.Body.String())
}

func TestLogin_RedirectsToAuthorizationServer(t *testing.T) {
	t.Parallel()
	f := setup(t, nil)

	form := url.Values{"handle": {"  alice.test "}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := f.do(req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://auth.example/authorize?request_uri=urn:1", rec.Header().Get("Location"))
	assert.Equal(t, []string{"alice.test"}, f.oauth.authorized)
}

func TestLogin_RateLimited(t *testing.T) {
	t.Parallel()
	f := setup(t, nil)

	codes := []int{}
	for i := 0; i < 3; i++ {
		form := url.Values{"handle": {"alice.test"}}
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
		codes = append(codes, f.do(req).Code)
	}
	assert.Equal(t, []int{http.StatusFound, http.StatusFound, http.StatusTooManyRequests}, codes)
}

func TestCallback_SetsCookieAndRunsSync(t *testing.T) {
	t.Parallel()
	f := setup(t, func(f *fixture) PostLoginHook {
		return func(_ context.Context, sess *models.Session) {
			f.synced <- sess.DID
		}
	})

	rec := f.do(httptest.NewRequest(http.MethodGet, "/oauth/callback?state=good&code=c1&iss=https://auth.example", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))

	cookie := rec.Result().Cookies()[0]
	assert.Equal(t, CookieName, cookie.Name)
	did, err := f.svc.Open(cookie.Value)
	require.NoError(t, err)
	assert.Equal(t, "did:plc:alice", did)

	select {
	case got := <-f.synced:
		assert.Equal(t, "did:plc:alice", got)
	default:
		t.Fatal("a quick sync finishes before the redirect")
	}
}

func TestCallback_SlowSyncDoesNotBlockRedirect(t *testing.T) {
	t.Parallel()
	f := setup(t, func(f *fixture) PostLoginHook {
		return func(_ context.Context, _ *models.Session) {
			<-f.release
		}
	})
	defer close(f.release)

	start := time.Now()
	rec := f.do(httptest.NewRequest(http.MethodGet, "/oauth/callback?state=good&code=c1", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCallback_Denied(t *testing.T) {
	t.Parallel()
	f := setup(t, nil)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/oauth/callback?error=access_denied", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login?error=access_denied", rec.Header().Get("Location"))
}

func TestMobileLogin(t *testing.T) {
	t.Parallel()
	f := setup(t, nil)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/mobile/login?handle=alice.test&redirect_uri=https://evil.example/cb", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":false`)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/mobile/login?handle=alice.test&redirect_uri=bookhive://auth", nil))
	require.Equal(t, http.StatusFound, rec.Code)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/oauth/callback?state=good&code=c1", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "bookhive", loc.Scheme)
	assert.Equal(t, "did:plc:alice", loc.Query().Get("did"))
	assert.Empty(t, rec.Result().Cookies(), "mobile logins don't set cookies")

	did, err := f.svc.Open(loc.Query().Get("session"))
	require.NoError(t, err)
	assert.Equal(t, "did:plc:alice", did)
}

func TestRefreshToken(t *testing.T) {
	t.Parallel()
	f := setup(t, nil)
	token := f.loggedIn(t)

	req := httptest.NewRequest(http.MethodPost, "/mobile/refresh-token", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":true`)
	assert.Contains(t, rec.Body.String(), `"did":"did:plc:alice"`)

	rec = f.do(httptest.NewRequest(http.MethodPost, "/mobile/refresh-token", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogout(t *testing.T) {
	t.Parallel()
	f := setup(t, nil)
	token := f.loggedIn(t)

	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: token})
	rec := f.do(req)
	assert.Equal(t, http.StatusFound, rec.Code)

	_, err := f.oauth.Restore(context.Background(), "did:plc:alice")
	assert.Error(t, err)
}

func TestClientMetadata(t *testing.T) {
	t.Parallel()
	f := setup(t, nil)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/client-metadata.json", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "client-metadata.json")
}
