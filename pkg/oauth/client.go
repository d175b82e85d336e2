// Package oauth implements the AT Protocol OAuth client: authorization
// server discovery, pushed authorization requests with PKCE, DPoP-bound
// tokens and refresh. Pending authorizations and sessions live in the KV
// store.
package oauth

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bookhive/bookhive/pkg/atproto"
	"github.com/bookhive/bookhive/pkg/config"
	"github.com/bookhive/bookhive/pkg/errcodes"
	"github.com/bookhive/bookhive/pkg/kvstore"
	"github.com/bookhive/bookhive/pkg/models"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/segmentio/encoding/json"
	"golang.org/x/sync/singleflight"
)

const (
	// Scope is requested for every login.
	Scope = "atproto transition:generic"

	stateKeyPrefix   = "auth_state:"
	sessionKeyPrefix = "auth_session:"

	stateTTL = 10 * time.Minute
	// Refresh tokens outlive the browser cookie; the stored session is
	// dropped once nobody has refreshed it for this long.
	sessionStoreTTL = 60 * 24 * time.Hour
)

// Error is an OAuth error response.
type Error struct {
	Status      int    `json:"-"`
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *Error) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("oauth %d %s", e.Status, e.Code)
	}
	return fmt.Sprintf("oauth %d %s: %s", e.Status, e.Code, e.Description)
}

// ServerMetadata is the subset of RFC 8414 metadata the client needs.
type ServerMetadata struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	PAREndpoint           string `json:"pushed_authorization_request_endpoint"`
}

type protectedResource struct {
	AuthorizationServers []string `json:"authorization_servers"`
}

// ClientMetadata is served at /client-metadata.json.
type ClientMetadata struct {
	ClientID                string   `json:"client_id"`
	ClientName              string   `json:"client_name"`
	ClientURI               string   `json:"client_uri"`
	RedirectURIs            []string `json:"redirect_uris"`
	Scope                   string   `json:"scope"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	ApplicationType         string   `json:"application_type"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	DPoPBoundAccessTokens   bool     `json:"dpop_bound_access_tokens"`
}

// pendingAuth is what the callback needs to finish a login.
type pendingAuth struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	PDSURL      string `json:"pds_url"`
	Issuer      string `json:"issuer"`
	TokenURL    string `json:"token_url"`
	Verifier    string `json:"verifier"`
	DPoPKey     string `json:"dpop_key"`
	DPoPNonce   string `json:"dpop_nonce"`
	AppRedirect string `json:"app_redirect,omitempty"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
	Sub          string `json:"sub"`
}

// Login is a completed authorization.
type Login struct {
	Session *models.Session
	// AppRedirect is set when the login started from /mobile/login.
	AppRedirect string
}

type Client struct {
	httpClient  *http.Client
	resolver    *atproto.Resolver
	kv          *kvstore.Store
	publicURL   string
	clientID    string
	redirectURI string
	refreshes   singleflight.Group
	now         func() time.Time
}

func NewClient(cfg *config.Config, httpClient *http.Client, resolver *atproto.Resolver, kv *kvstore.Store) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	publicURL := strings.TrimSuffix(cfg.PublicURL, "/")
	redirectURI := publicURL + "/oauth/callback"
	return &Client{
		httpClient:  httpClient,
		resolver:    resolver,
		kv:          kv,
		publicURL:   publicURL,
		clientID:    clientID(publicURL, redirectURI),
		redirectURI: redirectURI,
		now:         time.Now,
	}
}

// clientID follows the loopback convention for local development, where the
// authorization server can't fetch our metadata document.
func clientID(publicURL, redirectURI string) string {
	u, err := url.Parse(publicURL)
	if err == nil && (u.Hostname() == "localhost" || u.Hostname() == "127.0.0.1") {
		q := url.Values{"redirect_uri": {redirectURI}, "scope": {Scope}}
		return "http://localhost?" + q.Encode()
	}
	return publicURL + "/client-metadata.json"
}

func (c *Client) Metadata() *ClientMetadata {
	return &ClientMetadata{
		ClientID:                c.clientID,
		ClientName:              "BookHive",
		ClientURI:               c.publicURL,
		RedirectURIs:            []string{c.redirectURI},
		Scope:                   Scope,
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		ApplicationType:         "web",
		TokenEndpointAuthMethod: "none",
		DPoPBoundAccessTokens:   true,
	}
}

// Discover finds the authorization server that protects pdsURL.
func (c *Client) Discover(ctx context.Context, pdsURL string) (*ServerMetadata, error) {
	pr := &protectedResource{}
	if err := c.getJSON(ctx, pdsURL+"/.well-known/oauth-protected-resource", pr); err != nil {
		return nil, err
	}
	if len(pr.AuthorizationServers) == 0 {
		return nil, errors.Errorf("%s lists no authorization servers", pdsURL)
	}
	issuer := strings.TrimSuffix(pr.AuthorizationServers[0], "/")

	md := &ServerMetadata{}
	if err := c.getJSON(ctx, issuer+"/.well-known/oauth-authorization-server", md); err != nil {
		return nil, err
	}
	if strings.TrimSuffix(md.Issuer, "/") != issuer {
		return nil, errors.Errorf("authorization server issuer %q does not match %q", md.Issuer, issuer)
	}
	if md.PAREndpoint == "" || md.TokenEndpoint == "" || md.AuthorizationEndpoint == "" {
		return nil, errors.Errorf("authorization server %s is missing required endpoints", issuer)
	}
	return md, nil
}

// Authorize starts a login for a handle or DID and returns the URL to send
// the browser to. appRedirect is carried through to the callback for mobile
// logins.
func (c *Client) Authorize(ctx context.Context, identifier, appRedirect string) (string, error) {
	log := logger.FromContext(ctx)

	id, err := c.resolver.Resolve(ctx, identifier)
	if err != nil {
		log.Err(err).Info("failed to resolve login identifier", logger.Data{"identifier": identifier})
		return "", errcodes.BadRequest("Couldn't find that handle.")
	}
	md, err := c.Discover(ctx, id.PDSURL)
	if err != nil {
		return "", err
	}

	key, err := NewDPoPKey()
	if err != nil {
		return "", err
	}
	keyPEM, err := EncodeKey(key)
	if err != nil {
		return "", err
	}
	verifier, err := randomToken(32)
	if err != nil {
		return "", err
	}
	state, err := randomToken(16)
	if err != nil {
		return "", err
	}

	form := url.Values{
		"client_id":             {c.clientID},
		"redirect_uri":          {c.redirectURI},
		"response_type":         {"code"},
		"scope":                 {Scope},
		"state":                 {state},
		"code_challenge":        {pkceChallenge(verifier)},
		"code_challenge_method": {"S256"},
	}
	if id.Handle != "" {
		form.Set("login_hint", id.Handle)
	}

	par := struct {
		RequestURI string `json:"request_uri"`
		ExpiresIn  int    `json:"expires_in"`
	}{}
	nonce, err := c.postForm(ctx, md.PAREndpoint, form, key, "", &par)
	if err != nil {
		return "", err
	}
	if par.RequestURI == "" {
		return "", errors.New("pushed authorization request returned no request_uri")
	}

	handle := id.Handle
	if handle == "" {
		handle = id.DID
	}
	err = c.kv.SetJSON(ctx, stateKeyPrefix+state, &pendingAuth{
		DID:         id.DID,
		Handle:      handle,
		PDSURL:      id.PDSURL,
		Issuer:      md.Issuer,
		TokenURL:    md.TokenEndpoint,
		Verifier:    verifier,
		DPoPKey:     keyPEM,
		DPoPNonce:   nonce,
		AppRedirect: appRedirect,
	}, stateTTL)
	if err != nil {
		return "", err
	}

	q := url.Values{"client_id": {c.clientID}, "request_uri": {par.RequestURI}}
	return md.AuthorizationEndpoint + "?" + q.Encode(), nil
}

// Callback exchanges the authorization code. state is single use.
func (c *Client) Callback(ctx context.Context, state, code, issuer string) (*Login, error) {
	if state == "" || code == "" {
		return nil, errcodes.BadRequest("Missing state or code.")
	}
	pending := &pendingAuth{}
	if err := c.kv.GetJSON(ctx, stateKeyPrefix+state, pending); err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return nil, errcodes.Unauthorized("Login expired, please try again.")
		}
		return nil, err
	}
	if err := c.kv.Delete(ctx, stateKeyPrefix+state); err != nil {
		return nil, err
	}
	if issuer != "" && strings.TrimSuffix(issuer, "/") != strings.TrimSuffix(pending.Issuer, "/") {
		return nil, errcodes.Unauthorized("Login came back from an unexpected server.")
	}

	key, err := DecodeKey(pending.DPoPKey)
	if err != nil {
		return nil, err
	}
	tok := &tokenResponse{}
	nonce, err := c.postForm(ctx, pending.TokenURL, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {c.redirectURI},
		"client_id":     {c.clientID},
		"code_verifier": {pending.Verifier},
	}, key, pending.DPoPNonce, tok)
	if err != nil {
		return nil, err
	}
	if err := checkToken(tok, pending.DID); err != nil {
		return nil, err
	}

	now := c.now()
	sess := &models.Session{
		DID:          pending.DID,
		Handle:       pending.Handle,
		PDSURL:       pending.PDSURL,
		AuthServer:   pending.Issuer,
		TokenURL:     pending.TokenURL,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    expiry(now, tok.ExpiresIn),
		DPoPKey:      pending.DPoPKey,
		DPoPNonce:    nonce,
		CreatedAt:    now,
		RefreshedAt:  now,
	}
	if err := c.SaveSession(ctx, sess); err != nil {
		return nil, err
	}
	return &Login{Session: sess, AppRedirect: pending.AppRedirect}, nil
}

func checkToken(tok *tokenResponse, did string) error {
	if tok.AccessToken == "" {
		return errors.New("token response has no access_token")
	}
	if !strings.EqualFold(tok.TokenType, "DPoP") {
		return errors.Errorf("unexpected token type %q", tok.TokenType)
	}
	if tok.Sub != did {
		return errcodes.Unauthorized("Login returned a different account.")
	}
	if !strings.Contains(" "+tok.Scope+" ", " atproto ") {
		return errors.Errorf("token scope %q lacks atproto", tok.Scope)
	}
	return nil
}

func expiry(now time.Time, expiresIn int) time.Time {
	if expiresIn <= 0 {
		return time.Time{}
	}
	return now.Add(time.Duration(expiresIn) * time.Second)
}

// Refresh trades the session's refresh token for new tokens and stores the
// result.
func (c *Client) Refresh(ctx context.Context, sess *models.Session) (*models.Session, error) {
	key, err := DecodeKey(sess.DPoPKey)
	if err != nil {
		return nil, err
	}
	tok := &tokenResponse{}
	nonce, err := c.postForm(ctx, sess.TokenURL, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {sess.RefreshToken},
		"client_id":     {c.clientID},
	}, key, sess.DPoPNonce, tok)
	if err != nil {
		return nil, err
	}
	if err := checkToken(tok, sess.DID); err != nil {
		return nil, err
	}

	now := c.now()
	refreshed := *sess
	refreshed.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		refreshed.RefreshToken = tok.RefreshToken
	}
	refreshed.ExpiresAt = expiry(now, tok.ExpiresIn)
	refreshed.DPoPNonce = nonce
	refreshed.RefreshedAt = now
	if err := c.SaveSession(ctx, &refreshed); err != nil {
		return nil, err
	}
	return &refreshed, nil
}

// Restore loads did's session, refreshing it when the access token is about
// to expire. Concurrent restores of one session share a single refresh.
func (c *Client) Restore(ctx context.Context, did string) (*models.Session, error) {
	sess, err := c.LoadSession(ctx, did)
	if err != nil {
		return nil, err
	}
	if !sess.Expired(c.now()) {
		return sess, nil
	}

	// Every waiter shares this flight, so it must outlive the caller that
	// started it.
	flightCtx := context.WithoutCancel(ctx)
	v, err, _ := c.refreshes.Do(did, func() (interface{}, error) {
		// Another request may have refreshed while we waited.
		latest, err := c.LoadSession(flightCtx, did)
		if err != nil {
			return nil, err
		}
		if !latest.Expired(c.now()) {
			return latest, nil
		}
		return c.Refresh(flightCtx, latest)
	})
	if err != nil {
		logger.FromContext(ctx).Err(err).Warn("failed to refresh session", logger.Data{"did": did})
		if derr := c.DeleteSession(flightCtx, did); derr != nil {
			logger.FromContext(ctx).Err(derr).Warn("failed to delete stale session", logger.Data{"did": did})
		}
		return nil, errcodes.Unauthorized("Session expired, please log in again.")
	}
	return v.(*models.Session), nil
}

func (c *Client) SaveSession(ctx context.Context, sess *models.Session) error {
	return c.kv.SetJSON(ctx, sessionKeyPrefix+sess.DID, sess, sessionStoreTTL)
}

// LoadSession returns errcodes.Unauthorized when no session is stored.
func (c *Client) LoadSession(ctx context.Context, did string) (*models.Session, error) {
	sess := &models.Session{}
	err := c.kv.GetJSON(ctx, sessionKeyPrefix+did, sess)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, errcodes.Unauthorized("Session expired, please log in again.")
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (c *Client) DeleteSession(ctx context.Context, did string) error {
	return c.kv.Delete(ctx, sessionKeyPrefix+did)
}

// IsAuthKey reports whether a KV key holds OAuth state or sessions.
func IsAuthKey(key string) bool {
	return strings.HasPrefix(key, stateKeyPrefix) || strings.HasPrefix(key, sessionKeyPrefix)
}

func (c *Client) getJSON(ctx context.Context, target string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return errors.WithStack(err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "GET %s", target)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("GET %s: %d", target, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.Wrapf(json.Unmarshal(body, out), "failed to decode %s", target)
}

// postForm sends a DPoP-signed form post to the authorization server. When
// the server asks for a nonce it retries once with it. The latest nonce the
// server handed out is returned so it can be reused.
func (c *Client) postForm(ctx context.Context, target string, form url.Values, key *ecdsa.PrivateKey, nonce string, out interface{}) (string, error) {
	for attempt := 0; ; attempt++ {
		proof, err := Proof(key, http.MethodPost, target, nonce, "", c.now())
		if err != nil {
			return nonce, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
		if err != nil {
			return nonce, errors.WithStack(err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("DPoP", proof)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nonce, errors.Wrapf(err, "POST %s", target)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if err != nil {
			return nonce, errors.WithStack(err)
		}
		if n := resp.Header.Get("DPoP-Nonce"); n != "" {
			nonce = n
		}

		if resp.StatusCode < 300 {
			return nonce, errors.Wrap(json.Unmarshal(body, out), "failed to decode oauth response")
		}
		oe := &Error{Status: resp.StatusCode}
		_ = json.Unmarshal(body, oe)
		if oe.Code == "use_dpop_nonce" && attempt == 0 {
			continue
		}
		return nonce, errors.WithStack(oe)
	}
}
