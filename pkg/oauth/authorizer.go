package oauth

import (
	"context"
	"crypto/ecdsa"
	"net/http"
	"sync"

	"github.com/bookhive/bookhive/pkg/atproto"
	"github.com/bookhive/bookhive/pkg/models"
)

// sessionAuth signs PDS requests with a session's DPoP-bound access token.
type sessionAuth struct {
	client *Client
	token  string
	key    *ecdsa.PrivateKey

	mu    sync.Mutex
	nonce string
}

func (a *sessionAuth) Authorize(req *http.Request) error {
	a.mu.Lock()
	nonce := a.nonce
	a.mu.Unlock()

	proof, err := Proof(a.key, req.Method, req.URL.String(), nonce, a.token, a.client.now())
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "DPoP "+a.token)
	req.Header.Set("DPoP", proof)
	return nil
}

// Retry picks up a fresh nonce from a rejected request. Resource servers
// issue their own nonces, separate from the authorization server's.
func (a *sessionAuth) Retry(resp *http.Response) bool {
	if resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusBadRequest {
		return false
	}
	n := resp.Header.Get("DPoP-Nonce")
	if n == "" {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if n == a.nonce {
		return false
	}
	a.nonce = n
	return true
}

// Repo returns a client for the session user's own repository.
func (c *Client) Repo(_ context.Context, sess *models.Session) (atproto.Repo, error) {
	key, err := DecodeKey(sess.DPoPKey)
	if err != nil {
		return nil, err
	}
	auth := &sessionAuth{client: c, token: sess.AccessToken, key: key}
	return atproto.NewRepoClient(atproto.NewClient(c.httpClient, sess.PDSURL, auth), sess.DID), nil
}
