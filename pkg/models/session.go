package models

import "time"

// Session is a signed-in user's OAuth session. It lives in the KV store
// under auth_session:{did}; the browser only holds a sealed reference to it.
type Session struct {
	DID          string    `json:"did"`
	Handle       string    `json:"handle"`
	PDSURL       string    `json:"pds_url"`
	AuthServer   string    `json:"auth_server"`
	TokenURL     string    `json:"token_url"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	// DPoPKey is the PEM-encoded P-256 key the tokens are bound to.
	DPoPKey     string    `json:"dpop_key"`
	DPoPNonce   string    `json:"dpop_nonce,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

// Expired reports whether the access token needs a refresh at t.
func (s *Session) Expired(t time.Time) bool {
	return !s.ExpiresAt.IsZero() && !t.Before(s.ExpiresAt.Add(-30*time.Second))
}
