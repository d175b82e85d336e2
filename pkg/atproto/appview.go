package atproto

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Profile is the public Bluesky profile of an account.
type Profile struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName,omitempty"`
	Description string `json:"description,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

// FollowsPage is one page of app.bsky.graph.getFollows.
type FollowsPage struct {
	Cursor  string     `json:"cursor,omitempty"`
	Follows []*Profile `json:"follows"`
}

// AppView reads public data from the Bluesky AppView.
type AppView struct {
	client *Client
}

func NewAppView(host string) *AppView {
	return &AppView{client: NewClient(&http.Client{Timeout: 10 * time.Second}, host, nil)}
}

func (a *AppView) GetProfile(ctx context.Context, actor string) (*Profile, error) {
	p := &Profile{}
	if err := a.client.Query(ctx, "app.bsky.actor.getProfile", url.Values{"actor": {actor}}, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (a *AppView) GetFollows(ctx context.Context, actor, cursor string, limit int) (*FollowsPage, error) {
	params := url.Values{"actor": {actor}, "limit": {strconv.Itoa(limit)}}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	page := &FollowsPage{}
	if err := a.client.Query(ctx, "app.bsky.graph.getFollows", params, page); err != nil {
		return nil, err
	}
	return page, nil
}
