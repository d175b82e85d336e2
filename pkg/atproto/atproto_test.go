package atproto

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bookhive/bookhive/pkg/errcodes"
	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURI(t *testing.T) {
	t.Parallel()

	u, err := ParseURI("at://did:plc:abc123/buzz.bookhive.book/3kabc")
	require.NoError(t, err)
	assert.Equal(t, "did:plc:abc123", u.DID)
	assert.Equal(t, "buzz.bookhive.book", u.Collection)
	assert.Equal(t, "3kabc", u.RKey)
	assert.Equal(t, "at://did:plc:abc123/buzz.bookhive.book/3kabc", u.String())

	for _, bad := range []string{
		"",
		"https://example.com",
		"at://did:plc:abc123/buzz.bookhive.book",
		"at://alice.test/buzz.bookhive.book/3kabc",
		"at://did:plc:abc123/nodots/3kabc",
	} {
		_, err := ParseURI(bad)
		assert.ErrorIs(t, err, ErrInvalidURI, bad)
	}
}

func TestNewTID(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 10, 15, 30, 0, 0, time.UTC)

	tids := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		tid := NewTID(now)
		require.Len(t, tid, 13)
		for _, r := range tid {
			assert.True(t, strings.ContainsRune(tidAlphabet, r))
		}
		tids = append(tids, tid)
	}

	assert.True(t, sort.StringsAreSorted(tids), "keys sort in creation order")
	seen := map[string]bool{}
	for _, tid := range tids {
		assert.False(t, seen[tid])
		seen[tid] = true
	}
}

func newRepo(t *testing.T, handler http.HandlerFunc, auth Authorizer) *RepoClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewRepoClient(NewClient(srv.Client(), srv.URL, auth), "did:plc:alice")
}

func TestGetRecord(t *testing.T) {
	t.Parallel()
	repo := newRepo(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/xrpc/com.atproto.repo.getRecord", r.URL.Path)
		assert.Equal(t, "did:plc:alice", r.URL.Query().Get("repo"))
		if r.URL.Query().Get("rkey") == "missing" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"RecordNotFound","message":"Could not locate record"}`))
			return
		}
		_, _ = w.Write([]byte(`{"uri":"at://did:plc:alice/buzz.bookhive.book/abc","cid":"bafy1","value":{"title":"Dune"}}`))
	}, nil)
	ctx := context.Background()

	rec, err := repo.GetRecord(ctx, "buzz.bookhive.book", "abc")
	require.NoError(t, err)
	assert.Equal(t, "bafy1", rec.CID)
	assert.JSONEq(t, `{"title":"Dune"}`, string(rec.Value))

	_, err = repo.GetRecord(ctx, "buzz.bookhive.book", "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestPutRecord_RequiresURIAndCID(t *testing.T) {
	t.Parallel()
	repo := newRepo(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var in map[string]interface{}
		require.NoError(t, json.Unmarshal(body, &in))
		assert.Equal(t, "did:plc:alice", in["repo"])
		assert.Equal(t, false, in["validate"])
		_, _ = w.Write([]byte(`{"uri":"at://did:plc:alice/buzz.bookhive.book/abc"}`))
	}, nil)

	_, err := repo.PutRecord(context.Background(), "buzz.bookhive.book", "abc", map[string]string{"title": "Dune"})
	require.Error(t, err)
	assert.True(t, errcodes.HasCode(err, "remote_write_failed"))
}

type nonceAuth struct {
	nonce   atomic.Value
	retries atomic.Int32
}

func (a *nonceAuth) Authorize(req *http.Request) error {
	n, _ := a.nonce.Load().(string)
	req.Header.Set("DPoP", "proof-"+n)
	return nil
}

func (a *nonceAuth) Retry(resp *http.Response) bool {
	if n := resp.Header.Get("DPoP-Nonce"); n != "" {
		a.nonce.Store(n)
		a.retries.Add(1)
		return true
	}
	return false
}

func TestClient_RetriesWithFreshNonce(t *testing.T) {
	t.Parallel()
	auth := &nonceAuth{}
	repo := newRepo(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("DPoP") != "proof-n1" {
			w.Header().Set("DPoP-Nonce", "n1")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"use_dpop_nonce"}`))
			return
		}
		_, _ = w.Write([]byte(`{"uri":"at://did:plc:alice/buzz.bookhive.book/abc","cid":"bafy2"}`))
	}, auth)

	res, err := repo.CreateRecord(context.Background(), "buzz.bookhive.book", "abc", map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, "bafy2", res.CID)
	assert.Equal(t, int32(1), auth.retries.Load())
}

func TestResolver_Resolve(t *testing.T) {
	t.Parallel()
	plc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/did:plc:alice", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"id": "did:plc:alice",
			"alsoKnownAs": ["at://alice.test"],
			"service": [{"id": "#atproto_pds", "type": "AtprotoPersonalDataServer", "serviceEndpoint": "https://pds.example.com/"}]
		}`))
	}))
	t.Cleanup(plc.Close)

	r := NewResolver(plc.Client(), plc.URL)
	r.lookupTXT = func(_ context.Context, name string) ([]string, error) {
		if name == "_atproto.alice.test" {
			return []string{"did=did:plc:alice"}, nil
		}
		return nil, errors.New("no such host")
	}

	id, err := r.Resolve(context.Background(), "@Alice.Test")
	require.NoError(t, err)
	assert.Equal(t, "did:plc:alice", id.DID)
	assert.Equal(t, "alice.test", id.Handle)
	assert.Equal(t, "https://pds.example.com", id.PDSURL)

	id, err = r.Resolve(context.Background(), "did:plc:alice")
	require.NoError(t, err)
	assert.Equal(t, "alice.test", id.Handle)
}

func TestResolver_InvalidHandle(t *testing.T) {
	t.Parallel()
	r := NewResolver(nil, "https://plc.invalid")

	_, err := r.ResolveHandle(context.Background(), "not a handle")
	assert.ErrorIs(t, err, ErrHandleNotFound)
}
