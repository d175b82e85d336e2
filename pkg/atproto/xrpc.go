package atproto

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bookhive/bookhive/pkg/errcodes"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/segmentio/encoding/json"
)

const maxResponseBytes = 4 << 20

// Error is an XRPC error response.
type Error struct {
	Status  int
	Name    string `json:"error"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("xrpc %d %s", e.Status, e.Name)
	}
	return fmt.Sprintf("xrpc %d %s: %s", e.Status, e.Name, e.Message)
}

// IsNotFound reports whether err is a missing-record XRPC error.
func IsNotFound(err error) bool {
	var xe *Error
	if !errors.As(err, &xe) {
		return false
	}
	return xe.Name == "RecordNotFound" || xe.Status == http.StatusNotFound
}

// Authorizer adds credentials to outgoing requests.
type Authorizer interface {
	Authorize(req *http.Request) error
	// Retry inspects a failed response and reports whether the request should
	// be sent once more, e.g. after the server handed out a new DPoP nonce.
	Retry(resp *http.Response) bool
}

// Client calls XRPC methods on one host. With a nil Authorizer it makes
// unauthenticated calls.
type Client struct {
	httpClient *http.Client
	host       string
	auth       Authorizer
}

func NewClient(httpClient *http.Client, host string, auth Authorizer) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		httpClient: httpClient,
		host:       strings.TrimSuffix(host, "/"),
		auth:       auth,
	}
}

// Query performs a GET for an XRPC query method and decodes the result into
// out.
func (c *Client) Query(ctx context.Context, nsid string, params url.Values, out interface{}) error {
	u := c.host + "/xrpc/" + nsid
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return c.do(ctx, http.MethodGet, u, nil, out)
}

// Procedure performs a POST for an XRPC procedure with a JSON body.
func (c *Client) Procedure(ctx context.Context, nsid string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return errors.WithStack(err)
	}
	return c.do(ctx, http.MethodPost, c.host+"/xrpc/"+nsid, body, out)
}

func (c *Client) do(ctx context.Context, method, target string, body []byte, out interface{}) error {
	log := logger.FromContext(ctx)
	start := time.Now()

	resp, err := c.send(ctx, method, target, body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 && c.auth != nil && c.auth.Retry(resp) {
		resp.Body.Close()
		resp, err = c.send(ctx, method, target, body)
		if err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	log.Debug("xrpc call", logger.Data{
		"method":      method,
		"url":         target,
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return errors.WithStack(err)
	}

	if resp.StatusCode >= 400 {
		xe := &Error{Status: resp.StatusCode}
		_ = json.Unmarshal(data, xe)
		if xe.Name == "" {
			xe.Name = strconv.Itoa(resp.StatusCode)
		}
		return errors.WithStack(xe)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	return errors.Wrap(json.Unmarshal(data, out), "failed to decode xrpc response")
}

func (c *Client) send(ctx context.Context, method, target string, body []byte) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, r)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	if c.auth != nil {
		if err := c.auth.Authorize(req); err != nil {
			return nil, err
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, target)
	}
	return resp, nil
}

// Record is a fetched repo record.
type Record struct {
	URI   string          `json:"uri"`
	CID   string          `json:"cid"`
	Value json.RawMessage `json:"value"`
}

// RecordPage is one page of listRecords.
type RecordPage struct {
	Cursor  string    `json:"cursor,omitempty"`
	Records []*Record `json:"records"`
}

// WriteResult is what the PDS returns for a created or updated record.
type WriteResult struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// Repo is the record API of a single user's repository.
type Repo interface {
	DID() string
	GetRecord(ctx context.Context, collection, rkey string) (*Record, error)
	ListRecords(ctx context.Context, collection, cursor string, limit int) (*RecordPage, error)
	CreateRecord(ctx context.Context, collection, rkey string, record interface{}) (*WriteResult, error)
	PutRecord(ctx context.Context, collection, rkey string, record interface{}) (*WriteResult, error)
	DeleteRecord(ctx context.Context, collection, rkey string) error
}

// RepoClient implements Repo over XRPC against the user's PDS.
type RepoClient struct {
	*Client
	did string
}

func NewRepoClient(client *Client, did string) *RepoClient {
	return &RepoClient{Client: client, did: did}
}

func (r *RepoClient) DID() string {
	return r.did
}

func (r *RepoClient) GetRecord(ctx context.Context, collection, rkey string) (*Record, error) {
	rec := &Record{}
	err := r.Query(ctx, "com.atproto.repo.getRecord", url.Values{
		"repo":       {r.did},
		"collection": {collection},
		"rkey":       {rkey},
	}, rec)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *RepoClient) ListRecords(ctx context.Context, collection, cursor string, limit int) (*RecordPage, error) {
	params := url.Values{
		"repo":       {r.did},
		"collection": {collection},
		"limit":      {strconv.Itoa(limit)},
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	page := &RecordPage{}
	if err := r.Query(ctx, "com.atproto.repo.listRecords", params, page); err != nil {
		return nil, err
	}
	return page, nil
}

type writeInput struct {
	Repo       string      `json:"repo"`
	Collection string      `json:"collection"`
	RKey       string      `json:"rkey,omitempty"`
	Record     interface{} `json:"record,omitempty"`
	Validate   *bool       `json:"validate,omitempty"`
}

func (r *RepoClient) CreateRecord(ctx context.Context, collection, rkey string, record interface{}) (*WriteResult, error) {
	return r.write(ctx, "com.atproto.repo.createRecord", collection, rkey, record)
}

func (r *RepoClient) PutRecord(ctx context.Context, collection, rkey string, record interface{}) (*WriteResult, error) {
	return r.write(ctx, "com.atproto.repo.putRecord", collection, rkey, record)
}

func (r *RepoClient) write(ctx context.Context, nsid, collection, rkey string, record interface{}) (*WriteResult, error) {
	// The PDS doesn't know BookHive's lexicons.
	validate := false
	res := &WriteResult{}
	err := r.Procedure(ctx, nsid, writeInput{
		Repo:       r.did,
		Collection: collection,
		RKey:       rkey,
		Record:     record,
		Validate:   &validate,
	}, res)
	if err != nil {
		return nil, err
	}
	if res.URI == "" || res.CID == "" {
		return nil, errcodes.RemoteWriteFailed(fmt.Sprintf("%s returned no uri/cid for %s", nsid, collection))
	}
	return res, nil
}

func (r *RepoClient) DeleteRecord(ctx context.Context, collection, rkey string) error {
	return r.Procedure(ctx, "com.atproto.repo.deleteRecord", writeInput{
		Repo:       r.did,
		Collection: collection,
		RKey:       rkey,
	}, nil)
}
