package atproto

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
)

var (
	// ErrHandleNotFound is returned when neither DNS nor HTTPS resolve a handle.
	ErrHandleNotFound = errors.New("handle could not be resolved")
	// ErrNoPDS is returned for DID documents without a PDS service entry.
	ErrNoPDS = errors.New("did document has no pds endpoint")

	handleRegex = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)
)

// DIDDocument is the subset of a DID document BookHive reads.
type DIDDocument struct {
	ID          string   `json:"id"`
	AlsoKnownAs []string `json:"alsoKnownAs"`
	Service     []struct {
		ID              string `json:"id"`
		Type            string `json:"type"`
		ServiceEndpoint string `json:"serviceEndpoint"`
	} `json:"service"`
}

// PDSEndpoint returns the #atproto_pds service URL.
func (d *DIDDocument) PDSEndpoint() (string, error) {
	for _, s := range d.Service {
		if s.ID == "#atproto_pds" || strings.HasSuffix(s.ID, "#atproto_pds") {
			return strings.TrimSuffix(s.ServiceEndpoint, "/"), nil
		}
	}
	return "", errors.WithStack(ErrNoPDS)
}

// Handle returns the at:// handle the document claims, if any.
func (d *DIDDocument) Handle() string {
	for _, aka := range d.AlsoKnownAs {
		if h, ok := strings.CutPrefix(aka, "at://"); ok {
			return h
		}
	}
	return ""
}

// Identity is a resolved account.
type Identity struct {
	DID    string
	Handle string
	PDSURL string
}

// Resolver resolves handles and DIDs.
type Resolver struct {
	httpClient *http.Client
	plcURL     string
	lookupTXT  func(ctx context.Context, name string) ([]string, error)
}

func NewResolver(httpClient *http.Client, plcURL string) *Resolver {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Resolver{
		httpClient: httpClient,
		plcURL:     strings.TrimSuffix(plcURL, "/"),
		lookupTXT:  net.DefaultResolver.LookupTXT,
	}
}

// NormalizeHandle lowercases a handle and drops a leading "@".
func NormalizeHandle(h string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h), "@"))
}

func IsHandle(s string) bool {
	return handleRegex.MatchString(s)
}

// ResolveHandle maps a handle to a DID via the _atproto DNS TXT record,
// falling back to https://{handle}/.well-known/atproto-did.
func (r *Resolver) ResolveHandle(ctx context.Context, handle string) (string, error) {
	handle = NormalizeHandle(handle)
	if !IsHandle(handle) {
		return "", errors.Wrap(ErrHandleNotFound, handle)
	}

	if records, err := r.lookupTXT(ctx, "_atproto."+handle); err == nil {
		for _, rec := range records {
			if did, ok := strings.CutPrefix(rec, "did="); ok && IsDID(did) {
				return did, nil
			}
		}
	}

	body, err := r.get(ctx, "https://"+handle+"/.well-known/atproto-did")
	if err != nil {
		return "", errors.Wrap(ErrHandleNotFound, handle)
	}
	did := strings.TrimSpace(string(body))
	if !IsDID(did) {
		return "", errors.Wrap(ErrHandleNotFound, handle)
	}
	return did, nil
}

// ResolveDID fetches the DID document for did:plc and did:web identifiers.
func (r *Resolver) ResolveDID(ctx context.Context, did string) (*DIDDocument, error) {
	var target string
	switch {
	case strings.HasPrefix(did, "did:plc:"):
		target = r.plcURL + "/" + url.PathEscape(did)
	case strings.HasPrefix(did, "did:web:"):
		host := strings.TrimPrefix(did, "did:web:")
		target = "https://" + host + "/.well-known/did.json"
	default:
		return nil, errors.Errorf("unsupported did method: %s", did)
	}

	body, err := r.get(ctx, target)
	if err != nil {
		return nil, err
	}
	doc := &DIDDocument{}
	if err := json.Unmarshal(body, doc); err != nil {
		return nil, errors.Wrap(err, "invalid did document")
	}
	if doc.ID != did {
		return nil, errors.Errorf("did document id %q does not match %q", doc.ID, did)
	}
	return doc, nil
}

// Resolve accepts a handle or DID and returns the account's DID, handle and
// PDS. A handle is only trusted when the DID document claims it back.
func (r *Resolver) Resolve(ctx context.Context, identifier string) (*Identity, error) {
	identifier = strings.TrimSpace(identifier)
	if !strings.HasPrefix(identifier, "did:") {
		identifier = NormalizeHandle(identifier)
	}

	did := identifier
	if !IsDID(identifier) {
		var err error
		did, err = r.ResolveHandle(ctx, identifier)
		if err != nil {
			return nil, err
		}
	}

	doc, err := r.ResolveDID(ctx, did)
	if err != nil {
		return nil, err
	}
	pds, err := doc.PDSEndpoint()
	if err != nil {
		return nil, err
	}

	handle := doc.Handle()
	if !IsDID(identifier) && !strings.EqualFold(handle, identifier) {
		handle = ""
	}
	return &Identity{DID: did, Handle: handle, PDSURL: pds}, nil
}

func (r *Resolver) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("GET %s: %d", target, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return body, errors.WithStack(err)
}
