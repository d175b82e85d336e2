// Package atproto is a small AT Protocol client: AT-URIs, record keys,
// identity resolution and the com.atproto.repo XRPC methods BookHive calls.
package atproto

import (
	"math/rand/v2"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidURI is returned for strings that aren't at://did/collection/rkey.
	ErrInvalidURI = errors.New("invalid at-uri")

	didRegex  = regexp.MustCompile(`^did:[a-z]+:[a-zA-Z0-9._:%-]+$`)
	nsidRegex = regexp.MustCompile(`^[a-zA-Z]([a-zA-Z0-9-]*[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?)+$`)
	rkeyRegex = regexp.MustCompile(`^[a-zA-Z0-9._:~-]{1,512}$`)
)

// URI identifies one record in a repo.
type URI struct {
	DID        string
	Collection string
	RKey       string
}

// ParseURI parses at://did/collection/rkey.
func ParseURI(s string) (URI, error) {
	rest, ok := strings.CutPrefix(s, "at://")
	if !ok {
		return URI{}, errors.Wrap(ErrInvalidURI, s)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		return URI{}, errors.Wrap(ErrInvalidURI, s)
	}
	u := URI{DID: parts[0], Collection: parts[1], RKey: parts[2]}
	if !IsDID(u.DID) || !nsidRegex.MatchString(u.Collection) || !rkeyRegex.MatchString(u.RKey) {
		return URI{}, errors.Wrap(ErrInvalidURI, s)
	}
	return u, nil
}

func (u URI) String() string {
	return "at://" + u.DID + "/" + u.Collection + "/" + u.RKey
}

func IsDID(s string) bool {
	return didRegex.MatchString(s)
}

const tidAlphabet = "234567abcdefghijklmnopqrstuvwxyz"

var (
	tidMu      sync.Mutex
	lastTIDUS  int64
	tidClockID = uint64(rand.IntN(1024))
)

// NewTID returns a timestamp record key for t. Keys from one process are
// strictly increasing even when t doesn't move.
func NewTID(t time.Time) string {
	tidMu.Lock()
	us := t.UnixMicro()
	if us <= lastTIDUS {
		us = lastTIDUS + 1
	}
	lastTIDUS = us
	tidMu.Unlock()

	v := (uint64(us)&(1<<53-1))<<10 | tidClockID
	var b [13]byte
	for i := 12; i >= 0; i-- {
		b[i] = tidAlphabet[v&31]
		v >>= 5
	}
	return string(b[:])
}
