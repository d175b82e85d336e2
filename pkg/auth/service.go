package auth

import (
	"crypto/sha256"
	"io"
	"time"

	"aidanwoods.dev/go-paseto"
	"github.com/bookhive/bookhive/pkg/config"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/hkdf"
)

const (
	tokenIssuer   = "bookhive"
	tokenAudience = "bookhive"

	keyInfo = "bookhive session v4.local"
)

// Service seals and opens session tokens. A token only names the DID; the
// OAuth session itself stays server side in the KV store.
type Service struct {
	key paseto.V4SymmetricKey
	ttl time.Duration
	now func() time.Time
}

func NewService(cfg *config.Config) (*Service, error) {
	key, err := deriveKey(cfg.CookieSecret)
	if err != nil {
		return nil, err
	}
	return &Service{key: key, ttl: cfg.SessionTTL, now: time.Now}, nil
}

// deriveKey stretches the configured cookie secret into a 32-byte PASETO key.
func deriveKey(secret string) (paseto.V4SymmetricKey, error) {
	buf := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo))
	if _, err := io.ReadFull(r, buf); err != nil {
		return paseto.V4SymmetricKey{}, errors.WithStack(err)
	}
	key, err := paseto.V4SymmetricKeyFromBytes(buf)
	return key, errors.WithStack(err)
}

// Seal issues a token for did, returning it with its expiry.
func (s *Service) Seal(did string) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.ttl)

	token := paseto.NewToken()
	token.SetIssuer(tokenIssuer)
	token.SetAudience(tokenAudience)
	token.SetSubject(did)
	token.SetIssuedAt(now)
	token.SetNotBefore(now)
	token.SetExpiration(exp)
	token.SetJti(uuid.NewString())

	return token.V4Encrypt(s.key, nil), exp, nil
}

// Open verifies a token and returns the DID it was issued to.
func (s *Service) Open(sealed string) (string, error) {
	parser := paseto.NewParserWithoutExpiryCheck()
	parser.AddRule(paseto.ForAudience(tokenAudience))
	parser.AddRule(paseto.IssuedBy(tokenIssuer))
	parser.AddRule(paseto.ValidAt(s.now()))

	token, err := parser.ParseV4Local(s.key, sealed, nil)
	if err != nil {
		return "", errors.WithStack(err)
	}
	did, err := token.GetSubject()
	if err != nil {
		return "", errors.WithStack(err)
	}
	return did, nil
}
