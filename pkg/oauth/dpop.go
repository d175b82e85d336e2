package oauth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const dpopKeyPEMType = "EC PRIVATE KEY"

// NewDPoPKey generates the P-256 key a session's tokens are bound to.
func NewDPoPKey() (*ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	return key, errors.WithStack(err)
}

// EncodeKey serializes a DPoP key so it can be stored with the session.
func EncodeKey(key *ecdsa.PrivateKey) (string, error) {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return "", errors.WithStack(err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: dpopKeyPEMType, Bytes: der})), nil
}

func DecodeKey(s string) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(s))
	if block == nil || block.Type != dpopKeyPEMType {
		return nil, errors.New("invalid dpop key")
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	return key, errors.WithStack(err)
}

// PublicJWK is the JWK form of the key's public half, embedded in every
// proof header.
func PublicJWK(key *ecdsa.PrivateKey) (map[string]string, error) {
	pub, err := key.PublicKey.ECDH()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	// Uncompressed point: 0x04 || X || Y.
	raw := pub.Bytes()
	return map[string]string{
		"kty": "EC",
		"crv": "P-256",
		"x":   base64.RawURLEncoding.EncodeToString(raw[1:33]),
		"y":   base64.RawURLEncoding.EncodeToString(raw[33:]),
	}, nil
}

type proofClaims struct {
	HTM   string `json:"htm"`
	HTU   string `json:"htu"`
	Nonce string `json:"nonce,omitempty"`
	ATH   string `json:"ath,omitempty"`
	jwt.RegisteredClaims
}

// Proof builds a DPoP proof JWT for one request. accessToken is empty for
// calls to the authorization server and set for resource requests.
func Proof(key *ecdsa.PrivateKey, method, target, nonce, accessToken string, now time.Time) (string, error) {
	htu, err := url.Parse(target)
	if err != nil {
		return "", errors.WithStack(err)
	}
	htu.RawQuery = ""
	htu.Fragment = ""

	claims := proofClaims{
		HTM:   method,
		HTU:   htu.String(),
		Nonce: nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       uuid.NewString(),
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if accessToken != "" {
		sum := sha256.Sum256([]byte(accessToken))
		claims.ATH = base64.RawURLEncoding.EncodeToString(sum[:])
	}

	jwk, err := PublicJWK(key)
	if err != nil {
		return "", err
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["typ"] = "dpop+jwt"
	token.Header["jwk"] = jwk

	signed, err := token.SignedString(key)
	return signed, errors.WithStack(err)
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", errors.WithStack(err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// pkceChallenge is the S256 code challenge for verifier.
func pkceChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
