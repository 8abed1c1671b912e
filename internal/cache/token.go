package cache

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fruitsalade/nimbus/internal/signer"
)

var (
	// ErrInvalidToken covers malformed, tampered and undecodable tokens.
	ErrInvalidToken = errors.New("invalid cache token")
	// ErrTokenExpired is returned once now has reached the token expiry.
	ErrTokenExpired = errors.New("cache token expired")
)

// Token grants read access to the cached copy of one resource until Expiry.
type Token struct {
	Path   string    `json:"path"`
	Expiry time.Time `json:"expiry"`
}

// Codec turns tokens into their URL-safe signed form and back.
type Codec struct {
	signer signer.Signer
	now    func() time.Time
}

// NewCodec creates a codec using s for signatures.
func NewCodec(s signer.Signer) *Codec {
	return &Codec{signer: s, now: time.Now}
}

// Encode returns base64url(signature ‖ json(t)) without padding.
func (c *Codec) Encode(t Token) (string, error) {
	payload, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("marshal token: %w", err)
	}
	signed, err := c.signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(signed), nil
}

// Decode verifies s and returns the token it carries.
func (c *Codec) Decode(s string) (Token, error) {
	signed, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Token{}, ErrInvalidToken
	}
	payload, err := c.signer.VerifyAndExtract(signed)
	if err != nil {
		return Token{}, ErrInvalidToken
	}

	var t Token
	if err := json.Unmarshal(payload, &t); err != nil || t.Path == "" {
		return Token{}, ErrInvalidToken
	}
	if !c.now().Before(t.Expiry) {
		return Token{}, ErrTokenExpired
	}
	return t, nil
}
