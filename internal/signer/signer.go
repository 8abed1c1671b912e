// Package signer authenticates opaque payloads with a keyed BLAKE2b MAC.
package signer

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// ErrInvalidSignature is returned when a signed message fails verification.
var ErrInvalidSignature = errors.New("invalid signature")

// Signer signs payloads and verifies signed messages.
type Signer interface {
	// Sign returns signature ‖ payload.
	Sign(payload []byte) ([]byte, error)
	// VerifyAndExtract checks the signature and returns the payload.
	VerifyAndExtract(signed []byte) ([]byte, error)
}

// MAC is a Signer backed by BLAKE2b-256 in keyed mode.
type MAC struct {
	key [blake2b.Size256]byte
}

// NewMAC derives a 256-bit key from secret.
func NewMAC(secret []byte) (*MAC, error) {
	if len(secret) == 0 {
		return nil, errors.New("signer: empty secret")
	}
	return &MAC{key: blake2b.Sum256(secret)}, nil
}

func (m *MAC) sum(payload []byte) ([]byte, error) {
	h, err := blake2b.New256(m.key[:])
	if err != nil {
		return nil, fmt.Errorf("signer: init mac: %w", err)
	}
	h.Write(payload)
	return h.Sum(nil), nil
}

func (m *MAC) Sign(payload []byte) ([]byte, error) {
	sig, err := m.sum(payload)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(sig)+len(payload))
	out = append(out, sig...)
	return append(out, payload...), nil
}

func (m *MAC) VerifyAndExtract(signed []byte) ([]byte, error) {
	if len(signed) < blake2b.Size256 {
		return nil, ErrInvalidSignature
	}
	sig, payload := signed[:blake2b.Size256], signed[blake2b.Size256:]
	want, err := m.sum(payload)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(sig, want) != 1 {
		return nil, ErrInvalidSignature
	}
	return payload, nil
}
