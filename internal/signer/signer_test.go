package signer

import (
	"bytes"
	"errors"
	"testing"
)

func TestSignAndVerify(t *testing.T) {
	m, err := NewMAC([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}

	payload := []byte(`{"path":"/alice/a.txt"}`)
	signed, err := m.Sign(payload)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !bytes.HasSuffix(signed, payload) {
		t.Error("signed message should end with the payload")
	}

	got, err := m.VerifyAndExtract(signed)
	if err != nil {
		t.Fatalf("VerifyAndExtract: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload = %q, want %q", got, payload)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	m, _ := NewMAC([]byte("secret"))
	signed, _ := m.Sign([]byte("hello world"))

	for i := range signed {
		altered := bytes.Clone(signed)
		altered[i] ^= 0x01
		if _, err := m.VerifyAndExtract(altered); !errors.Is(err, ErrInvalidSignature) {
			t.Fatalf("byte %d altered: err = %v, want ErrInvalidSignature", i, err)
		}
	}

	if _, err := m.VerifyAndExtract(signed[:10]); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("short message: err = %v", err)
	}
}

func TestVerifyRejectsOtherKey(t *testing.T) {
	a, _ := NewMAC([]byte("a"))
	b, _ := NewMAC([]byte("b"))
	signed, _ := a.Sign([]byte("payload"))
	if _, err := b.VerifyAndExtract(signed); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("err = %v, want ErrInvalidSignature", err)
	}
}

func TestEmptySecret(t *testing.T) {
	if _, err := NewMAC(nil); err == nil {
		t.Error("expected error for empty secret")
	}
}
