package sealed

import (
	"bytes"
	"errors"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	c, err := New([]byte("sixteen byte key"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	plain := []byte("voiceprint record payload")
	sealedData, err := c.Seal(plain)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if bytes.Contains(sealedData, plain) {
		t.Error("sealed data contains plaintext")
	}

	got, err := c.Open(sealedData)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("Open = %q, want %q", got, plain)
	}
}

func TestSealFreshNonce(t *testing.T) {
	c, err := New([]byte("key"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a, _ := c.Seal([]byte("same payload"))
	b, _ := c.Seal([]byte("same payload"))
	if bytes.Equal(a, b) {
		t.Error("two seals of the same payload must differ (fresh nonce)")
	}
}

func TestOpenWrongKey(t *testing.T) {
	c1, _ := New([]byte("key one"))
	c2, _ := New([]byte("key two"))

	sealedData, err := c1.Seal([]byte("secret"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := c2.Open(sealedData); !errors.Is(err, ErrBadSeal) {
		t.Errorf("wrong key: got %v, want ErrBadSeal", err)
	}
}

func TestOpenTampered(t *testing.T) {
	c, _ := New([]byte("key"))
	sealedData, err := c.Seal([]byte("secret"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	sealedData[len(sealedData)-1] ^= 0xff
	if _, err := c.Open(sealedData); !errors.Is(err, ErrBadSeal) {
		t.Errorf("tampered: got %v, want ErrBadSeal", err)
	}

	if _, err := c.Open([]byte{1, 2}); !errors.Is(err, ErrBadSeal) {
		t.Errorf("truncated: got %v, want ErrBadSeal", err)
	}
}
