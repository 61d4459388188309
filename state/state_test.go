package state

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/go-cmp/cmp"

	"github.com/giantswarm/oauth-authserver/internal/testutil"
)

func newTestCodec(t *testing.T, key string) (*Codec, *testutil.MockTime) {
	t.Helper()

	clock := testutil.NewMockTime(time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC))
	c, err := NewCodec([]byte(key), nil)
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}
	c.Now = clock.Now
	return c, clock
}

func TestCodec_RoundTrip(t *testing.T) {
	c, clock := newTestCodec(t, "test-key")

	tests := []struct {
		name     string
		clientID string
		returnTo string
	}{
		{name: "all fields", clientID: "client-1", returnTo: "/authorize?client_id=client-1&state=xyz"},
		{name: "csrf only"},
		{name: "client only", clientID: "client-1"},
		{name: "unicode return target", returnTo: "/päth?q=ü"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := c.Encode("csrf-token", tt.clientID, tt.returnTo)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if strings.ContainsAny(encoded, "+/=") {
				t.Errorf("Encode() = %q, want URL-safe unpadded string", encoded)
			}

			got, err := c.Decode(encoded)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}

			want := &State{
				CSRFToken: "csrf-token",
				ClientID:  tt.clientID,
				ReturnTo:  tt.returnTo,
				IssuedAt:  clock.Now(),
			}
			if diff := cmp.Diff(want, got, cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })); diff != "" {
				t.Errorf("Decode() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCodec_EncodeRequiresCSRF(t *testing.T) {
	c, _ := newTestCodec(t, "test-key")
	if _, err := c.Encode("", "client-1", ""); err == nil {
		t.Error("Encode() with empty csrf token should fail")
	}
}

func TestCodec_DecodeFailsClosed(t *testing.T) {
	c, _ := newTestCodec(t, "test-key")
	valid, err := c.Encode("csrf-token", "client-1", "/home")
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	raw, _ := base64.RawURLEncoding.DecodeString(valid)

	flipped := append([]byte(nil), raw...)
	flipped[0] ^= 0x01

	other, _ := newTestCodec(t, "other-key")
	foreign, err := other.Encode("csrf-token", "client-1", "/home")
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	// correctly signed, but not a payload
	garbage := []byte{0xff, 0x00, 0x01}
	garbageBlob := base64.RawURLEncoding.EncodeToString(append(garbage, c.sign(garbage)...))

	// correctly signed payload without a csrf token
	noCSRF, _ := cbor.Marshal(payload{ClientID: "client-1", IssuedAt: c.Now().Unix()})
	noCSRFBlob := base64.RawURLEncoding.EncodeToString(append(noCSRF, c.sign(noCSRF)...))

	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"not base64", "!!!not-base64!!!"},
		{"too short", base64.RawURLEncoding.EncodeToString([]byte("short"))},
		{"tampered payload", base64.RawURLEncoding.EncodeToString(flipped)},
		{"truncated", valid[:len(valid)-4]},
		{"other key", foreign},
		{"malformed payload", garbageBlob},
		{"missing csrf", noCSRFBlob},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Decode(tt.input)
			if !errors.Is(err, ErrInvalidState) {
				t.Errorf("Decode() error = %v, want ErrInvalidState", err)
			}
			if got != nil {
				t.Errorf("Decode() = %+v, want nil", got)
			}
		})
	}
}

func TestCodec_MaxAge(t *testing.T) {
	c, clock := newTestCodec(t, "test-key")
	encoded, err := c.Encode("csrf-token", "", "")
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	clock.Advance(DefaultMaxAge)
	if _, err := c.Decode(encoded); err != nil {
		t.Errorf("Decode() at max age error = %v", err)
	}

	clock.Advance(time.Second)
	if _, err := c.Decode(encoded); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Decode() past max age error = %v, want ErrInvalidState", err)
	}

	c.MaxAge = 0
	if _, err := c.Decode(encoded); err != nil {
		t.Errorf("Decode() with age check disabled error = %v", err)
	}
}

func TestNewCodec_RandomKey(t *testing.T) {
	a, err := NewCodec(nil, nil)
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}
	b, err := NewCodec(nil, nil)
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}

	encoded, err := a.Encode("csrf-token", "", "")
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if _, err := a.Decode(encoded); err != nil {
		t.Errorf("Decode() with same codec error = %v", err)
	}
	if _, err := b.Decode(encoded); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Decode() with other random key error = %v, want ErrInvalidState", err)
	}
}

func TestNewCSRFToken(t *testing.T) {
	a, b := NewCSRFToken(), NewCSRFToken()
	if a == "" || a == b {
		t.Errorf("NewCSRFToken() = %q, %q; want distinct non-empty tokens", a, b)
	}
}
