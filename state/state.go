package state

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/giantswarm/oauth-authserver/security"
)

// ErrInvalidState is returned for any blob that is malformed, tampered with,
// too old, or missing its CSRF token.
var ErrInvalidState = errors.New("invalid state")

const (
	// DefaultMaxAge bounds how long a login round trip may take.
	DefaultMaxAge = 15 * time.Minute

	// KeySize is the size of a generated signing key.
	KeySize = 32

	macSize = sha256.Size
)

// State is the decoded content of a state parameter.
type State struct {
	CSRFToken string
	ClientID  string
	ReturnTo  string
	IssuedAt  time.Time
}

type payload struct {
	CSRFToken string `cbor:"1,keyasint"`
	ClientID  string `cbor:"2,keyasint,omitempty"`
	ReturnTo  string `cbor:"3,keyasint,omitempty"`
	IssuedAt  int64  `cbor:"4,keyasint"`
}

// Codec encodes and decodes state parameters. It is safe for concurrent use.
type Codec struct {
	key []byte

	// MaxAge is the maximum age of a decodable state. Zero disables the check.
	MaxAge time.Duration

	// Now is the clock used for issuance and age checks.
	Now func() time.Time

	decMode cbor.DecMode
}

// NewCodec creates a codec signing with key. An empty key gets a random
// process-local key, which means states neither survive a restart nor are
// accepted by another replica.
func NewCodec(key []byte, logger *slog.Logger) (*Codec, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if len(key) == 0 {
		key = make([]byte, KeySize)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate state key: %w", err)
		}
		logger.Warn("No state signing key configured, using a random key",
			"impact", "login round trips fail across restarts and replicas")
	}

	decMode, err := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		MaxMapPairs: 16,
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("failed to build cbor decoder: %w", err)
	}

	return &Codec{
		key:     append([]byte(nil), key...),
		MaxAge:  DefaultMaxAge,
		Now:     time.Now,
		decMode: decMode,
	}, nil
}

// NewCSRFToken returns a fresh random CSRF token.
func NewCSRFToken() string {
	return security.GenerateToken()
}

// Encode serializes the fields and the current time into a URL-safe string.
// clientID and returnTo are optional.
func (c *Codec) Encode(csrfToken, clientID, returnTo string) (string, error) {
	if csrfToken == "" {
		return "", fmt.Errorf("csrf token is required")
	}

	data, err := cbor.Marshal(payload{
		CSRFToken: csrfToken,
		ClientID:  clientID,
		ReturnTo:  returnTo,
		IssuedAt:  c.Now().Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode state: %w", err)
	}

	blob := append(data, c.sign(data)...)
	return base64.RawURLEncoding.EncodeToString(blob), nil
}

// Decode parses and verifies a state string. Every failure is ErrInvalidState.
func (c *Codec) Decode(s string) (*State, error) {
	blob, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: not base64url", ErrInvalidState)
	}
	if len(blob) <= macSize {
		return nil, fmt.Errorf("%w: too short", ErrInvalidState)
	}

	data, mac := blob[:len(blob)-macSize], blob[len(blob)-macSize:]
	if !hmac.Equal(mac, c.sign(data)) {
		return nil, fmt.Errorf("%w: signature mismatch", ErrInvalidState)
	}

	var p payload
	if err := c.decMode.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: malformed payload", ErrInvalidState)
	}
	if p.CSRFToken == "" {
		return nil, fmt.Errorf("%w: missing csrf token", ErrInvalidState)
	}

	issuedAt := time.Unix(p.IssuedAt, 0)
	if c.MaxAge > 0 && c.Now().Sub(issuedAt) > c.MaxAge {
		return nil, fmt.Errorf("%w: expired", ErrInvalidState)
	}

	return &State{
		CSRFToken: p.CSRFToken,
		ClientID:  p.ClientID,
		ReturnTo:  p.ReturnTo,
		IssuedAt:  issuedAt,
	}, nil
}

func (c *Codec) sign(data []byte) []byte {
	h := hmac.New(sha256.New, c.key)
	h.Write(data)
	return h.Sum(nil)
}
