// Package auth implements the Backpack request-signing protocol: ED25519
// detached signatures over canonical instruction payloads, plus the
// (verb, path) -> instruction lookup used to build those payloads.
package auth

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// DefaultWindow is the signature validity window applied when the caller
// does not override it.
const DefaultWindow = 5000 * time.Millisecond

// ErrInvalidKey is returned when the configured signing key cannot be
// decoded or has the wrong length. This is a configuration error: it is
// surfaced once at construction and never retried.
var ErrInvalidKey = errors.New("invalid ED25519 signing key")

// Credential holds the API key pair for one account. The public key
// identifier travels in the X-API-Key header and in streaming subscribe
// frames; the private key never leaves the process. Credentials are
// immutable for the process lifetime.
type Credential struct {
	publicKey string
	key       ed25519.PrivateKey
}

// NewCredential builds a Credential from the base64-encoded verifying key
// and the base64-encoded private key. The secret may be either a 32-byte
// seed or a full 64-byte ED25519 private key.
func NewCredential(apiKey, apiSecret string) (*Credential, error) {
	if apiKey == "" || apiSecret == "" {
		return nil, fmt.Errorf("%w: empty key material", ErrInvalidKey)
	}

	raw, err := base64.StdEncoding.DecodeString(apiSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: secret is not valid base64: %v", ErrInvalidKey, err)
	}

	var key ed25519.PrivateKey
	switch len(raw) {
	case ed25519.SeedSize:
		key = ed25519.NewKeyFromSeed(raw)
	case ed25519.PrivateKeySize:
		key = ed25519.PrivateKey(raw)
	default:
		return nil, fmt.Errorf("%w: secret must be %d or %d bytes, got %d",
			ErrInvalidKey, ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}

	return &Credential{publicKey: apiKey, key: key}, nil
}

// PublicKey returns the base64 verifying-key identifier.
func (c *Credential) PublicKey() string {
	return c.publicKey
}

// Sign produces a detached ED25519 signature over msg and returns it
// base64-encoded. Deterministic for a given (msg, key) pair; safe for
// concurrent use.
func (c *Credential) Sign(msg []byte) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(c.key, msg))
}

// SignPayload signs an already-built signing string.
func (c *Credential) SignPayload(p Payload) string {
	return c.Sign([]byte(p.String()))
}

// Headers returns the four REST authentication headers for a signed
// payload. The timestamp and window must be the exact values embedded in
// the payload.
func (c *Credential) Headers(p Payload) map[string]string {
	return map[string]string{
		"X-API-Key":   c.publicKey,
		"X-Signature": c.SignPayload(p),
		"X-Timestamp": strconv.FormatInt(p.Timestamp, 10),
		"X-Window":    strconv.FormatInt(p.Window, 10),
	}
}

// SubscribeSignature builds the signature tuple attached to private
// streaming subscribe frames: [public_key, signature, timestamp, window].
// The timestamp is taken at call time so queued subscribe frames carry a
// fresh signature when they are actually sent.
func (c *Credential) SubscribeSignature() ([]string, error) {
	p := NewPayload(InstructionSubscribe, nil, time.Now().UnixMilli(), DefaultWindow.Milliseconds())
	return []string{
		c.publicKey,
		c.SignPayload(p),
		strconv.FormatInt(p.Timestamp, 10),
		strconv.FormatInt(p.Window, 10),
	}, nil
}
