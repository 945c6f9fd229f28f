// Package token mints and verifies activation tokens.
//
// A token is a bearer credential for claiming exactly one collectible:
//
//	base64url(itemID) "." base36(issuedAtMillis) "." hex(nonce) "." hex(hmac)
//
// The HMAC-SHA256 tag covers the first three fields as they appear in the token.
// Verification is stateless and never touches the redemption ledger.
package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// MinSecretLength is the shortest signing secret the codec accepts.
	MinSecretLength = 32

	nonceBytes   = 16
	sigHexLength = sha256.Size * 2
	separator    = "."
	fieldCount   = 4
)

var encoding = base64.RawURLEncoding

// Claims are the fields embedded in a token.
type Claims struct {
	ItemID    string
	IssuedAt  time.Time
	Nonce     string
	Signature string

	// signed is the exact text the signature covers.
	signed string
}

// Codec signs tokens with its current secret and verifies them against the
// current secret and any retired ones.
type Codec struct {
	current []byte
	retired [][]byte
	nowFunc func() time.Time
	rand    func([]byte) (int, error)
}

// Option configures a Codec.
type Option func(*Codec)

// WithRetiredSecrets lets tokens minted under older secrets keep verifying.
func WithRetiredSecrets(secrets ...string) Option {
	return func(c *Codec) {
		for _, s := range secrets {
			if s != "" {
				c.retired = append(c.retired, []byte(s))
			}
		}
	}
}

// WithClock overrides the time source used for issuedAt.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.nowFunc = now }
}

// NewCodec returns a Codec that mints with secret.
func NewCodec(secret string, opts ...Option) (*Codec, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("token secret must be at least %d bytes, got %d", MinSecretLength, len(secret))
	}
	c := &Codec{
		current: []byte(secret),
		nowFunc: time.Now,
		rand:    rand.Read,
	}
	for _, opt := range opts {
		opt(c)
	}
	for i, s := range c.retired {
		if len(s) < MinSecretLength {
			return nil, fmt.Errorf("retired secret %d is shorter than %d bytes", i, MinSecretLength)
		}
	}
	return c, nil
}

// Mint returns a fresh token for itemID. Two mints for the same item never
// produce the same token.
func (c *Codec) Mint(itemID string) (string, error) {
	claims, err := c.MintClaims(itemID)
	if err != nil {
		return "", err
	}
	return claims.String(), nil
}

// MintClaims is Mint that also returns the embedded fields, so issuers can
// bind the nonce to the ledger record.
func (c *Codec) MintClaims(itemID string) (Claims, error) {
	if itemID == "" {
		return Claims{}, errors.New("item id is required")
	}
	if !utf8.ValidString(itemID) {
		return Claims{}, errors.New("item id must be valid UTF-8")
	}

	raw := make([]byte, nonceBytes)
	if _, err := c.rand(raw); err != nil {
		return Claims{}, fmt.Errorf("generate nonce: %w", err)
	}

	issuedAt := c.nowFunc().UTC().Truncate(time.Millisecond)
	cl := Claims{
		ItemID:   itemID,
		IssuedAt: issuedAt,
		Nonce:    hex.EncodeToString(raw),
	}
	cl.signed = strings.Join([]string{
		encoding.EncodeToString([]byte(itemID)),
		strconv.FormatInt(issuedAt.UnixMilli(), 36),
		cl.Nonce,
	}, separator)
	cl.Signature = hex.EncodeToString(sign(c.current, cl.signed))
	return cl, nil
}

// String renders the claims as a bearer token.
func (cl Claims) String() string {
	return cl.signed + separator + cl.Signature
}

// Decode parses token without checking its signature.
func Decode(token string) (Claims, error) {
	parts := strings.Split(token, separator)
	if len(parts) != fieldCount {
		return Claims{}, malformed("expected %d fields, got %d", fieldCount, len(parts))
	}
	for i, p := range parts {
		if p == "" {
			return Claims{}, malformed("field %d is empty", i)
		}
	}
	idField, tsField, nonce, sig := parts[0], parts[1], parts[2], parts[3]

	id, err := encoding.DecodeString(idField)
	if err != nil {
		return Claims{}, malformed("item id encoding: %v", err)
	}
	// Reject non-canonical encodings so each item id has exactly one spelling.
	if len(id) == 0 || !utf8.Valid(id) || encoding.EncodeToString(id) != idField {
		return Claims{}, malformed("item id is not canonical base64url UTF-8")
	}

	ms, err := strconv.ParseInt(tsField, 36, 64)
	if err != nil || ms < 0 || strconv.FormatInt(ms, 36) != tsField {
		return Claims{}, malformed("timestamp is not base36")
	}

	if !isLowerHex(nonce, nonceBytes*2) {
		return Claims{}, malformed("nonce must be %d hex characters", nonceBytes*2)
	}
	if !isLowerHex(sig, sigHexLength) {
		return Claims{}, malformed("signature must be %d hex characters", sigHexLength)
	}

	return Claims{
		ItemID:    string(id),
		IssuedAt:  time.UnixMilli(ms).UTC(),
		Nonce:     nonce,
		Signature: sig,
		signed:    strings.Join(parts[:3], separator),
	}, nil
}

// Verify decodes token and checks its signature against every known secret.
func (c *Codec) Verify(token string) (Claims, error) {
	cl, err := Decode(token)
	if err != nil {
		return Claims{}, err
	}
	got, err := hex.DecodeString(cl.Signature)
	if err != nil {
		return Claims{}, malformed("signature: %v", err)
	}

	// Every secret is checked so the timing does not reveal which one matched.
	ok := hmac.Equal(sign(c.current, cl.signed), got)
	for _, s := range c.retired {
		if hmac.Equal(sign(s, cl.signed), got) {
			ok = true
		}
	}
	if !ok {
		return Claims{}, ErrSignatureMismatch
	}
	return cl, nil
}

func sign(secret []byte, msg string) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(msg))
	return mac.Sum(nil)
}

func isLowerHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if (ch < '0' || ch > '9') && (ch < 'a' || ch > 'f') {
			return false
		}
	}
	return true
}
