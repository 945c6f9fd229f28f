package token

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef-test"

func newTestCodec(t *testing.T, opts ...Option) *Codec {
	t.Helper()
	c, err := NewCodec(testSecret, opts...)
	require.NoError(t, err)
	return c
}

func TestNewCodec_RejectsShortSecret(t *testing.T) {
	_, err := NewCodec("too-short")
	require.Error(t, err)

	_, err = NewCodec(testSecret, WithRetiredSecrets("short"))
	require.Error(t, err)
}

func TestMint_RoundTrip(t *testing.T) {
	c := newTestCodec(t)

	ids := []string{
		"toy_007",
		"nfc_midas_pepe_12",
		"with.dots.and:colons",
		"юникод/слэш+плюс=",
		strings.Repeat("x", 512),
	}
	for _, id := range ids {
		tok, err := c.Mint(id)
		require.NoError(t, err, id)

		decoded, err := Decode(tok)
		require.NoError(t, err, id)
		assert.Equal(t, id, decoded.ItemID)

		verified, err := c.Verify(tok)
		require.NoError(t, err, id)
		assert.Equal(t, id, verified.ItemID)
		assert.Len(t, strings.Split(tok, "."), 4)
	}
}

func TestMint_EmbedsIssuedAtAndFreshNonce(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	c := newTestCodec(t, WithClock(func() time.Time { return fixed }))

	a, err := c.MintClaims("toy_007")
	require.NoError(t, err)
	b, err := c.MintClaims("toy_007")
	require.NoError(t, err)

	assert.NotEqual(t, a.String(), b.String())
	assert.NotEqual(t, a.Nonce, b.Nonce)
	assert.Len(t, a.Nonce, 32)

	decoded, err := Decode(a.String())
	require.NoError(t, err)
	assert.True(t, decoded.IssuedAt.Equal(fixed.Truncate(time.Millisecond)))
}

func TestMint_RejectsEmptyItemID(t *testing.T) {
	c := newTestCodec(t)
	_, err := c.Mint("")
	require.Error(t, err)
}

func TestVerify_AnySingleCharacterFlipInvalidates(t *testing.T) {
	c := newTestCodec(t)
	tok, err := c.Mint("toy_007")
	require.NoError(t, err)

	for i := 0; i < len(tok); i++ {
		if tok[i] == '.' {
			continue
		}
		b := []byte(tok)
		if b[i] == 'a' {
			b[i] = 'b'
		} else {
			b[i] = 'a'
		}
		_, err := c.Verify(string(b))
		require.Errorf(t, err, "flip at %d accepted", i)
		assert.True(t, IsInvalid(err), "flip at %d: unexpected error %v", i, err)
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	other, err := NewCodec(strings.Repeat("z", 40))
	require.NoError(t, err)
	tok, err := other.Mint("toy_007")
	require.NoError(t, err)

	_, err = newTestCodec(t).Verify(tok)
	assert.True(t, errors.Is(err, ErrSignatureMismatch))
}

func TestVerify_RetiredSecretStillVerifies(t *testing.T) {
	oldSecret := strings.Repeat("o", 40)
	old, err := NewCodec(oldSecret)
	require.NoError(t, err)
	tok, err := old.Mint("toy_007")
	require.NoError(t, err)

	rotated := newTestCodec(t, WithRetiredSecrets(oldSecret))
	cl, err := rotated.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "toy_007", cl.ItemID)

	// New tokens are always signed with the current secret.
	fresh, err := rotated.Mint("toy_008")
	require.NoError(t, err)
	_, err = old.Verify(fresh)
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestDecode_Malformed(t *testing.T) {
	c := newTestCodec(t)
	tok, err := c.Mint("toy_007")
	require.NoError(t, err)
	parts := strings.Split(tok, ".")

	cases := map[string]string{
		"empty":            "",
		"three fields":     strings.Join(parts[:3], "."),
		"five fields":      tok + ".extra",
		"truncated":        tok[:len(tok)-1],
		"empty id":         "." + strings.Join(parts[1:], "."),
		"padded id":        parts[0] + "==." + strings.Join(parts[1:], "."),
		"std base64 id":    "dG95/zAwNw." + strings.Join(parts[1:], "."),
		"bad timestamp":    parts[0] + ".!!." + parts[2] + "." + parts[3],
		"upper hex nonce":  parts[0] + "." + parts[1] + "." + strings.ToUpper(parts[2]) + "." + parts[3],
		"short signature":  strings.Join(parts[:3], ".") + "." + parts[3][:32],
		"non hex sig":      strings.Join(parts[:3], ".") + "." + strings.Repeat("g", 64),
		"percent encoded":  strings.ReplaceAll(tok, ".", "%2E"),
		"whitespace":       " " + tok,
		"leading zero ts":  parts[0] + ".0" + parts[1] + "." + parts[2] + "." + parts[3],
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(in)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedToken)

			_, err = c.Verify(in)
			assert.True(t, IsInvalid(err))
		})
	}
}
