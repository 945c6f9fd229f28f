package token

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedToken means the token text cannot be parsed.
	ErrMalformedToken = errors.New("malformed token")
	// ErrSignatureMismatch means the token parsed but was not signed by us.
	ErrSignatureMismatch = errors.New("token signature mismatch")
)

// IsInvalid reports whether err is one of the token rejection errors. Callers
// must not tell end users which of the two it was.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrMalformedToken) || errors.Is(err, ErrSignatureMismatch)
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedToken, fmt.Sprintf(format, args...))
}
