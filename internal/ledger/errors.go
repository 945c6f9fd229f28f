package ledger

import (
	"context"
	"errors"
	"fmt"
)

// unavailable tags err as transient so callers can tell it apart from the
// expected outcomes (not found, already exists, lost race).
func unavailable(err error) error {
	if err == nil || errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// storeFailure tags err as transient unless permanent reports a fault that
// retrying with the same arguments cannot fix, such as a missing table.
// Errors a backend cannot classify count as transient.
func storeFailure(err error, permanent func(error) bool) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return unavailable(err)
	}
	if permanent(err) {
		return err
	}
	return unavailable(err)
}

// IsUnavailable reports whether err is a transient store failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
