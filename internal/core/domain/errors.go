package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrTemporary         = errors.New("temporary failure")
	ErrSnapshotNotFound  = errors.New("snapshot not found")
	ErrSnapshotCorrupt   = errors.New("snapshot corrupt")
	ErrSnapshotVersion   = errors.New("snapshot version mismatch")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrIndexUnavailable  = errors.New("index unavailable")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
