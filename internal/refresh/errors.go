package refresh

import (
	"errors"
	"fmt"
)

// ErrUnknownEntity is returned for keys of an entity that is not registered.
var ErrUnknownEntity = errors.New("unknown entity")

// Error reports a failed refresh of one key, or of a whole batch when PK
// is zero.
type Error struct {
	Entity string
	PK     int64
	Reason string
	Err    error
}

func (e *Error) Error() string {
	key := e.Entity
	if e.PK != 0 {
		key = fmt.Sprintf("%s:%d", e.Entity, e.PK)
	}
	if e.Err != nil {
		return fmt.Sprintf("refresh %s: %s: %v", key, e.Reason, e.Err)
	}
	return fmt.Sprintf("refresh %s: %s", key, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// BatchTooLargeError is returned when a batch exceeds the configured size.
type BatchTooLargeError struct {
	Entity string
	Size   int
	Max    int
}

func (e *BatchTooLargeError) Error() string {
	return fmt.Sprintf("refresh batch of %d %s keys exceeds limit %d", e.Size, e.Entity, e.Max)
}

// IsFailed reports whether err is a refresh failure.
func IsFailed(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

// IsBatchTooLarge reports whether err is a BatchTooLargeError.
func IsBatchTooLarge(err error) bool {
	var e *BatchTooLargeError
	return errors.As(err, &e)
}
