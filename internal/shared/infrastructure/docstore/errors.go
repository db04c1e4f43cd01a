package docstore

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable is returned by reads when neither backend could serve them.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrDurableWriteFailure is returned when a write produced no durable effect on
	// either backend. Callers must retry at the delivery layer or escalate.
	ErrDurableWriteFailure = errors.New("durable write failure")

	// ErrInvalidRecord is returned for records without a usable id.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrDuplicateRecord is returned by InsertOne when the id is already present.
	ErrDuplicateRecord = errors.New("duplicate record")
)

// TransientError is a primary store failure. The facade absorbs it by falling
// back to the local store; it only leaves the package wrapped inside
// ErrDurableWriteFailure or ErrStoreUnavailable.
type TransientError struct {
	Backend    string
	Op         string
	Collection string
	Err        error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s %s %s: %v", e.Backend, e.Op, e.Collection, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}
