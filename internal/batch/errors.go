package batch

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies a per-item failure for reporting.
type ErrorKind string

// Failure classes recorded on failed work items.
const (
	KindTimeout ErrorKind = "timeout"
	KindNetwork ErrorKind = "network"
	KindFetch   ErrorKind = "fetch"
	KindStorage ErrorKind = "storage"
)

// ClassifyError maps an error to its failure class. Storage errors are tagged
// at the call site via StorageError; everything else is inferred.
func ClassifyError(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return KindStorage
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}
	return KindFetch
}

// ItemError is a classified per-item failure. The rendered message is what
// ends up in the item's status record and the completion payload.
type ItemError struct {
	Kind ErrorKind
	Err  error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// StorageError marks a blob-write failure so classification can distinguish it
// from fetch-side errors.
type StorageError struct {
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
