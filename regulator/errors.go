package regulator

import "errors"

var (
	// ErrChunkTooLarge is returned when a single chunk exceeds
	// maxMessageSize and could never be delivered in any batch.
	ErrChunkTooLarge = errors.New("regulator: chunk exceeds maxMessageSize")
	// ErrNilDestroy is returned by Clear when called without a destroy
	// callback, since a nil callback would free the queue nodes without
	// freeing the chunks they held.
	ErrNilDestroy = errors.New("regulator: Clear requires a non-nil destroy callback")
)
