package queue

import "errors"

var (
	// ErrEmptyType is returned when enqueueing an action without a type.
	ErrEmptyType = errors.New("queue: action type is required")
	// ErrInvalidStatus is returned when a status outside the known set is requested.
	ErrInvalidStatus = errors.New("queue: invalid status")
	// ErrCompleted is returned when a completed action is moved to another status.
	ErrCompleted = errors.New("queue: action already completed")
	// ErrDuplicateID is returned when the id generator keeps producing ids already in the queue.
	ErrDuplicateID = errors.New("queue: could not allocate unique action id")
)
