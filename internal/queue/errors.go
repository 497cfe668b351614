package queue

import (
	"errors"
	"fmt"
)

var (
	ErrQueueNotFound   = errors.New("queue: not found")
	ErrItemNotFound    = errors.New("queue: item not found")
	ErrItemTerminal    = errors.New("queue: item already completed or skipped")
	ErrInvalidArgument = errors.New("queue: invalid argument")
	ErrConflict        = errors.New("queue: already exists")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
