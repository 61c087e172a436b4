package pvpchess

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("game not found or finished")
	ErrInvalidSequence = errors.New("invalid move number")
	ErrIllegalMove     = errors.New("invalid move")
	ErrTimeExpired     = errors.New("time expired")
	ErrNotParticipant  = errors.New("user is not a participant")
	ErrUnknownUser     = errors.New("user not found")
	ErrInvalidArgs     = errors.New("invalid arguments")

	// ErrConflict means the stored game changed since it was read.
	ErrConflict = errors.New("concurrent game update")
)

// SequenceError reports a stale or out-of-order move index.
type SequenceError struct {
	Expected int
	Got      int
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("invalid move number: expected %d, got %d", e.Expected, e.Got)
}

func (e *SequenceError) Unwrap() error { return ErrInvalidSequence }
