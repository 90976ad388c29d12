package domain

import "errors"

var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrSlotConflict      = errors.New("slot already booked")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrForbidden         = errors.New("forbidden")
	ErrNotFound          = errors.New("not found")
	ErrConcurrentUpdate  = errors.New("appointment was modified concurrently")
	ErrCommitTimeout     = errors.New("booking commit timed out")
	// ErrChannelDisconnected is reported as connection state, never to the user.
	ErrChannelDisconnected = errors.New("notification channel disconnected")
)

// Code returns the wire name of a domain error, or "" for anything else.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "InvalidRequest"
	case errors.Is(err, ErrSlotConflict):
		return "SlotConflict"
	case errors.Is(err, ErrIllegalTransition):
		return "IllegalTransition"
	case errors.Is(err, ErrForbidden):
		return "Forbidden"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrConcurrentUpdate):
		return "ConcurrentUpdate"
	case errors.Is(err, ErrCommitTimeout):
		return "CommitTimeout"
	case errors.Is(err, ErrChannelDisconnected):
		return "ChannelDisconnected"
	default:
		return ""
	}
}

// Retryable reports whether the caller may resubmit the same request.
func Retryable(err error) bool {
	return errors.Is(err, ErrSlotConflict) || errors.Is(err, ErrCommitTimeout) || errors.Is(err, ErrConcurrentUpdate)
}
