package core

import "errors"

var (
	// ErrInvalidExpense marks malformed ledger input: non-positive amounts,
	// empty item assignments, duplicate expense ids, non-member payers.
	// The caller must fix the input; retrying does not help.
	ErrInvalidExpense = errors.New("invalid expense")

	// ErrInvalidState marks an aggregate that violates a precondition,
	// e.g. a tab with zero members.
	ErrInvalidState = errors.New("invalid tab state")

	// ErrInvalidTransition marks a lifecycle operation attempted from the
	// wrong status, e.g. resolving an already-resolved tab.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNotFound is returned by stores when the referenced tab does not exist.
	ErrNotFound = errors.New("tab not found")

	// ErrConflict is returned when a conditional write lost a race against
	// a concurrent writer. Callers re-read and re-apply the same operation.
	ErrConflict = errors.New("tab version conflict")
)

// Kind classifies a failure for the calling layer: fix your input, retry
// later, or give up.
type Kind int

const (
	KindInternal Kind = iota
	KindBadInput
	KindNotFound
	KindStale
	KindRetryLater
)

// Classify maps an error to its failure kind so transports can pick a
// status code without inspecting sentinel errors themselves.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrInvalidExpense), errors.Is(err, ErrInvalidState):
		return KindBadInput
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidTransition):
		return KindStale
	case errors.Is(err, ErrConflict):
		return KindRetryLater
	default:
		return KindInternal
	}
}
