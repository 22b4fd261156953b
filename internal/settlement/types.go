package settlement

import (
	"errors"

	"github.com/curiohall/curio/internal/auction"
)

// Result is the definitive outcome of a settlement request. AlreadySettled is
// true when another attempt committed the transition first; the outcome
// fields still describe the committed result.
type Result struct {
	Outcome        auction.Outcome `json:"outcome"`
	AlreadySettled bool            `json:"already_settled"`
}

// NoSale reports whether the auction closed without a winner.
func (r *Result) NoSale() bool {
	return r.Outcome.WinnerID == nil
}

// ErrOutcomeRecorded signals that a history entry for the auction already
// exists. Expected when the repair sweep and a live settlement race; treated
// as completion, not failure.
var ErrOutcomeRecorded = errors.New("settlement outcome already recorded")
