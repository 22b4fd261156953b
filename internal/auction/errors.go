package auction

import "errors"

var (
	// ErrDuplicateAuction is returned when an active auction already exists
	// for the same (room, artifact) pair.
	ErrDuplicateAuction = errors.New("active auction already exists for artifact")

	// ErrAuctionNotActive is returned when a bid targets an auction that has
	// already ended.
	ErrAuctionNotActive = errors.New("auction is not active")

	// ErrBidTooLow is returned when a bid does not strictly exceed the
	// current highest bid.
	ErrBidTooLow = errors.New("bid must exceed current highest bid")

	// ErrAlreadySettled signals that a settlement attempt lost the race to an
	// earlier one. It is an expected outcome, not a failure.
	ErrAlreadySettled = errors.New("auction already settled")

	// ErrAuctionNotFound is returned for reads of unknown auction ids.
	ErrAuctionNotFound = errors.New("auction not found")
)
