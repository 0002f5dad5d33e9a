package domain

import "errors"

var (
	// ErrStrategyNotImplemented is returned when a reserved weighting
	// strategy is selected. A reserved strategy must fail the build, never
	// silently degrade to another strategy.
	ErrStrategyNotImplemented = errors.New("weighting strategy not implemented")

	// ErrUnsupportedStrategy is returned for strategy values that are not
	// recognized at all.
	ErrUnsupportedStrategy = errors.New("unsupported weighting strategy")

	// ErrMalformedRecord is returned when a market record is missing
	// required fields. A partial index would misallocate capital, so the
	// whole build fails.
	ErrMalformedRecord = errors.New("malformed market record")

	// ErrCandidateNotInIndex indicates a ranked candidate with no entry in
	// the target index. Every candidate originates from the index, so this
	// is a violation of the pipeline contract, not a data condition.
	ErrCandidateNotInIndex = errors.New("ranked candidate missing from target index")

	// ErrVenueNotConfigured is returned when a user's preferences name a
	// venue that has no client wired for it.
	ErrVenueNotConfigured = errors.New("venue not configured")
)
