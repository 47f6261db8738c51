package core

import "errors"

var (
	// ErrUnclassifiable marks an exchange no rule maps to a data kind.
	// Such exchanges are recorded but never retried.
	ErrUnclassifiable = errors.New("exchange matches no classification rule")
	// ErrUpstreamFailure marks a response whose envelope reports failure.
	ErrUpstreamFailure = errors.New("upstream reported failure")
	ErrEmptyBody       = errors.New("response body is empty")
	ErrMissingKey      = errors.New("record is missing its identifier")
	ErrTooDeep         = errors.New("comment tree exceeds maximum depth")
)
