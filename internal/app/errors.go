package app

import "errors"

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrNoExtractableText = errors.New("none of the provided files contain extractable text")
	ErrCompletionFailed  = errors.New("every completion request failed")
	ErrUnknownMode       = errors.New("unknown answer mode")
)
