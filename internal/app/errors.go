package app

import "errors"

var (
	ErrInboxFull     = errors.New("node inbox full")
	ErrNotStarted    = errors.New("node not running")
	ErrInvalidSample = errors.New("invalid heart rate sample")
)
