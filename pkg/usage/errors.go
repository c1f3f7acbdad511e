package usage

import "errors"

var (
	ErrInvalidAmount     = errors.New("usage: increment amount must be positive")
	ErrFailedToIncrement = errors.New("usage: failed to increment counter")
	ErrFailedToRead      = errors.New("usage: failed to read counter")
	ErrFailedToSeed      = errors.New("usage: failed to seed period counters")
)
