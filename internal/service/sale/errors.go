package sale

import "errors"

var (
	ErrValidation = errors.New("invalid sale completion")
	ErrSeatSold   = errors.New("seat already sold")
)
