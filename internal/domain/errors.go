package domain

import "errors"

var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrBrokerUnavailable = errors.New("broker unavailable")
	ErrDeliveryFailed    = errors.New("delivery failed")
)
