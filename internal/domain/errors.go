package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrNotValidated    = errors.New("opportunity not validated")
	ErrExpired         = errors.New("opportunity expired")
	ErrUnhealthyVenue  = errors.New("venue health check failed")
	ErrInsufficientBal = errors.New("insufficient balance")
	ErrExecutorBusy    = errors.New("execution already in flight")
	ErrNotConnected    = errors.New("exchange not connected")
	ErrInvalidOrder    = errors.New("invalid order parameters")
)
