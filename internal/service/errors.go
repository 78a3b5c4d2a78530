package service

import (
	"errors"

	"bulletin-service/internal/admission"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrRateLimited        = errors.New("rate limited")
)

// AdmissionError carries the denial that stopped a request
type AdmissionError struct {
	Decision admission.Decision
}

func (e *AdmissionError) Error() string {
	return e.Decision.Reason
}

func (e *AdmissionError) Is(target error) bool {
	return target == ErrRateLimited
}

func denied(d admission.Decision) error {
	return &AdmissionError{Decision: d}
}
