package upload

import (
	"errors"
	"net/http"
)

var (
	ErrAuthFailure    = errors.New("upload: authentication rejected")
	ErrRateLimited    = errors.New("upload: rate limited by server")
	ErrTransient      = errors.New("upload: transient failure")
	ErrPermanent      = errors.New("upload: permanent failure")
	ErrCaptureDropped = errors.New("upload: capture dropped by client rate cap")
)

type Class int

const (
	ClassSuccess Class = iota
	ClassAuthFailure
	ClassRateLimited
	ClassTransient
	ClassPermanent
	ClassDropped
)

func (c Class) String() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassAuthFailure:
		return "auth_failure"
	case ClassRateLimited:
		return "rate_limited"
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	case ClassDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

func (c Class) Err() error {
	switch c {
	case ClassAuthFailure:
		return ErrAuthFailure
	case ClassRateLimited:
		return ErrRateLimited
	case ClassTransient:
		return ErrTransient
	case ClassPermanent:
		return ErrPermanent
	case ClassDropped:
		return ErrCaptureDropped
	default:
		return nil
	}
}

// Classify maps an HTTP status code onto the outcome taxonomy.
func Classify(status int) Class {
	switch {
	case status >= 200 && status < 300:
		return ClassSuccess
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ClassAuthFailure
	case status == http.StatusTooManyRequests:
		return ClassRateLimited
	case status >= 500:
		return ClassTransient
	default:
		return ClassPermanent
	}
}

// Result describes one Send call.
type Result struct {
	Kind      string
	Class     Class
	Attempts  int
	Status    int
	RequestID string
}
