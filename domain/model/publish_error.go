package model

import (
	"errors"
	"fmt"
)

var (
	ErrContentNotFound     = errors.New("content not found")
	ErrMalformedState      = errors.New("malformed social_platforms state")
	ErrInvalidState        = errors.New("invalid publication state")
	ErrPublishInProgress   = errors.New("publish already in progress")
	ErrInvalidRequest      = errors.New("invalid publish request")
	ErrCredentialsNotFound = errors.New("platform credentials not found")
)

// ErrorKind classifies a failed publish attempt; it drives the retry policy.
type ErrorKind string

const (
	ErrorKindAuth             ErrorKind = "authError"
	ErrorKindRateLimited      ErrorKind = "rateLimited"
	ErrorKindContentRejected  ErrorKind = "contentRejected"
	ErrorKindTransientNetwork ErrorKind = "transientNetwork"
	ErrorKindContentNotFound  ErrorKind = "contentNotFound"
	ErrorKindUnknownPlatform  ErrorKind = "unknownPlatform"
	ErrorKindInProgress       ErrorKind = "inProgress"
	ErrorKindUnknown          ErrorKind = "unknown"
)

// Retryable reports whether another attempt may succeed.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrorKindRateLimited, ErrorKindTransientNetwork, ErrorKindContentNotFound:
		return true
	}
	return false
}

type PublishError struct {
	Platform Platform
	Kind     ErrorKind
	Message  string
	Err      error
}

func NewPublishError(platform Platform, kind ErrorKind, msg string, err error) *PublishError {
	return &PublishError{Platform: platform, Kind: kind, Message: msg, Err: err}
}

func (e *PublishError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Platform == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s %s: %s", e.Platform, e.Kind, msg)
}

func (e *PublishError) Unwrap() error { return e.Err }

// KindOf extracts the ErrorKind of err; unclassified errors are unknown.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var pe *PublishError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, ErrContentNotFound) {
		return ErrorKindContentNotFound
	}
	if errors.Is(err, ErrPublishInProgress) {
		return ErrorKindInProgress
	}
	return ErrorKindUnknown
}
