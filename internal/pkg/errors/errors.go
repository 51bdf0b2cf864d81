package errors

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrAlreadyExists is a generic sentinel for uniqueness conflicts.
	ErrAlreadyExists = errors.New("already exists")
	// ErrConfiguration marks errors caused by a malformed model submission or
	// command template. They are never retried.
	ErrConfiguration = errors.New("configuration error")
	// ErrMissingArtifact marks a contracted output file that was not produced.
	ErrMissingArtifact = errors.New("missing artifact")
	// ErrExternalProcess marks a non-zero exit from a model script or an
	// environment build.
	ErrExternalProcess = errors.New("external process failed")
	// ErrStore marks failures talking to the relational store.
	ErrStore = errors.New("store error")
)

type Kind string

const (
	KindConfiguration   Kind = "configuration"
	KindMissingArtifact Kind = "missing_artifact"
	KindExternalProcess Kind = "external_process"
	KindStore           Kind = "store"
	KindCanceled        Kind = "canceled"
	KindUnknown         Kind = "unknown"
)

// Classify maps err onto the failure taxonomy used in batch summaries.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.Is(err, ErrMissingArtifact):
		return KindMissingArtifact
	case errors.Is(err, ErrExternalProcess):
		return KindExternalProcess
	case errors.Is(err, ErrConfiguration), errors.Is(err, ErrInvalidArgument):
		return KindConfiguration
	case errors.Is(err, ErrStore):
		return KindStore
	default:
		return KindUnknown
	}
}
