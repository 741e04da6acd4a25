package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure well enough for a caller to pick an exit
// code and for the orchestrator to decide between retry, fallback and fail.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindProbe
	KindTransient
	KindNonRetryable
	KindDisk
	KindMergeIntegrity
	KindConfig
)

func (k ErrorKind) String() string {
	switch k {
	case KindProbe:
		return "probe"
	case KindTransient:
		return "transient-network"
	case KindNonRetryable:
		return "non-retryable-request"
	case KindDisk:
		return "disk-io"
	case KindMergeIntegrity:
		return "merge-integrity"
	case KindConfig:
		return "configuration"
	default:
		return "unknown"
	}
}

// Error carries the classification alongside the cause and, when the failure
// came off the wire, the last observed HTTP status.
type Error struct {
	Kind   ErrorKind
	Stage  string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s error in %s stage (status %d): %v", e.Kind, e.Stage, e.Status, e.Err)
	}
	return fmt.Sprintf("%s error in %s stage: %v", e.Kind, e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(kind ErrorKind, stage string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Err: err}
}

// KindOf extracts the classification from an error chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Exit codes per failure category. Success is 0, unclassified failures are 1.
const (
	ExitProbeFailure    = 2
	ExitFragmentFailure = 3
	ExitMergeFailure    = 4
	ExitConfigFailure   = 5
	ExitDiskFailure     = 6
)

func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case KindProbe:
		return ExitProbeFailure
	case KindTransient, KindNonRetryable:
		return ExitFragmentFailure
	case KindMergeIntegrity:
		return ExitMergeFailure
	case KindConfig:
		return ExitConfigFailure
	case KindDisk:
		return ExitDiskFailure
	default:
		return 1
	}
}
