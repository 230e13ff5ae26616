package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// Status is the tag of a step Result.
type Status string

const (
	// StatusNotRun marks a step the executor never reached.
	StatusNotRun Status = "not_run"
	// StatusSuccess marks a step whose operation completed.
	StatusSuccess Status = "success"
	// StatusFailure marks a step whose operation failed and aborted the run.
	StatusFailure Status = "failure"
)

// FailureKind classifies why a step failed.
type FailureKind string

const (
	// KindTransient is a failure whose cause was transient but could not be
	// recovered within the retry budget.
	KindTransient FailureKind = "transient"
	// KindFatal is a failure that must not be retried.
	KindFatal FailureKind = "fatal"
	// KindPanic is a programming error recovered from a step operation.
	KindPanic FailureKind = "panic"
)

// Result is the tagged outcome of one step. A Result is read-only once the
// executor has recorded it.
type Result struct {
	Status   Status        `json:"status"`
	Value    string        `json:"value,omitempty"`
	Kind     FailureKind   `json:"kind,omitempty"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"-"`
}

// NotRun is the result reported for steps that never executed.
var NotRun = Result{Status: StatusNotRun}

// Success builds a successful Result carrying a short human readable value.
func Success(value string) Result {
	return Result{Status: StatusSuccess, Value: value}
}

// Failure builds a failed Result.
func Failure(kind FailureKind, detail string) Result {
	return Result{Status: StatusFailure, Kind: kind, Detail: detail}
}

// Failuref builds a fatal failed Result from a format string.
func Failuref(format string, args ...any) Result {
	return Failure(KindFatal, fmt.Sprintf(format, args...))
}

// transient is implemented by errors that describe an exhausted transient cause.
type transient interface {
	Transient() bool
}

// FailureFrom converts a collaborator error into a failed Result.
func FailureFrom(err error) Result {
	if err == nil {
		return Failure(KindFatal, "unknown error")
	}
	kind := KindFatal
	var t transient
	if errors.As(err, &t) && t.Transient() {
		kind = KindTransient
	}
	return Failure(kind, err.Error())
}

// Succeeded reports whether the step ran and succeeded.
func (r Result) Succeeded() bool {
	return r.Status == StatusSuccess
}

// Failed reports whether the step ran and failed.
func (r Result) Failed() bool {
	return r.Status == StatusFailure
}

// Ran reports whether the executor reached the step at all.
func (r Result) Ran() bool {
	return r.Status == StatusSuccess || r.Status == StatusFailure
}

func (r Result) String() string {
	switch r.Status {
	case StatusSuccess:
		if r.Value == "" {
			return "success"
		}
		return "success: " + r.Value
	case StatusFailure:
		return fmt.Sprintf("failure (%s): %s", r.Kind, r.Detail)
	default:
		return "not run"
	}
}
