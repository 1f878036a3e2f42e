package model

import (
	"errors"
	"strings"
)

// StatusKind tags the cause of a terminal outcome. The set is open: the
// well-known kinds below are what the core itself produces, and any other
// non-empty kind is passed through untouched.
type StatusKind string

const (
	// StatusSucceeded marks a job that ran every stage to completion.
	StatusSucceeded StatusKind = "succeeded"
	// StatusErrored marks a job that the pipeline gave up on.
	StatusErrored StatusKind = "errored"
	// StatusCancelled marks a job cancelled by an operator.
	StatusCancelled StatusKind = "cancelled"
)

// JobStatus is the terminal outcome attached to completed and failed jobs.
type JobStatus struct {
	Kind    StatusKind `json:"kind"`
	Message string     `json:"message,omitempty"`
}

// Succeeded builds a success status.
func Succeeded(message string) JobStatus {
	return JobStatus{Kind: StatusSucceeded, Message: message}
}

// Errored builds an error status.
func Errored(message string) JobStatus {
	return JobStatus{Kind: StatusErrored, Message: message}
}

// Cancelled builds a cancellation status.
func Cancelled(message string) JobStatus {
	if strings.TrimSpace(message) == "" {
		message = "cancelled by operator"
	}
	return JobStatus{Kind: StatusCancelled, Message: message}
}

// IsCancellation reports whether the status records an operator cancellation.
func (s JobStatus) IsCancellation() bool {
	return s.Kind == StatusCancelled
}

// Validate ensures the status carries a kind.
func (s JobStatus) Validate() error {
	if strings.TrimSpace(string(s.Kind)) == "" {
		return errors.New("status kind is required and cannot be empty")
	}
	return nil
}

// String renders the status as "kind: message".
func (s JobStatus) String() string {
	if s.Message == "" {
		return string(s.Kind)
	}
	return string(s.Kind) + ": " + s.Message
}
