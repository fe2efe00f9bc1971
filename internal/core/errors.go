package core

import "errors"

var (
	// ErrSubjectNotFound reports that the subject does not exist upstream.
	ErrSubjectNotFound = errors.New("subject not found")

	// ErrRetriesExhausted reports that every attempt of a request was consumed
	// by rate-limit waits.
	ErrRetriesExhausted = errors.New("upstream retries exhausted while rate limited")

	// ErrNoMetricUnits reports a registry with nothing to execute.
	ErrNoMetricUnits = errors.New("no metric units registered")
)
