// Package lola collects the ambient pieces every other package in this
// module depends on: the public error taxonomy, logging configuration,
// and the Runtime handle that threads collaborators through instead of a
// process-wide singleton.
package lola

import "errors"

// Error classification sentinels. Component packages wrap one of these
// with additional context via fmt.Errorf("...: %w", ...); callers
// classify with errors.Is against the sentinel, never against a
// component-specific error value.
var (
	// ErrBindingFailure marks lifecycle-contention and discovery-fatal
	// failures: another skeleton holds the existence lock, a directory
	// could not be created, or a filesystem status call failed.
	ErrBindingFailure = errors.New("lola: binding failure")

	// ErrErroneousFileHandle marks SHM create/open failures.
	ErrErroneousFileHandle = errors.New("lola: erroneous file handle")

	// ErrCallQueueFull marks a non-fatal method call queue exhaustion.
	ErrCallQueueFull = errors.New("lola: call queue full")
)
