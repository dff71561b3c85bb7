// Package maestroerrors contains the errors shared by the control plane, the test runner and the
// telemetry tooling. Callers create them wrapped with errors.WithStack and inspect them with errors.As.
//
// If multiple errors occur in some function (e.g., several log files fail to aggregate), that
// function should return an error of type multierror.Error from package
// github.com/hashicorp/go-multierror that encapsulates those individual errors.
package maestroerrors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrNoPeers is returned when discovery finds no sender or receiver to run a test with.
var ErrNoPeers = errors.New("no workers discovered")

// ErrConnection indicates that the control-plane transport could not be reached,
// or that subscribing failed after a successful connect.
type ErrConnection struct {
	Url      string
	Attempts int
	Message  string
	Err      error
}

func (err *ErrConnection) Error() (s string) {
	if err.Attempts > 0 {
		s = fmt.Sprintf("failed to connect to %q after %d attempt(s)", err.Url, err.Attempts)
	} else {
		s = fmt.Sprintf("connection to %q failed", err.Url)
	}
	if err.Message != "" {
		s = s + fmt.Sprintf("; %s", err.Message)
	}
	if err.Err != nil {
		s = s + fmt.Sprintf(": %s", err.Err)
	}
	return
}

func (err *ErrConnection) Unwrap() error {
	return err.Err
}

// ErrMalformedNote is returned when a payload does not decode to a known note.
type ErrMalformedNote struct {
	Type    int16
	Command int64
	Message string
}

func (err *ErrMalformedNote) Error() string {
	return fmt.Sprintf("malformed note (type %d, command %d): %s", err.Type, err.Command, err.Message)
}

// ErrProtocolTimeout indicates that the reply-retry budget ran out before every peer reported.
type ErrProtocolTimeout struct {
	Budget  int
	Pending []string
}

func (err *ErrProtocolTimeout) Error() string {
	if len(err.Pending) == 0 {
		return fmt.Sprintf("timed out after %d polls waiting for peers to report", err.Budget)
	}
	return fmt.Sprintf(
		"timed out after %d polls waiting for peers to report; still pending: %s",
		err.Budget, strings.Join(err.Pending, ", "),
	)
}

// ErrSlaViolation indicates that a latency evaluator rejected the run.
type ErrSlaViolation struct {
	Evaluator string
	Threshold int64
	Actual    int64
}

func (err *ErrSlaViolation) Error() string {
	return fmt.Sprintf("%s evaluator failed: %dus exceeds the %dus threshold", err.Evaluator, err.Actual, err.Threshold)
}

// ErrVerification indicates that a downloaded artifact does not match the hash reported by its peer.
type ErrVerification struct {
	File     string
	Expected string
	Actual   string
}

func (err *ErrVerification) Error() string {
	return fmt.Sprintf("hash mismatch for %s: expected %s, got %s", err.File, err.Expected, err.Actual)
}

// ErrNotFound is a generic error to be returned whenever some resource isn't found.
// Type and Message are optional and are omitted from the error message if not provided.
type ErrNotFound struct {
	Type    string
	Value   string
	Message string
}

func (err *ErrNotFound) Error() (s string) {
	if err.Type != "" {
		s = fmt.Sprintf("resource %q of type %q does not exist", err.Value, err.Type)
	} else {
		s = fmt.Sprintf("resource %q does not exist", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	} else {
		return s
	}
}

// ErrInvalidArgument is a generic error to be returned on invalid argument.
// Message is optional and is omitted from the error message if not provided.
type ErrInvalidArgument struct {
	Name    string      // Name of the field referred to, e.g., "rate"
	Value   interface{} // The invalid value that was provided
	Message string      // An optional message to include with the error message, e.g., explaining why the value is invalid
}

func (err *ErrInvalidArgument) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("value %q is invalid for field %q", err.Value, err.Name)
	} else {
		return fmt.Sprintf("value %q is invalid for field %q; %s", err.Value, err.Name, err.Message)
	}
}

// Process exit codes reported by the CLI.
const (
	ExitOk = iota
	ExitUnknown
	ExitInvalidArgument
	ExitConnection
	ExitTestFailed
)

// ExitCodeFromError maps error types to process exit codes.
// Uses errors.As to look through the chain of errors, as opposed to just considering the topmost error in the chain.
func ExitCodeFromError(err error) int {
	if err == nil {
		return ExitOk
	}

	// Using {} scopes just to re-use the "e" variable name for each case.
	{
		var e *ErrInvalidArgument
		if errors.As(err, &e) {
			return ExitInvalidArgument
		}
	}
	{
		var e *ErrConnection
		if errors.As(err, &e) {
			return ExitConnection
		}
	}
	if IsTestFailure(err) {
		return ExitTestFailed
	}
	return ExitUnknown
}

// IsTestFailure reports whether err classifies a test iteration as failed rather than aborting the run.
func IsTestFailure(err error) bool {
	if errors.Is(err, ErrNoPeers) {
		return true
	}
	{
		var e *ErrProtocolTimeout
		if errors.As(err, &e) {
			return true
		}
	}
	{
		var e *ErrSlaViolation
		if errors.As(err, &e) {
			return true
		}
	}
	return false
}
