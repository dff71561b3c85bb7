package logging

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const Stacktrace = "stacktrace"

type stackTracer interface {
	StackTrace() errors.StackTrace
}

type causer interface {
	Cause() error
}

type unwrapper interface {
	Unwrap() error
}

// WithStacktrace adds err to the entry, along with the first stack trace recorded in its chain.
func WithStacktrace(logger *logrus.Entry, err error) *logrus.Entry {
	logger = logger.WithError(err)
	if stack := ExtractStack(err); stack != nil {
		logger = logger.WithField(Stacktrace, stack)
	}
	return logger
}

// ExtractStack returns the first errors.StackTrace found walking the chain through both pkg/errors causes
// and standard library wrapping (the typed errors in maestroerrors only implement Unwrap).
func ExtractStack(err error) errors.StackTrace {
	switch e := err.(type) {
	case nil:
		return nil
	case stackTracer:
		return e.StackTrace()
	case causer:
		return ExtractStack(e.Cause())
	case unwrapper:
		return ExtractStack(e.Unwrap())
	}
	return nil
}
