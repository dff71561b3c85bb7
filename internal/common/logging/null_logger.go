package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

// NullLogger discards everything; components under test log through it.
var NullLogger = &logrus.Logger{
	Out:       io.Discard,
	Formatter: new(logrus.TextFormatter),
	Hooks:     make(logrus.LevelHooks),
	Level:     logrus.PanicLevel,
}

// NullEntry returns an entry on NullLogger carrying the given fields.
func NullEntry(fields logrus.Fields) *logrus.Entry {
	return logrus.NewEntry(NullLogger).WithFields(fields)
}
