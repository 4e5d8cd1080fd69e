// Package logging holds the process-wide logrus logger. Components ask for a
// child entry tagged with their name instead of using a global logger.
package logging

import (
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

type Setter func(*logrus.Logger) error

var root = struct {
	logger *logrus.Logger
	mu     sync.Mutex
}{
	logger: func() *logrus.Logger {
		l := logrus.New()
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		return l
	}(),
}

// Logger is what components hold.
type Logger = logrus.FieldLogger

// New returns an entry tagged with component, applying setters to the root
// logger first.
func New(component string, setters ...Setter) Logger {
	for _, s := range setters {
		_ = Set(s)
	}
	return root.logger.WithField("component", component)
}

func Set(setter Setter) error {
	root.mu.Lock()
	defer root.mu.Unlock()
	return setter(root.logger)
}

// Level parses lvl; an unknown level falls back to info and is reported.
func Level(lvl string) Setter {
	l, err := logrus.ParseLevel(lvl)
	if err != nil {
		root.logger.WithError(err).Warnf("unknown log level %q, using info", lvl)
		l = logrus.InfoLevel
	}
	return func(r *logrus.Logger) error {
		r.SetLevel(l)
		return nil
	}
}

// JSON switches the root formatter to JSON lines.
func JSON() Setter {
	return func(r *logrus.Logger) error {
		r.SetFormatter(&logrus.JSONFormatter{})
		return nil
	}
}

// Discard returns a logger that drops everything; handy in tests.
func Discard() Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
