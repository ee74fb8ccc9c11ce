package stream

import (
	"log"
	"os"
)

// Logger is the logging interface of the package. *zap.SugaredLogger satisfies it.
type Logger interface {
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
}

type stdLog struct {
	logger *log.Logger
	warn   bool
}

var _ Logger = (*stdLog)(nil)

func (s *stdLog) Infof(format string, v ...interface{}) {
	// NOTE: there is no concept of levels in the stdlib log package
	// For less noise, this implementation does not print info messages.
	// To see these use a proper logger, e.g. https://github.com/uber-go/zap
}

func (s *stdLog) Warnf(format string, v ...interface{}) {
	if s.warn {
		s.logger.Printf("WARN "+format, v...)
	}
}

func (s *stdLog) Errorf(format string, v ...interface{}) {
	s.logger.Printf("ERROR "+format, v...)
}

var (
	defaultLogger   Logger = &stdLog{logger: log.New(os.Stderr, "", log.LstdFlags), warn: true}
	errorOnlyLogger Logger = &stdLog{logger: log.New(os.Stderr, "", log.LstdFlags)}
)

// DefaultLogger returns the logger used when none is configured. It prints
// warnings and errors to stderr.
func DefaultLogger() Logger {
	return defaultLogger
}

// ErrorOnlyLogger returns a logger that prints only errors to stderr.
func ErrorOnlyLogger() Logger {
	return errorOnlyLogger
}
