// Package mlslog is the process-wide logger, generalized from the
// teacher's dvid.Logger interface (dvid/log.go, dvid/log_standard.go):
// a severity-gated Logger interface backed by the standard log package,
// writing to a github.com/natefinch/lumberjack rotating file when one is
// configured.
package mlslog

import (
	"log"
	"os"

	"github.com/natefinch/lumberjack"
)

// ModeFlag is the minimum severity that reaches the sink.
type ModeFlag int

const (
	DebugMode ModeFlag = iota
	InfoMode
	WarningMode
	ErrorMode
	CriticalMode
	SilentMode
)

// Logger is the severity-leveled logging interface every pipeline stage
// uses instead of calling the log package directly.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	// Criticalf logs at the highest severity and is always written
	// regardless of mode; callers that exit the process after a fatal
	// error call this first.
	Criticalf(format string, args ...interface{})
	Close() error
}

type stdLogger struct {
	mode   ModeFlag
	logger *log.Logger
	closer interface{ Close() error }
}

// Options configures the default logger.
type Options struct {
	Mode ModeFlag
	// File, if set, is a rotating log file path (natefinch/lumberjack);
	// otherwise logs go to stderr.
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// New builds a Logger per opts.
func New(opts Options) Logger {
	var out = os.Stderr
	var lj *lumberjack.Logger
	if opts.File != "" {
		lj = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    nonZero(opts.MaxSizeMB, 100),
			MaxBackups: nonZero(opts.MaxBackups, 5),
		}
	}
	l := &stdLogger{mode: opts.Mode}
	if lj != nil {
		l.logger = log.New(lj, "", log.LstdFlags)
		l.closer = lj
	} else {
		l.logger = log.New(out, "", log.LstdFlags)
	}
	return l
}

func nonZero(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func (l *stdLogger) Debugf(format string, args ...interface{}) {
	if l.mode <= DebugMode {
		l.logger.Printf("   DEBUG "+format, args...)
	}
}

func (l *stdLogger) Infof(format string, args ...interface{}) {
	if l.mode <= InfoMode {
		l.logger.Printf("    INFO "+format, args...)
	}
}

func (l *stdLogger) Warningf(format string, args ...interface{}) {
	if l.mode <= WarningMode {
		l.logger.Printf(" WARNING "+format, args...)
	}
}

func (l *stdLogger) Errorf(format string, args ...interface{}) {
	if l.mode <= ErrorMode {
		l.logger.Printf("   ERROR "+format, args...)
	}
}

func (l *stdLogger) Criticalf(format string, args ...interface{}) {
	l.logger.Printf("CRITICAL "+format, args...)
}

func (l *stdLogger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}
