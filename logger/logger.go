// Package logger configures the shared structured logger. Sync outcomes are
// only observable through logs, so every component routes through it.
package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls log output and verbosity.
type Options struct {
	// Path enables rotated file logging when set; empty logs to stderr.
	Path string
	// Level is a logrus level name ("debug", "info", ...). Invalid or empty
	// falls back to info.
	Level string
	// JSON switches to the JSON formatter.
	JSON bool
}

// Setup initializes the process-wide logger.
func Setup(opts Options) {
	var out io.Writer = os.Stderr
	if opts.Path != "" {
		out = &lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
	}
	logrus.SetOutput(out)

	if opts.JSON {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

func Debugf(format string, args ...interface{}) {
	logrus.Debugf(format, args...)
}

func Infof(format string, args ...interface{}) {
	logrus.Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	logrus.Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	logrus.Errorf(format, args...)
}
