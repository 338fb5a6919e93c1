package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Log is usable before Init so library code and tests never see a nil logger.
var Log = newLogger(os.Stderr, "info")

// Init configures the global logger from LOG_LEVEL.
func Init() {
	Log = newLogger(os.Stdout, os.Getenv("LOG_LEVEL"))
}

// InitWithLevel is Init with an explicit level, used by the CLI flags.
func InitWithLevel(level string) {
	Log = newLogger(os.Stderr, level)
}

// Silence discards all output. Handy in tests that exercise noisy paths.
func Silence() {
	Log.SetOutput(io.Discard)
}

func newLogger(out io.Writer, level string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})

	level = strings.TrimSpace(level)
	if level == "" {
		level = "info"
	}

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	l.SetLevel(logLevel)
	return l
}

func WithField(key string, value interface{}) *logrus.Entry {
	return Log.WithField(key, value)
}

func WithFields(fields logrus.Fields) *logrus.Entry {
	return Log.WithFields(fields)
}
