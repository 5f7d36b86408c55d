package utils

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus so call sites can pass alternating key/value pairs
// that land as structured fields instead of being concatenated into the
// message.
type Logger struct {
	*logrus.Logger
}

var baseLogger *logrus.Logger

// InitLogger initializes the global logger
func InitLogger(level, format, output, file string) error {
	baseLogger = logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	baseLogger.SetLevel(logLevel)

	if format == "json" {
		baseLogger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	} else {
		baseLogger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	}

	if output == "file" && file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return err
		}
		baseLogger.SetOutput(f)
	} else {
		baseLogger.SetOutput(os.Stdout)
	}

	return nil
}

// GetLogger returns the global logger instance
func GetLogger() *Logger {
	if baseLogger == nil {
		InitLogger("info", "json", "stdout", "")
	}
	return &Logger{Logger: baseLogger}
}

// fields pairs up the trailing arguments. A dangling key without a value
// is kept with a nil value rather than dropped.
func (l *Logger) fields(keysAndValues []interface{}) logrus.Fields {
	fields := make(logrus.Fields, len(keysAndValues)/2+1)
	for i := 0; i < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		if i+1 < len(keysAndValues) {
			fields[key] = keysAndValues[i+1]
		} else {
			fields[key] = nil
		}
	}
	return fields
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.Logger.WithFields(l.fields(keysAndValues)).Debug(msg)
}

func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.Logger.WithFields(l.fields(keysAndValues)).Info(msg)
}

func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.Logger.WithFields(l.fields(keysAndValues)).Warn(msg)
}

func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.Logger.WithFields(l.fields(keysAndValues)).Error(msg)
}
