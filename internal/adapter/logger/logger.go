package logger

import (
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Setup configures the global logrus logger. With format "json" the
// output is structured; otherwise a timestamped text formatter is used.
// When filePath is set, logs are mirrored to the file as well as stderr.
func Setup(level logrus.Level, format, filePath string) {
	logrus.SetLevel(level)

	if format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}

	if filePath == "" {
		logrus.SetOutput(os.Stderr)
		return
	}
	if file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666); err == nil {
		logrus.SetOutput(io.MultiWriter(os.Stderr, file))
	} else {
		logrus.SetOutput(os.Stderr)
		logrus.WithError(err).Error("Could not create file for logging")
	}
}
