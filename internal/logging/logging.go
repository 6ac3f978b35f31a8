// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Output formats accepted by Init.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Init sets the standard logger's level and formatter.
// An empty level means info; an empty format means text.
func Init(level, format string) error {
	return Configure(logrus.StandardLogger(), os.Stderr, level, format)
}

// Configure applies level and format to l, writing to out.
func Configure(l *logrus.Logger, out io.Writer, level, format string) error {
	if level == "" {
		level = logrus.InfoLevel.String()
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	switch strings.ToLower(format) {
	case "", FormatText:
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})
	case FormatJSON:
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("invalid log format %q", format)
	}

	l.SetLevel(lvl)
	l.SetOutput(out)
	return nil
}
