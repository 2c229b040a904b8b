// Package logging, logrus standart logger'ını config'e göre ayarlar.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Setup, standart logger'ın seviyesini ve formatını ayarlar ve döner.
// format: "text" (varsayılan) veya "json".
func Setup(level, format string) (*logrus.Logger, error) {
	return configure(logrus.StandardLogger(), os.Stderr, level, format)
}

// New, ayrı bir logger üretir (testler ve CLI alt komutları için).
func New(out io.Writer, level, format string) (*logrus.Logger, error) {
	return configure(logrus.New(), out, level, format)
}

func configure(l *logrus.Logger, out io.Writer, level, format string) (*logrus.Logger, error) {
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	l.SetLevel(lvl)
	l.SetOutput(out)

	switch strings.ToLower(format) {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
	return l, nil
}
