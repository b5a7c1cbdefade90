// Package logging configures the logrus logger shared by every process.
package logging

import (
	"github.com/sirupsen/logrus"

	"chipforge-gateway/internal/config"
)

// Configure sets the log line format (text [default] or json) and the minimum
// level (trace, debug, info [default], warn, error, fatal, panic).
func Configure(cfg *config.Config) {
	switch cfg.LogFormat {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.WithField("level", cfg.LogLevel).Warn("Unknown log level, using info")
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if level >= logrus.DebugLevel {
		logrus.Warnf("%s logging level configured. Not recommended for production!", level)
	}
}

// For returns a logger tagged with the component name.
func For(component string) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"app":       "chipforge-gateway",
		"component": component,
	})
}
