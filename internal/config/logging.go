package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

func init() {
	// Logging is discarded until a level is configured
	log.SetOutput(io.Discard)
}

// ParseLogLevel maps a configured level to logrus. "off", "none" and ""
// map to PanicLevel; see LoggingEnabled.
func ParseLogLevel(raw string) (log.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "off", "none":
		return log.PanicLevel, nil
	case "trace":
		return log.TraceLevel, nil
	case "debug":
		return log.DebugLevel, nil
	case "info":
		return log.InfoLevel, nil
	case "warn", "warning":
		return log.WarnLevel, nil
	case "error":
		return log.ErrorLevel, nil
	}
	return log.PanicLevel, fmt.Errorf("unknown log level %q", raw)
}

// LoggingEnabled returns whether raw names a level other than off
func LoggingEnabled(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "off", "none":
		return false
	}
	return true
}

// ConfigureLogging points logrus at stderr with the given level, or
// discards output when the level is off
func ConfigureLogging(raw string) error {
	level, err := ParseLogLevel(raw)
	if err != nil {
		return err
	}
	if !LoggingEnabled(raw) {
		log.SetOutput(io.Discard)
		return nil
	}
	log.SetOutput(os.Stderr)
	log.SetLevel(level)
	return nil
}
