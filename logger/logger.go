// Package logger provides the leveled logger injected into every component.
package logger

import (
	"fmt"
	"strings"
)

type LogLevel int

const (
	// LogDebug - DEBUG log level
	LogDebug LogLevel = iota

	// LogInfo - INFO log level
	LogInfo

	// LogWarn - WARN log level, used for recoverable anomalies
	LogWarn

	// LogError - ERROR log level (does not call os.Exit!)
	LogError
)

var logLevelPrefix = map[LogLevel]string{
	LogDebug: "DEBUG",
	LogInfo:  "INFO",
	LogWarn:  "WARN",
	LogError: "ERROR",
}

func (l LogLevel) String() string {
	if p, ok := logLevelPrefix[l]; ok {
		return p
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// ParseLogLevel maps a config string (case-insensitive) to a LogLevel.
func ParseLogLevel(s string) (LogLevel, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if name == "WARNING" {
		name = "WARN"
	}
	for level, prefix := range logLevelPrefix {
		if prefix == name {
			return level, nil
		}
	}
	return LogInfo, fmt.Errorf("unknown log level %q", s)
}

type ILogger interface {
	Printf(level LogLevel, format string, a ...interface{})
	Debugf(format string, a ...interface{})
	Infof(format string, a ...interface{})
	Warnf(format string, a ...interface{})
	Errorf(format string, a ...interface{})
}
