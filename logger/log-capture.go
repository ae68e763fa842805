package logger

import (
	"fmt"
	"strings"
	"sync"
)

// CaptureLogger keeps every formatted line in memory. Tests use it to assert
// that warnings were raised.
type CaptureLogger struct {
	mu   sync.Mutex
	logs []string
}

func (l *CaptureLogger) Printf(level LogLevel, format string, a ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logs = append(l.logs, logLevelPrefix[level]+": "+fmt.Sprintf(format, a...))
}
func (l *CaptureLogger) Debugf(format string, a ...interface{}) {
	l.Printf(LogDebug, format, a...)
}
func (l *CaptureLogger) Infof(format string, a ...interface{}) {
	l.Printf(LogInfo, format, a...)
}
func (l *CaptureLogger) Warnf(format string, a ...interface{}) {
	l.Printf(LogWarn, format, a...)
}
func (l *CaptureLogger) Errorf(format string, a ...interface{}) {
	l.Printf(LogError, format, a...)
}

// Lines returns a copy of everything logged so far.
func (l *CaptureLogger) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.logs...)
}

// Contains reports whether any line at the given level contains substr.
func (l *CaptureLogger) Contains(level LogLevel, substr string) bool {
	prefix := logLevelPrefix[level] + ": "
	for _, line := range l.Lines() {
		if strings.HasPrefix(line, prefix) && strings.Contains(line, substr) {
			return true
		}
	}
	return false
}
