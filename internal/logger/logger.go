// Package logger holds the process-wide structured logger. Components get a
// named child through Named and log with key/value pairs.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// Options configures the root logger.
type Options struct {
	Level  string
	Format string // "text" or "json"
	Output io.Writer
}

var (
	mu   sync.RWMutex
	root hclog.Logger = newRoot(Options{
		Level:  os.Getenv("LOG_LEVEL"),
		Format: os.Getenv("LOG_FORMAT"),
	})
)

// ParseLevel maps a level name to an hclog level. Unknown or empty names
// mean info.
func ParseLevel(name string) hclog.Level {
	if level := hclog.LevelFromString(name); level != hclog.NoLevel {
		return level
	}
	return hclog.Info
}

func newRoot(opts Options) hclog.Logger {
	level := ParseLevel(opts.Level)
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       "projectace",
		Level:      level,
		Output:     out,
		JSONFormat: strings.EqualFold(opts.Format, "json"),
	})
}

// Configure replaces the root logger.
func Configure(opts Options) hclog.Logger {
	l := newRoot(opts)
	Set(l)
	return l
}

// Set installs l as the root logger.
func Set(l hclog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	root = l
}

// Get returns the root logger.
func Get() hclog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root
}

// Named returns a sub-logger of the root.
func Named(name string) hclog.Logger {
	return Get().Named(name)
}

// Info logs informational messages
func Info(msg string, args ...interface{}) {
	Get().Info(msg, args...)
}

// Warn logs warning messages
func Warn(msg string, args ...interface{}) {
	Get().Warn(msg, args...)
}

// Error logs error messages
func Error(msg string, args ...interface{}) {
	Get().Error(msg, args...)
}

// Debug logs debug messages
func Debug(msg string, args ...interface{}) {
	Get().Debug(msg, args...)
}
