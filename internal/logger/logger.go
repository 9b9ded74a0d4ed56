// Package logger is the service-wide leveled logger. Info, Warn and Error
// always print; Debug prints only in verbose mode.
package logger

import (
	"io"
	"log"
	"os"
	"sync"
)

var (
	mu      sync.RWMutex
	verbose bool
	std     = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)
)

// SetVerbose enables or disables debug output.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
}

func IsVerbose() bool {
	mu.RLock()
	defer mu.RUnlock()
	return verbose
}

// SetOutput redirects all log lines. Defaults to os.Stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	std.SetOutput(w)
}

// Writer returns the current destination, for libraries that take an io.Writer.
func Writer() io.Writer {
	mu.RLock()
	defer mu.RUnlock()
	return std.Writer()
}

func Debug(format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	if verbose {
		std.Printf("[DEBUG] "+format, args...)
	}
}

func Info(format string, args ...any) {
	logf("[INFO] ", format, args...)
}

func Warn(format string, args ...any) {
	logf("[WARN] ", format, args...)
}

func Error(format string, args ...any) {
	logf("[ERROR] ", format, args...)
}

func logf(prefix, format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	std.Printf(prefix+format, args...)
}
