// Package debug holds a process-wide verbose-logging toggle for the
// producer/consumer engines, settable via environment variable or the
// admin server's debug endpoint without a restart.
package debug

import (
	"os"
	"sync"
)

var (
	enabled bool
	mu      sync.RWMutex
)

func init() {
	// Runs even when nothing calls into cmd/gepd's main (e.g. tests).
	InitFromEnv()
}

// Enabled returns whether verbose engine logging is on.
func Enabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled
}

// SetEnabled sets whether verbose engine logging is on.
func SetEnabled(value bool) {
	mu.Lock()
	defer mu.Unlock()
	enabled = value
}

// InitFromEnv enables debug logging from GEP_DEBUG=true, or from
// LOG_LEVEL=debug.
func InitFromEnv() {
	if os.Getenv("GEP_DEBUG") == "true" {
		SetEnabled(true)
		return
	}
	if os.Getenv("LOG_LEVEL") == "debug" {
		SetEnabled(true)
		return
	}
	SetEnabled(false)
}

// InitFromLogLevel sets the toggle from a parsed log level string, unless
// an environment variable already decided it.
func InitFromLogLevel(logLevel string) {
	if os.Getenv("GEP_DEBUG") == "" && os.Getenv("LOG_LEVEL") == "" {
		SetEnabled(logLevel == "debug")
	}
}
