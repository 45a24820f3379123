//go:build deadlock

package syncutil

import (
	"time"

	deadlock "github.com/sasha-s/go-deadlock"
)

func init() {
	// A full refresh holds the panel lock for roughly 35s; only report
	// waits that clearly exceed one.
	deadlock.Opts.DeadlockTimeout = 2 * time.Minute
}

// Mutex wraps deadlock.Mutex.
type Mutex struct {
	deadlock.Mutex
}

// RWMutex wraps deadlock.RWMutex.
type RWMutex struct {
	deadlock.RWMutex
}
