//go:build !deadlock

// Package syncutil holds the lock types shared by the display driver and the
// HTTP layer. The default build uses the standard library; building with
// -tags=deadlock swaps in github.com/sasha-s/go-deadlock so a stuck panel
// refresh shows up as a lock report instead of a silent hang.
package syncutil

import "sync"

// Mutex wraps sync.Mutex.
type Mutex struct {
	sync.Mutex
}

// RWMutex wraps sync.RWMutex.
type RWMutex struct {
	sync.RWMutex
}
