//go:build !unix

package config

import "sync"

var mu sync.Mutex

// withLock only serializes updates within this process.
func withLock(dir string, fn func() error) error {
	mu.Lock()
	defer mu.Unlock()
	return fn()
}
