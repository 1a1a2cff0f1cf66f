package safe

import (
	"WSChat/logger"
)

// Go starts a new goroutine that recovers from panic,
// so that panics don't crash the entire program.
func Go(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[SafeGo] panic recovered: %v", r)
			}
		}()
		f()
	}()
}

// Call invokes f on the current goroutine with panic isolation.
// Used for user-supplied listener callbacks where one bad listener
// must not break the chain.
func Call(name string, f func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[SafeCall] %s panic recovered: %v", name, r)
		}
	}()
	f()
}
