package actors

import (
	"sync"

	"github.com/sasha-s/go-deadlock"
)

var terminateChan = make(chan struct{})
var terminateOnce = &sync.Once{}
var waitGroup = &deadlock.WaitGroup{}

// GetTerminateChan returns the channel that is closed when the engine is
// shutting down. Long running goroutines select on it.
func GetTerminateChan() chan struct{} {
	return terminateChan
}

// GetWaitGroup returns the engine-wide waitgroup; every long running goroutine
// adds a delta so Shutdown can block until everything has wound down.
func GetWaitGroup() *deadlock.WaitGroup {
	return waitGroup
}

// Shutdown closes the terminate channel and waits for goroutines to finish.
// Safe to call more than once.
func Shutdown() {
	terminateOnce.Do(func() {
		close(terminateChan)
	})
	waitGroup.Wait()
}
