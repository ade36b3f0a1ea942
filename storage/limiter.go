package storage

import (
	"sync"
)

// transferLimiter bounds the number of transfers in flight. Every acquire
// must be paired with one release.
type transferLimiter struct {
	wg    sync.WaitGroup
	slots chan struct{}
}

func newTransferLimiter(n int) *transferLimiter {
	if n <= 0 {
		n = 1
	}
	return &transferLimiter{slots: make(chan struct{}, n)}
}

// acquire blocks until a slot is free.
func (l *transferLimiter) acquire() {
	l.wg.Add(1)
	l.slots <- struct{}{}
}

func (l *transferLimiter) release() {
	<-l.slots
	l.wg.Done()
}

// wait blocks until every acquired slot has been released.
func (l *transferLimiter) wait() {
	l.wg.Wait()
}
