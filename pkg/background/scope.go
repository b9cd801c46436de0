package background

import (
	"context"
	"sync"
	"time"
)

// Scope - concurrency scope, joins cancellation and waiting of background goroutines.
type Scope struct {
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScope - builds scope derived from parent context.
func NewScope(parent context.Context) *Scope {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Scope{ctx: ctx, cancel: cancel}
}

// Context - returns scope context, it is done after Cancel.
func (s *Scope) Context() context.Context {
	return s.ctx
}

// Go - runs f in background as a scope member.
// Returns false and does not run f if the scope is already cancelled.
func (s *Scope) Go(f func(ctx context.Context)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		f(s.ctx)
	}()
	return true
}

// Cancel - cancels scope context, no new members are accepted after.
func (s *Scope) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel()
}

// Wait - waits for all members are done, but not longer than timeout.
// Non-positive timeout means wait without limit.
// Returns spent duration and true if all members have finished in time.
func (s *Scope) Wait(timeout time.Duration) (time.Duration, bool) {
	from := time.Now()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	if timeout <= 0 {
		<-done
		return time.Since(from), true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return time.Since(from), true
	case <-timer.C:
		return time.Since(from), false
	}
}
