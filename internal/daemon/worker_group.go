package daemon

import (
	"context"
	"sync"
)

// workerGroup tracks daemon-owned goroutines. Once stopping, Go refuses new work so
// WaitGroup.Add never races with Wait.
type workerGroup struct {
	mu       sync.Mutex
	wg       sync.WaitGroup
	stopping bool
}

func (g *workerGroup) reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopping = false
	g.wg = sync.WaitGroup{}
}

func (g *workerGroup) Go(fn func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopping || fn == nil {
		return false
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn()
	}()
	return true
}

// stopAndWait waits for running workers, bounded by ctx.
func (g *workerGroup) stopAndWait(ctx context.Context) error {
	g.mu.Lock()
	g.stopping = true
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
