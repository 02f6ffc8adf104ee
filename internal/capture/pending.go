package capture

import (
	"sync"
	"sync/atomic"
)

// pendingWrites tracks persistence writes issued during a session. The
// finalize path drains it before marking the session ended, which is what
// guarantees the exported archive sees every artifact.
type pendingWrites struct {
	wg sync.WaitGroup
	n  atomic.Int64
}

func newPendingWrites() *pendingWrites {
	return &pendingWrites{}
}

// add registers one in-flight write. Callers must pair it with done.
func (p *pendingWrites) add() {
	p.wg.Add(1)
	p.n.Add(1)
}

func (p *pendingWrites) done() {
	p.n.Add(-1)
	p.wg.Done()
}

// inFlight returns the current number of tracked writes.
func (p *pendingWrites) inFlight() int64 {
	return p.n.Load()
}

// wait blocks until every tracked write has completed.
func (p *pendingWrites) wait() {
	p.wg.Wait()
}
