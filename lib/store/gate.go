package store

import (
	"context"
	"golang.org/x/sync/semaphore"
)

// --------------------------------------------------------------------------
// Writer Gate
// --------------------------------------------------------------------------

// writerGate admits one writer per environment. Waiting writers are served
// in FIFO order, a cancelled wait leaves no trace.
type writerGate struct {
	sem    *semaphore.Weighted
	policy WriterPolicy
}

func newWriterGate(policy WriterPolicy) *writerGate {
	if policy == "" {
		policy = WriterBlock
	}
	return &writerGate{sem: semaphore.NewWeighted(1), policy: policy}
}

// acquire applies the writer policy. Under WriterFailFast it never waits,
// ctx only bounds the wait of WriterBlock.
func (g *writerGate) acquire(ctx context.Context) error {
	if g.policy == WriterFailFast {
		return g.tryAcquire()
	}
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return WrapError(RetCWriteTxnUnavailable, "waiting for the writer", err)
	}
	return nil
}

func (g *writerGate) tryAcquire() error {
	if !g.sem.TryAcquire(1) {
		return NewError(RetCWriteTxnUnavailable, "another write transaction is active")
	}
	return nil
}

func (g *writerGate) release() {
	g.sem.Release(1)
}
