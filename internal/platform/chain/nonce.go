package chain

import (
	"context"
	"sync"
)

// nonceTracker hands out sequential nonces for the bot wallet so concurrent
// market tasks do not collide. The mutex only guards the counter; the network
// lookup on resync happens outside it.
type nonceTracker struct {
	mu     sync.Mutex
	next   uint64
	synced bool
	source func(ctx context.Context) (uint64, error)
}

func newNonceTracker(source func(ctx context.Context) (uint64, error)) *nonceTracker {
	return &nonceTracker{source: source}
}

// acquire returns the next nonce to use, syncing with the node's pending
// nonce first if needed.
func (n *nonceTracker) acquire(ctx context.Context) (uint64, error) {
	n.mu.Lock()
	if n.synced {
		v := n.next
		n.next++
		n.mu.Unlock()
		return v, nil
	}
	n.mu.Unlock()

	pending, err := n.source(ctx)
	if err != nil {
		return 0, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.synced || pending > n.next {
		n.next = pending
		n.synced = true
	}
	v := n.next
	n.next++
	return v, nil
}

// reset forces a resync on the next acquire. Called after a failed send,
// since the local counter may now be ahead of the node.
func (n *nonceTracker) reset() {
	n.mu.Lock()
	n.synced = false
	n.mu.Unlock()
}
