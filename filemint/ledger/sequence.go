package ledger

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// SequenceLock serializes submissions per signing address. The slot is held from nonce
// acquisition until the node has accepted or refused the transaction, so two submissions
// from one signer can never race for the same sequence number.
type SequenceLock struct {
	mu    sync.Mutex
	slots map[common.Address]chan struct{}
}

func NewSequenceLock() *SequenceLock {
	return &SequenceLock{slots: map[common.Address]chan struct{}{}}
}

func (l *SequenceLock) slot(addr common.Address) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[addr]
	if !ok {
		s = make(chan struct{}, 1)
		l.slots[addr] = s
	}
	return s
}

// Acquire waits for the signer's slot. Waiters are served in arrival order.
func (l *SequenceLock) Acquire(ctx context.Context, addr common.Address) (release func(), err error) {
	s := l.slot(addr)
	select {
	case s <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-s })
	}, nil
}
