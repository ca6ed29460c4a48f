package dbpool

import (
	"context"
	"sync"
	"time"
)

// NewForTest builds a Pool backed by a caller-supplied dialer instead of a
// live godror connection, for exercising dependent packages (workerpool,
// logflush) without Oracle connectivity. Production code must use New.
func NewForTest(cfg Config, dial func(ctx context.Context) (*Session, error)) *Pool {
	p := &Pool{
		cfg:    cfg,
		active: make(map[*Session]struct{}),
		stopCh: make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	p.dialFunc = dial
	return p
}

// NewTestSession returns a bare, connless Session suitable for exercising
// pool bookkeeping and worker-pool dispatch in tests.
func NewTestSession() *Session {
	now := time.Now()
	return &Session{createdAt: now, idleSince: now, descriptorCache: make(map[string]interface{})}
}
