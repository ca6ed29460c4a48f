package dbpool

import (
	"context"
	"sync"
	"testing"
	"time"
)

// testPool builds a Pool whose dialFunc hands out bare, connless sessions —
// enough to exercise Acquire/Release/Stats bookkeeping without a live
// Oracle wallet, following the teacher's pool_test.go approach of testing
// pool mechanics independent of the real backend protocol.
func testPool(t *testing.T, cfg Config) *Pool {
	t.Helper()
	p := &Pool{
		cfg:    cfg,
		active: make(map[*Session]struct{}),
		stopCh: make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	p.dialFunc = func(ctx context.Context) (*Session, error) {
		now := time.Now()
		return &Session{createdAt: now, idleSince: now, descriptorCache: map[string]interface{}{}}, nil
	}
	t.Cleanup(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		close(p.stopCh)
	})
	return p
}

func TestAcquireReleaseBalance(t *testing.T) {
	p := testPool(t, Config{MaxSessions: 3, WaitTimeout: time.Second})

	var sessions []*Session
	for i := 0; i < 3; i++ {
		s, err := p.Acquire(context.Background())
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		sessions = append(sessions, s)
	}

	if got := p.Stats().Busy; got != 3 {
		t.Fatalf("expected busy=3, got %d", got)
	}

	for _, s := range sessions {
		p.Release(s)
	}

	stats := p.Stats()
	if stats.Busy != 0 {
		t.Fatalf("expected busy=0 after release, got %d", stats.Busy)
	}
	if stats.Open != 3 {
		t.Fatalf("expected open=3, got %d", stats.Open)
	}
}

// TestPoolExhaustion matches spec.md scenario 4: max_sessions=2, two
// sessions held, a third Acquire with a 100ms wait_timeout must fail with
// ErrPoolExhausted in >=100ms and <200ms.
func TestPoolExhaustion(t *testing.T) {
	p := testPool(t, Config{MaxSessions: 2, WaitTimeout: 100 * time.Millisecond})

	s1, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	s2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	_ = s1
	_ = s2

	start := time.Now()
	_, err = p.Acquire(context.Background())
	elapsed := time.Since(start)

	if err != ErrPoolExhausted {
		t.Fatalf("expected ErrPoolExhausted, got %v", err)
	}
	if elapsed < 100*time.Millisecond || elapsed > 200*time.Millisecond {
		t.Fatalf("expected 100ms<=elapsed<200ms, got %v", elapsed)
	}
}

func TestAcquireAfterReleaseUnblocksWaiter(t *testing.T) {
	p := testPool(t, Config{MaxSessions: 1, WaitTimeout: time.Second})

	s1, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		s2, err := p.Acquire(context.Background())
		if err != nil {
			t.Errorf("second acquire: %v", err)
			return
		}
		p.Release(s2)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond) // let the goroutine start waiting
	p.Release(s1)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter was not unblocked by release")
	}
}

// TestCloseFailsSubsequentAcquire matches P1's "after close, acquire fails".
func TestCloseFailsSubsequentAcquire(t *testing.T) {
	p := testPool(t, Config{MaxSessions: 2, WaitTimeout: time.Second})
	s, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	p.Release(s)

	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()

	if _, err := p.Acquire(context.Background()); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestRetiredSessionNotRecycled(t *testing.T) {
	p := testPool(t, Config{MaxSessions: 2, WaitTimeout: time.Second})
	s, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	s.Retire()
	p.Release(s)

	if got := p.Stats().Open; got != 0 {
		t.Fatalf("expected open=0 after releasing a retired session, got %d", got)
	}
}

func TestSetTuningUpdatesLimitsAndWakesWaiters(t *testing.T) {
	p := testPool(t, Config{MaxSessions: 1, WaitTimeout: 2 * time.Second})

	s, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	waited := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background())
		waited <- err
	}()

	time.Sleep(20 * time.Millisecond)
	p.SetTuning(Config{MaxSessions: 2, WaitTimeout: 2 * time.Second, MinSessions: 1})

	select {
	case err := <-waited:
		if err != nil {
			t.Fatalf("expected the raised MaxSessions to unblock the waiter, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected SetTuning's MaxSessions increase to wake the waiting Acquire")
	}

	_ = s
}
