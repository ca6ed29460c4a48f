package taskqueue

import (
	"sync"
	"testing"
	"time"

	"github.com/zlovtnik/sentinel/internal/events"
)

func TestPushPopFIFO(t *testing.T) {
	q := New(4)
	for i := 0; i < 3; i++ {
		if err := q.Push(events.Task{Kind: events.TaskCustom, Payload: i}); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	for i := 0; i < 3; i++ {
		task, err := q.Pop(time.Second)
		if err != nil {
			t.Fatalf("pop %d: %v", i, err)
		}
		if task.Payload.(int) != i {
			t.Fatalf("expected FIFO order, got %v want %d", task.Payload, i)
		}
	}
}

func TestPushFullReturnsErrFull(t *testing.T) {
	q := New(2)
	if err := q.Push(events.Task{}); err != nil {
		t.Fatal(err)
	}
	if err := q.Push(events.Task{}); err != nil {
		t.Fatal(err)
	}
	if err := q.Push(events.Task{}); err != ErrFull {
		t.Fatalf("expected ErrFull, got %v", err)
	}
}

func TestPopTimeout(t *testing.T) {
	q := New(2)
	start := time.Now()
	_, err := q.Pop(50 * time.Millisecond)
	elapsed := time.Since(start)
	if err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed < 50*time.Millisecond {
		t.Fatalf("returned too early: %v", elapsed)
	}
}

func TestConcurrentPopsDistinctTasks(t *testing.T) {
	q := New(10)
	for i := 0; i < 10; i++ {
		q.Push(events.Task{Kind: events.TaskCustom, Payload: i})
	}

	seen := make([]int, 0, 10)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task, err := q.Pop(time.Second)
			if err != nil {
				t.Errorf("pop: %v", err)
				return
			}
			mu.Lock()
			seen = append(seen, task.Payload.(int))
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != 10 {
		t.Fatalf("expected 10 distinct tasks, got %d", len(seen))
	}
	dedup := make(map[int]bool)
	for _, v := range seen {
		if dedup[v] {
			t.Fatalf("task %d delivered twice", v)
		}
		dedup[v] = true
	}
}

func TestCloseDrainsThenEmpty(t *testing.T) {
	q := New(2)
	q.Push(events.Task{Kind: events.TaskCustom, Payload: 1})
	q.Close()

	if _, err := q.Pop(time.Second); err != nil {
		t.Fatalf("expected to drain queued task after close, got %v", err)
	}
	if _, err := q.Pop(time.Second); err != ErrEmpty {
		t.Fatalf("expected ErrEmpty after drain, got %v", err)
	}
}
