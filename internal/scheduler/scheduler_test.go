package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSessionLane_DerivesDistinctKeys(t *testing.T) {
	if SessionLane("client-a") == SessionLane("client-b") {
		t.Fatal("expected different clients to derive different lane keys")
	}
	if SessionLane("client-a") != SessionLane("client-a") {
		t.Fatal("expected the same client to always derive the same lane key")
	}
}

func TestScheduler_Schedule_ReturnsResult(t *testing.T) {
	s := New()
	val, err := s.Schedule(context.Background(), LaneMain, func(ctx context.Context) (any, error) {
		return 42, nil
	}, 0)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if val != 42 {
		t.Fatalf("expected 42, got %v", val)
	}
}

func TestScheduler_Schedule_PropagatesError(t *testing.T) {
	s := New()
	boom := errors.New("boom")
	_, err := s.Schedule(context.Background(), LaneMain, func(ctx context.Context) (any, error) {
		return nil, boom
	}, 0)
	if !errors.Is(err, boom) {
		t.Fatalf("expected the command's error to propagate, got %v", err)
	}
}

func TestScheduler_Schedule_SameLaneRunsInOrder(t *testing.T) {
	s := New()
	var mu sync.Mutex
	var order []int

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Schedule(context.Background(), LaneMain, func(ctx context.Context) (any, error) {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil, nil
			}, 0)
			if err != nil {
				t.Errorf("Schedule: %v", err)
			}
		}()
		// submit strictly one at a time so FIFO order is deterministic
		wg.Wait()
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("expected strict submission order, got %v", order)
		}
	}
}

func TestScheduler_Schedule_DifferentLanesDoNotBlockEachOther(t *testing.T) {
	s := New()
	blockA := make(chan struct{})
	startedA := make(chan struct{})

	go func() {
		s.Schedule(context.Background(), LaneKey("lane-a"), func(ctx context.Context) (any, error) {
			close(startedA)
			<-blockA
			return nil, nil
		}, 0)
	}()

	<-startedA

	done := make(chan struct{})
	go func() {
		s.Schedule(context.Background(), LaneKey("lane-b"), func(ctx context.Context) (any, error) {
			return "ok", nil
		}, 0)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("a blocked lane must not stall an independent lane")
	}
	close(blockA)
}

func TestScheduler_Schedule_ContextCancelledBeforeEnqueue(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Schedule(ctx, LaneMain, func(ctx context.Context) (any, error) {
		return nil, nil
	}, 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestScheduler_Schedule_ContextCancelledWhileWaitingForLane(t *testing.T) {
	s := New()
	blockFirst := make(chan struct{})
	started := make(chan struct{})

	go func() {
		s.Schedule(context.Background(), LaneMain, func(ctx context.Context) (any, error) {
			close(started)
			<-blockFirst
			return nil, nil
		}, 0)
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Schedule(ctx, LaneMain, func(ctx context.Context) (any, error) {
		return nil, nil
	}, 0)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded while waiting behind a blocked lane task, got %v", err)
	}
	close(blockFirst)
}

func TestHeavyQueue_Enqueue_RunsAndReportsSuccess(t *testing.T) {
	q := NewHeavyQueue(4)
	ran := make(chan struct{})

	id, err := q.Enqueue("distill", func(ctx context.Context) error {
		close(ran)
		return nil
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("expected the task to run")
	}

	// Status is set asynchronously right after Run returns; poll briefly.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if done, _ := q.Status(id); done {
			break
		}
		time.Sleep(time.Millisecond)
	}

	done, err := q.Status(id)
	if !done {
		t.Fatal("expected the task to be marked done")
	}
	if err != nil {
		t.Fatalf("expected no error for a successful task, got %v", err)
	}
}

func TestHeavyQueue_Enqueue_ReportsFailure(t *testing.T) {
	q := NewHeavyQueue(4)
	boom := errors.New("distill failed")

	id, err := q.Enqueue("distill", func(ctx context.Context) error {
		return boom
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if done, _ := q.Status(id); done {
			break
		}
		time.Sleep(time.Millisecond)
	}

	done, gotErr := q.Status(id)
	if !done {
		t.Fatal("expected the task to be marked done even on failure")
	}
	if !errors.Is(gotErr, boom) {
		t.Fatalf("expected the task's error to be recorded, got %v", gotErr)
	}
}

func TestHeavyQueue_Status_UnknownIDIsNotDone(t *testing.T) {
	q := NewHeavyQueue(4)
	done, err := q.Status("never-enqueued")
	if done {
		t.Fatal("expected an unknown id to never be reported done")
	}
	if err != nil {
		t.Fatalf("expected no error for an unknown id, got %v", err)
	}
}

func TestHeavyQueue_Enqueue_RunsStrictlyOneAtATime(t *testing.T) {
	q := NewHeavyQueue(8)
	var mu sync.Mutex
	running := 0
	maxConcurrent := 0

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		id, err := q.Enqueue("job", func(ctx context.Context) error {
			defer wg.Done()
			mu.Lock()
			running++
			if running > maxConcurrent {
				maxConcurrent = running
			}
			mu.Unlock()

			time.Sleep(10 * time.Millisecond)

			mu.Lock()
			running--
			mu.Unlock()
			return nil
		})
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		_ = id
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if maxConcurrent != 1 {
		t.Fatalf("expected heavy tasks to run strictly one at a time, max concurrency was %d", maxConcurrent)
	}
}

func TestHeavyQueue_Enqueue_FullQueueReturnsError(t *testing.T) {
	q := NewHeavyQueue(1)
	block := make(chan struct{})
	started := make(chan struct{})

	// occupy the single worker so the channel backlog fills up
	if _, err := q.Enqueue("job-1", func(ctx context.Context) error {
		close(started)
		<-block
		return nil
	}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	<-started // job-1 is now in-flight, not sitting in the buffer

	if _, err := q.Enqueue("job-2", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if _, err := q.Enqueue("job-3", func(ctx context.Context) error { return nil }); err == nil {
		t.Fatal("expected the third enqueue to fail once the backlog and in-flight worker fill the capacity")
	}

	close(block)
}
