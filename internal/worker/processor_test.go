package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"habitloop/internal/config"
	"habitloop/internal/models"
)

func TestBackoffWithJitter(t *testing.T) {
	base := time.Second
	max := 8 * time.Second

	b1 := backoffWithJitter(base, max, 1)
	if b1 < base/2 || b1 > max {
		t.Fatalf("backoff out of range: %s", b1)
	}

	b3 := backoffWithJitter(base, max, 3)
	if b3 < base || b3 > max {
		t.Fatalf("backoff out of range for attempt 3: %s", b3)
	}

	b9 := backoffWithJitter(base, max, 9)
	if b9 > max {
		t.Fatalf("backoff must cap at max, got %s", b9)
	}
}

func TestFatalClassification(t *testing.T) {
	if IsFatal(errors.New("transient")) {
		t.Fatal("plain errors must be retryable")
	}
	if !IsFatal(Fatal(errors.New("bad payload"))) {
		t.Fatal("Fatal-wrapped errors must classify fatal")
	}
	wrapped := fmt.Errorf("handler: %w", Fatal(errors.New("bad payload")))
	if !IsFatal(wrapped) {
		t.Fatal("fatal classification must survive wrapping")
	}
	if Fatal(nil) != nil {
		t.Fatal("Fatal(nil) must be nil")
	}
}

// fakeQueue is an in-memory JobQueue where claims atomically remove
// pending work, mirroring the single-statement claim semantics.
type fakeQueue struct {
	mu            sync.Mutex
	pending       []models.Job
	done          map[string]int
	dead          map[string]string
	rescheduled   map[string]int
	rescheduledAt map[string]time.Time
	panicked      map[string]string
}

func newFakeQueue(jobs ...models.Job) *fakeQueue {
	return &fakeQueue{
		pending:       jobs,
		done:          make(map[string]int),
		dead:          make(map[string]string),
		rescheduled:   make(map[string]int),
		rescheduledAt: make(map[string]time.Time),
		panicked:      make(map[string]string),
	}
}

func (f *fakeQueue) ClaimBatch(ctx context.Context, workerID string, jobTypes []string, limit int) ([]models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := limit
	if n > len(f.pending) {
		n = len(f.pending)
	}
	claimed := make([]models.Job, n)
	copy(claimed, f.pending[:n])
	f.pending = f.pending[n:]
	return claimed, nil
}

func (f *fakeQueue) MarkDone(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.done[id]++
	return nil
}

func (f *fakeQueue) Reschedule(ctx context.Context, id string, attempts int, runAfter time.Time, lastErr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rescheduled[id] = attempts
	f.rescheduledAt[id] = runAfter
	return nil
}

func (f *fakeQueue) MarkDead(ctx context.Context, id string, attempts int, lastErr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dead[id] = lastErr
	return nil
}

func (f *fakeQueue) MarkPanicked(ctx context.Context, id string, attempts int, lastErr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.panicked[id] = lastErr
	return nil
}

func (f *fakeQueue) ReleaseExpired(ctx context.Context, lease time.Duration, limit int) ([]string, error) {
	return nil, nil
}

func (f *fakeQueue) PendingDepth(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.pending)), nil
}

func testConfig() config.Config {
	return config.Config{
		WorkerPollInterval: 5 * time.Millisecond,
		ClaimBatchSize:     3,
		LeaseTimeout:       time.Minute,
		BackoffBase:        time.Millisecond,
		BackoffMax:         10 * time.Millisecond,
		MaxAttempts:        3,
	}
}

func job(id, jobType string) models.Job {
	return models.Job{ID: id, Type: jobType, MaxAttempts: 3, Payload: map[string]any{}}
}

func TestProcessMarksSuccessDone(t *testing.T) {
	q := newFakeQueue()
	p := NewProcessor(testConfig(), q, zap.NewNop(), "w0")
	p.RegisterHandler("ok", func(ctx context.Context, j models.Job) error { return nil })

	p.process(context.Background(), job("j1", "ok"))
	if q.done["j1"] != 1 {
		t.Fatalf("expected j1 marked done once, got %d", q.done["j1"])
	}
}

func TestProcessReschedulesRetryableFailure(t *testing.T) {
	q := newFakeQueue()
	p := NewProcessor(testConfig(), q, zap.NewNop(), "w0")
	p.RegisterHandler("flaky", func(ctx context.Context, j models.Job) error {
		return errors.New("store timeout")
	})

	p.process(context.Background(), job("j1", "flaky"))
	if got := q.rescheduled["j1"]; got != 1 {
		t.Fatalf("expected attempts=1 recorded, got %d", got)
	}
	if _, isDead := q.dead["j1"]; isDead {
		t.Fatal("retryable failure must not dead-letter on first attempt")
	}
}

func TestProcessDeadLettersFatalFailure(t *testing.T) {
	q := newFakeQueue()
	p := NewProcessor(testConfig(), q, zap.NewNop(), "w0")
	p.RegisterHandler("broken", func(ctx context.Context, j models.Job) error {
		return Fatal(errors.New("malformed payload"))
	})

	p.process(context.Background(), job("j1", "broken"))
	if _, ok := q.dead["j1"]; !ok {
		t.Fatal("fatal failure must go straight to the dead set")
	}
	if len(q.rescheduled) != 0 {
		t.Fatal("fatal failure must not reschedule")
	}
}

func TestProcessDeadLettersAfterMaxAttempts(t *testing.T) {
	q := newFakeQueue()
	p := NewProcessor(testConfig(), q, zap.NewNop(), "w0")
	p.RegisterHandler("flaky", func(ctx context.Context, j models.Job) error {
		return errors.New("still failing")
	})

	exhausted := job("j1", "flaky")
	exhausted.Attempts = 2 // next failure is attempt 3 of 3
	p.process(context.Background(), exhausted)
	if _, ok := q.dead["j1"]; !ok {
		t.Fatal("exhausted retries must dead-letter")
	}
}

func TestProcessUnknownTypeIsFatal(t *testing.T) {
	q := newFakeQueue()
	p := NewProcessor(testConfig(), q, zap.NewNop(), "w0")

	p.process(context.Background(), job("j1", "mystery"))
	if _, ok := q.dead["j1"]; !ok {
		t.Fatal("a job with no registered handler must dead-letter")
	}
}

// A handler that panics every run must still dead-letter once its
// attempts are spent, not cycle failed -> pending forever.
func TestProcessPanicPastMaxAttemptsDeadLetters(t *testing.T) {
	q := newFakeQueue()
	p := NewProcessor(testConfig(), q, zap.NewNop(), "w0")
	p.RegisterHandler("explodes", func(ctx context.Context, j models.Job) error {
		panic("boom")
	})

	exhausted := job("j1", "explodes")
	exhausted.Attempts = 2 // next attempt is 3 of 3
	p.process(context.Background(), exhausted)
	if _, ok := q.dead["j1"]; !ok {
		t.Fatal("panic on the final attempt must dead-letter")
	}
	if len(q.panicked) != 0 {
		t.Fatal("a dead job must not also be marked failed")
	}
	if q.done["j1"] != 0 || len(q.rescheduled) != 0 {
		t.Fatal("dead is the only transition for an exhausted panic")
	}
}

// Deferred jobs keep their attempt count and come back at the given
// instant, so polling ahead of schedule never burns the retry budget.
func TestProcessRetryAtDefersWithoutConsumingAttempt(t *testing.T) {
	q := newFakeQueue()
	p := NewProcessor(testConfig(), q, zap.NewNop(), "w0")
	due := time.Now().Add(time.Hour).UTC()
	p.RegisterHandler("early", func(ctx context.Context, j models.Job) error {
		return RetryAt(due, errors.New("not due yet"))
	})

	early := job("j1", "early")
	early.Attempts = 2 // would dead-letter if deferral consumed an attempt
	p.process(context.Background(), early)

	if got := q.rescheduled["j1"]; got != 2 {
		t.Fatalf("deferral must keep attempts at 2, got %d", got)
	}
	if !q.rescheduledAt["j1"].Equal(due) {
		t.Fatalf("deferral must reschedule for the due instant, got %s", q.rescheduledAt["j1"])
	}
	if _, isDead := q.dead["j1"]; isDead {
		t.Fatal("a deferred job must never dead-letter")
	}
}

func TestProcessPanicMarksFailedForLeaseSweep(t *testing.T) {
	q := newFakeQueue()
	p := NewProcessor(testConfig(), q, zap.NewNop(), "w0")
	p.RegisterHandler("explodes", func(ctx context.Context, j models.Job) error {
		panic("boom")
	})

	p.process(context.Background(), job("j1", "explodes"))
	if _, ok := q.panicked["j1"]; !ok {
		t.Fatal("panic must be recorded as failed")
	}
	if q.done["j1"] != 0 {
		t.Fatal("panicked job must not be marked done")
	}
	if len(q.dead) != 0 || len(q.rescheduled) != 0 {
		t.Fatal("panic recovery owns the terminal transition")
	}
}
