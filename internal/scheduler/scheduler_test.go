package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KafClaw/hivemind/internal/store"
)

type memRecorder struct {
	mu   sync.Mutex
	runs map[string][]string
}

func (r *memRecorder) UpsertScheduledJob(_ context.Context, name, status string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runs == nil {
		r.runs = make(map[string][]string)
	}
	r.runs[name] = append(r.runs[name], status)
	return nil
}

func (r *memRecorder) statuses(name string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.runs[name]...)
}

func TestSchedulerDispatchesDueJobs(t *testing.T) {
	rec := &memRecorder{}
	s := New(Config{TickInterval: time.Hour}, rec)
	base := time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	var runs atomic.Int32
	s.Register(&Job{Name: "sweep", Every: time.Minute, Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}})

	ctx := context.Background()
	s.tick(ctx, base.Add(30*time.Second))
	s.Wait()
	if runs.Load() != 0 {
		t.Fatalf("job ran before it was due")
	}

	s.tick(ctx, base.Add(time.Minute))
	s.Wait()
	if runs.Load() != 1 {
		t.Fatalf("expected one run, got %d", runs.Load())
	}

	// Next run is an interval after the last dispatch.
	s.tick(ctx, base.Add(90*time.Second))
	s.Wait()
	if runs.Load() != 1 {
		t.Fatalf("job ran again too early")
	}
	if got := rec.statuses("sweep"); len(got) != 1 || got[0] != StatusOK {
		t.Fatalf("unexpected bookkeeping %v", got)
	}
}

func TestSchedulerRecordsFailures(t *testing.T) {
	rec := &memRecorder{}
	s := New(Config{}, rec)
	s.Register(&Job{Name: "backfill", Every: time.Minute, Run: func(context.Context) error {
		return errors.New("provider down")
	}})

	if !s.RunNow(context.Background(), "backfill") {
		t.Fatalf("RunNow should find the job")
	}
	s.Wait()
	if got := rec.statuses("backfill"); len(got) != 1 || got[0] != StatusError {
		t.Fatalf("unexpected bookkeeping %v", got)
	}
	if s.RunNow(context.Background(), "missing") {
		t.Fatalf("RunNow should report unknown jobs")
	}
}

func TestSchedulerSkipsOverlappingRuns(t *testing.T) {
	rec := &memRecorder{}
	s := New(Config{}, rec)
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	s.Register(&Job{Name: "slow", Every: time.Minute, Run: func(context.Context) error {
		started <- struct{}{}
		<-release
		return nil
	}})

	ctx := context.Background()
	s.RunNow(ctx, "slow")
	<-started
	s.RunNow(ctx, "slow")
	close(release)
	s.Wait()

	got := rec.statuses("slow")
	if len(got) != 2 || got[0] != StatusSkippedRunning || got[1] != StatusOK {
		t.Fatalf("unexpected bookkeeping %v", got)
	}
}

func TestSchedulerRunStopsOnCancel(t *testing.T) {
	s := New(Config{TickInterval: 5 * time.Millisecond}, nil)
	var runs atomic.Int32
	s.Register(&Job{Name: "fast", Every: time.Millisecond, Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("job never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSchedulerWritesScheduledJobsTable(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "hivemind.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	s := New(Config{}, st)
	s.Register(&Job{Name: "checkpoint", Every: time.Minute, Run: func(ctx context.Context) error {
		return st.Checkpoint(ctx)
	}})
	s.RunNow(context.Background(), "checkpoint")
	s.Wait()

	rec, err := st.GetScheduledJob(context.Background(), "checkpoint")
	if err != nil || rec == nil {
		t.Fatalf("job record missing: %v", err)
	}
	if rec.LastStatus != StatusOK || rec.RunCount != 1 {
		t.Fatalf("unexpected record %+v", rec)
	}
}
