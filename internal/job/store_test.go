package job

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/reviewgate/reviewgate/internal/clock"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type storeFactory struct {
	name string
	open func(t *testing.T, clk clock.Clock) Store
}

var storeFactories = []storeFactory{
	{"memory", func(t *testing.T, clk clock.Clock) Store { return NewMemoryStore(clk) }},
	{"sqlite", func(t *testing.T, clk clock.Clock) Store {
		t.Helper()
		s, err := NewSQLiteStore(":memory:", clk)
		if err != nil {
			t.Fatalf("NewSQLiteStore: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	}},
}

func sampleContext(pr int) ReviewContext {
	return ReviewContext{
		OrganizationURL: "https://dev.azure.com/acme/",
		ProjectID:       "p1",
		RepositoryID:    "r1",
		PullRequestID:   pr,
		IterationID:     1,
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store, clk *clock.Fake)) {
	for _, f := range storeFactories {
		t.Run(f.name, func(t *testing.T) {
			clk := clock.NewFake(epoch)
			fn(t, f.open(t, clk), clk)
		})
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *clock.Fake) {
		ctx := context.Background()
		created, err := s.Create(ctx, sampleContext(7))
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if created.ID == "" {
			t.Fatal("Create returned empty ID")
		}
		if created.Status != StatusPending {
			t.Errorf("Status = %q, want %q", created.Status, StatusPending)
		}

		got, err := s.Get(ctx, created.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.ReviewContext != sampleContext(7) {
			t.Errorf("ReviewContext = %+v, want %+v", got.ReviewContext, sampleContext(7))
		}
		if !got.SubmittedAt.Equal(epoch) {
			t.Errorf("SubmittedAt = %v, want %v", got.SubmittedAt, epoch)
		}
		if got.CompletedAt != nil || got.Result != nil || got.Error != nil {
			t.Errorf("pending job has terminal fields: %+v", got)
		}
	})
}

func TestStore_GetNotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *clock.Fake) {
		_, err := s.Get(context.Background(), "00000000-0000-4000-8000-000000000000")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("Get error = %v, want ErrNotFound", err)
		}
	})
}

func TestStore_UniqueIDs(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *clock.Fake) {
		seen := make(map[string]bool)
		for i := range 50 {
			j, err := s.Create(context.Background(), sampleContext(i))
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if seen[j.ID] {
				t.Fatalf("duplicate id %s", j.ID)
			}
			seen[j.ID] = true
		}
	})
}

func TestStore_CompleteLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clk *clock.Fake) {
		ctx := context.Background()
		j, _ := s.Create(ctx, sampleContext(1))

		if err := s.MarkProcessing(ctx, j.ID); err != nil {
			t.Fatalf("MarkProcessing: %v", err)
		}
		got, _ := s.Get(ctx, j.ID)
		if got.Status != StatusProcessing || got.CompletedAt != nil {
			t.Fatalf("after MarkProcessing: %+v", got)
		}

		clk.Advance(time.Second)
		result := &ReviewResult{Summary: "ok", Comments: []ReviewComment{{Severity: SeverityInfo, Message: "fine"}}}
		if err := s.Complete(ctx, j.ID, result); err != nil {
			t.Fatalf("Complete: %v", err)
		}
		got, _ = s.Get(ctx, j.ID)
		if got.Status != StatusCompleted {
			t.Errorf("Status = %q, want completed", got.Status)
		}
		if got.CompletedAt == nil || !got.CompletedAt.Equal(epoch.Add(time.Second)) {
			t.Errorf("CompletedAt = %v, want %v", got.CompletedAt, epoch.Add(time.Second))
		}
		if got.Result == nil || got.Result.Summary != "ok" || len(got.Result.Comments) != 1 {
			t.Errorf("Result = %+v", got.Result)
		}
		if got.Error != nil {
			t.Errorf("Error = %q, want nil", *got.Error)
		}
	})
}

func TestStore_FailLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *clock.Fake) {
		ctx := context.Background()
		j, _ := s.Create(ctx, sampleContext(1))
		_ = s.MarkProcessing(ctx, j.ID)

		if err := s.Fail(ctx, j.ID, "something went wrong"); err != nil {
			t.Fatalf("Fail: %v", err)
		}
		got, _ := s.Get(ctx, j.ID)
		if got.Status != StatusFailed {
			t.Errorf("Status = %q, want failed", got.Status)
		}
		if got.Error == nil || *got.Error != "something went wrong" {
			t.Errorf("Error = %v", got.Error)
		}
		if got.Result != nil {
			t.Errorf("Result = %+v, want nil", got.Result)
		}
		if got.CompletedAt == nil {
			t.Error("CompletedAt is nil, want non-nil")
		}
	})
}

func TestStore_GuardedTransitions(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *clock.Fake) {
		ctx := context.Background()
		j, _ := s.Create(ctx, sampleContext(1))

		if err := s.Complete(ctx, j.ID, &ReviewResult{}); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("Complete from pending = %v, want ErrInvalidTransition", err)
		}
		if err := s.MarkProcessing(ctx, j.ID); err != nil {
			t.Fatalf("MarkProcessing: %v", err)
		}
		if err := s.MarkProcessing(ctx, j.ID); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("second MarkProcessing = %v, want ErrInvalidTransition", err)
		}
		if err := s.Fail(ctx, j.ID, "x"); err != nil {
			t.Fatalf("Fail: %v", err)
		}
		if err := s.Complete(ctx, j.ID, &ReviewResult{}); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("Complete from failed = %v, want ErrInvalidTransition", err)
		}
		if err := s.MarkProcessing(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("MarkProcessing(missing) = %v, want ErrNotFound", err)
		}

		got, _ := s.Get(ctx, j.ID)
		if got.Status != StatusFailed {
			t.Errorf("terminal status changed to %q", got.Status)
		}
	})
}

func TestStore_ListOrdering(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clk *clock.Fake) {
		ctx := context.Background()
		first, _ := s.Create(ctx, sampleContext(1))
		clk.Advance(time.Millisecond)
		tieA, _ := s.Create(ctx, sampleContext(2))
		tieB, _ := s.Create(ctx, sampleContext(3))
		clk.Advance(time.Millisecond)
		last, _ := s.Create(ctx, sampleContext(4))

		jobs, err := s.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		want := []string{last.ID, tieA.ID, tieB.ID, first.ID}
		if len(jobs) != len(want) {
			t.Fatalf("List len = %d, want %d", len(jobs), len(want))
		}
		for i, id := range want {
			if jobs[i].ID != id {
				t.Errorf("jobs[%d] = PR %d, want id %s", i, jobs[i].PullRequestID, id)
			}
		}
	})
}

func TestStore_ListEmpty(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *clock.Fake) {
		jobs, err := s.List(context.Background())
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(jobs) != 0 {
			t.Errorf("List len = %d, want 0", len(jobs))
		}
	})
}

// Readers racing a terminal commit must never see completedAt without a
// terminal status, or the reverse.
func TestMemoryStore_SnapshotsAreCoherent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore(clock.Real())

	ids := make([]string, 100)
	for i := range ids {
		j, _ := s.Create(ctx, sampleContext(i))
		_ = s.MarkProcessing(ctx, j.ID)
		ids[i] = j.ID
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				jobs, _ := s.List(ctx)
				for _, j := range jobs {
					if j.Status.IsTerminal() != (j.CompletedAt != nil) {
						t.Errorf("incoherent snapshot: status=%s completedAt=%v", j.Status, j.CompletedAt)
						return
					}
					if j.Status == StatusCompleted && j.Result == nil {
						t.Errorf("completed job without result")
						return
					}
				}
			}
		}()
	}

	for i, id := range ids {
		if i%2 == 0 {
			_ = s.Complete(ctx, id, &ReviewResult{Summary: "s"})
		} else {
			_ = s.Fail(ctx, id, "f")
		}
	}
	close(stop)
	wg.Wait()
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore(clock.NewFake(epoch))
	j, _ := s.Create(ctx, sampleContext(1))

	got, _ := s.Get(ctx, j.ID)
	got.Status = StatusFailed
	got.PullRequestID = 99

	again, _ := s.Get(ctx, j.ID)
	if again.Status != StatusPending || again.PullRequestID != 1 {
		t.Errorf("store record mutated through returned copy: %+v", again)
	}
}
