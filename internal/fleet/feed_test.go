package fleet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// scriptedLister returns one scripted result per call, repeating the last.
type scriptedLister struct {
	mu      sync.Mutex
	results [][]Command
	errs    []error
	calls   int
}

func (l *scriptedLister) ListPending(context.Context) ([]Command, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.calls
	if i >= len(l.results) {
		i = len(l.results) - 1
	}
	l.calls++

	var err error
	if i < len(l.errs) {
		err = l.errs[i]
	}
	return l.results[i], err
}

type changeRecorder struct {
	mu      sync.Mutex
	changes []CommandChange
}

func (r *changeRecorder) handle(_ context.Context, c CommandChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *changeRecorder) snapshot() []CommandChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]CommandChange(nil), r.changes...)
}

func pendingCmd(id string, updated time.Time) Command {
	return Command{
		ID:             id,
		OrganizationID: "o1",
		DeviceID:       "d1",
		Name:           "play",
		Status:         CommandPending,
		UpdatedAt:      updated,
	}
}

func TestPendingFeed_Poll(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Minute)

	lister := &scriptedLister{results: [][]Command{
		{pendingCmd("c1", t0), pendingCmd("c2", t0)}, // initial snapshot
		{pendingCmd("c1", t0), pendingCmd("c2", t0)}, // unchanged
		{pendingCmd("c2", t1), pendingCmd("c3", t0)}, // c1 gone, c2 touched, c3 new
	}}
	feed := NewPendingFeed(lister, time.Millisecond)
	rec := &changeRecorder{}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := feed.poll(ctx, rec.handle); err != nil {
			t.Fatalf("poll() error = %v", err)
		}
	}

	got := rec.snapshot()
	want := []struct {
		typ ChangeType
		id  string
	}{
		{ChangeAdded, "c1"},
		{ChangeAdded, "c2"},
		{ChangeModified, "c2"},
		{ChangeAdded, "c3"},
		{ChangeRemoved, "c1"},
	}

	if len(got) != len(want) {
		t.Fatalf("got %d changes %+v, want %d", len(got), got, len(want))
	}
	for i, w := range want {
		if got[i].Type != w.typ || got[i].Command.ID != w.id {
			t.Errorf("change %d = %s %s, want %s %s", i, got[i].Type, got[i].Command.ID, w.typ, w.id)
		}
	}
}

func TestPendingFeed_ErrorKeepsSeenSet(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	boom := errors.New("store unreachable")

	lister := &scriptedLister{
		results: [][]Command{
			{pendingCmd("c1", t0)},
			nil,
			{pendingCmd("c1", t0)},
		},
		errs: []error{nil, boom, nil},
	}
	feed := NewPendingFeed(lister, time.Millisecond)
	rec := &changeRecorder{}
	ctx := context.Background()

	if err := feed.poll(ctx, rec.handle); err != nil {
		t.Fatalf("poll() error = %v", err)
	}
	if err := feed.poll(ctx, rec.handle); !errors.Is(err, boom) {
		t.Fatalf("poll() error = %v, want boom", err)
	}
	if err := feed.poll(ctx, rec.handle); err != nil {
		t.Fatalf("poll() error = %v", err)
	}

	got := rec.snapshot()
	if len(got) != 1 || got[0].Type != ChangeAdded {
		t.Errorf("changes = %+v, want a single added event", got)
	}
}

func TestPendingFeed_WatchStopsOnCancel(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	boom := errors.New("transient")

	lister := &scriptedLister{
		results: [][]Command{{pendingCmd("c1", t0)}, nil, {pendingCmd("c1", t0)}},
		errs:    []error{nil, boom, nil},
	}
	feed := NewPendingFeed(lister, 5*time.Millisecond)
	rec := &changeRecorder{}

	var errMu sync.Mutex
	var errs []error
	onError := func(err error) {
		errMu.Lock()
		errs = append(errs, err)
		errMu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Watch(ctx, rec.handle, onError) }()

	deadline := time.After(2 * time.Second)
	for {
		lister.mu.Lock()
		calls := lister.calls
		lister.mu.Unlock()
		if calls >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("feed did not poll three times")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch() error = %v, want nil on cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch() did not return after cancel")
	}

	if got := rec.snapshot(); len(got) != 1 || got[0].Type != ChangeAdded {
		t.Errorf("changes = %+v, want a single added event", got)
	}

	errMu.Lock()
	defer errMu.Unlock()
	if len(errs) != 1 || !errors.Is(errs[0], boom) {
		t.Errorf("onError calls = %v, want [transient]", errs)
	}
}

func TestPendingFeed_WithRepository(t *testing.T) {
	repo := NewSQLiteCommandRepository(openTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, newCommand("o1", "c1")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	feed := NewPendingFeed(repo, time.Millisecond)
	rec := &changeRecorder{}

	if err := feed.poll(ctx, rec.handle); err != nil {
		t.Fatalf("poll() error = %v", err)
	}
	if err := repo.MarkSent(ctx, "o1", "c1", time.Now()); err != nil {
		t.Fatalf("MarkSent() error = %v", err)
	}
	if err := feed.poll(ctx, rec.handle); err != nil {
		t.Fatalf("poll() error = %v", err)
	}

	got := rec.snapshot()
	if len(got) != 2 || got[0].Type != ChangeAdded || got[1].Type != ChangeRemoved {
		t.Errorf("changes = %+v, want added then removed", got)
	}
}

func TestNewPendingFeed_DefaultInterval(t *testing.T) {
	feed := NewPendingFeed(&scriptedLister{}, 0)
	if feed.interval != DefaultFeedInterval {
		t.Errorf("interval = %v, want %v", feed.interval, DefaultFeedInterval)
	}
}
