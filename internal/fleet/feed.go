package fleet

import (
	"context"
	"time"
)

// DefaultFeedInterval is used when PendingFeed is created with a
// non-positive interval.
const DefaultFeedInterval = time.Second

// PendingLister is the query a PendingFeed polls.
type PendingLister interface {
	ListPending(ctx context.Context) ([]Command, error)
}

// ChangeHandler receives feed changes. It is called from the polling
// goroutine, so it should hand long work off rather than block.
type ChangeHandler func(ctx context.Context, change CommandChange)

// PendingFeed is a change feed over the set of pending commands.
//
// Each poll compares the pending set with the previous one:
//   - a command not seen before is reported as added (the first poll
//     therefore reports every pending command, like an initial snapshot)
//   - a command still pending whose UpdatedAt changed is reported as modified
//   - a command that left the pending set is reported as removed
//
// A PendingFeed is not safe for concurrent Watch calls.
type PendingFeed struct {
	lister   PendingLister
	interval time.Duration
	seen     map[string]Command
}

// NewPendingFeed creates a feed polling lister every interval.
func NewPendingFeed(lister PendingLister, interval time.Duration) *PendingFeed {
	if interval <= 0 {
		interval = DefaultFeedInterval
	}
	return &PendingFeed{
		lister:   lister,
		interval: interval,
		seen:     make(map[string]Command),
	}
}

// Watch polls until ctx is cancelled, delivering changes to handler.
//
// Listener errors are passed to onError (which may be nil) and polling
// continues on the next tick; the pending set seen so far is kept so a
// transient failure does not replay added events. Watch returns nil when
// ctx is cancelled.
func (f *PendingFeed) Watch(ctx context.Context, handler ChangeHandler, onError func(error)) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		if err := f.poll(ctx, handler); err != nil && ctx.Err() == nil && onError != nil {
			onError(err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// poll runs one comparison round.
func (f *PendingFeed) poll(ctx context.Context, handler ChangeHandler) error {
	pending, err := f.lister.ListPending(ctx)
	if err != nil {
		return err
	}

	current := make(map[string]Command, len(pending))
	for _, cmd := range pending {
		key := cmd.Path()
		current[key] = cmd

		prev, ok := f.seen[key]
		switch {
		case !ok:
			handler(ctx, CommandChange{Type: ChangeAdded, Command: cmd})
		case !prev.UpdatedAt.Equal(cmd.UpdatedAt):
			handler(ctx, CommandChange{Type: ChangeModified, Command: cmd})
		}
	}

	for key, prev := range f.seen {
		if _, ok := current[key]; !ok {
			handler(ctx, CommandChange{Type: ChangeRemoved, Command: prev})
		}
	}

	f.seen = current
	return nil
}
