package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"

	"github.com/basharjaffan/radio-revive-stream/internal/fleet"
	"github.com/basharjaffan/radio-revive-stream/internal/infrastructure/config"
	"github.com/basharjaffan/radio-revive-stream/internal/infrastructure/mqtt"
)

// Dispatcher defaults.
const (
	defaultMaxInFlight         = 16
	defaultStatusWriteAttempts = 5

	retryInitialInterval = 100 * time.Millisecond
	retryMaxInterval     = 2 * time.Second
)

// DispatcherOptions holds the collaborators and settings of a Dispatcher.
type DispatcherOptions struct {
	Store     CommandStore
	Publisher Publisher

	// CommandTopic is the topic template, e.g. "devices/{deviceId}/commands".
	CommandTopic string
	QoS          byte

	// MaxInFlight bounds concurrently dispatched commands.
	MaxInFlight int

	// StatusWriteAttempts is the number of tries for the sent/failed write.
	StatusWriteAttempts int

	Logger Logger
}

// DispatcherStats counts dispatch outcomes.
type DispatcherStats struct {
	Sent    uint64 `json:"sent"`
	Failed  uint64 `json:"failed"`
	Skipped uint64 `json:"skipped"`
}

// Dispatcher delivers pending commands to devices.
//
// Only added feed events start a dispatch. Each dispatch runs in its own
// goroutine, bounded by MaxInFlight, and re-reads the command first so a
// replayed event for a command that is no longer pending publishes nothing.
//
// Thread Safety: HandleChange may be called concurrently.
type Dispatcher struct {
	store    CommandStore
	pub      Publisher
	template string
	qos      byte
	attempts int
	logger   Logger

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	inFlightMu sync.Mutex
	inFlight   map[string]struct{}

	now        func() time.Time
	newBackOff func() backoff.BackOff

	sent    atomic.Uint64
	failed  atomic.Uint64
	skipped atomic.Uint64
}

// NewDispatcher creates a dispatcher. Store, Publisher and a template with
// exactly one device placeholder are required.
func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Store == nil || opts.Publisher == nil {
		return nil, fmt.Errorf("%w: dispatcher needs a command store and a publisher", ErrMissingDependency)
	}
	if strings.Count(opts.CommandTopic, config.DeviceIDPlaceholder) != 1 {
		return nil, fmt.Errorf("%w: command template %q must contain %s once",
			ErrInvalidTopic, opts.CommandTopic, config.DeviceIDPlaceholder)
	}

	maxInFlight := opts.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = defaultMaxInFlight
	}
	attempts := opts.StatusWriteAttempts
	if attempts <= 0 {
		attempts = defaultStatusWriteAttempts
	}
	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}

	return &Dispatcher{
		store:    opts.Store,
		pub:      opts.Publisher,
		template: opts.CommandTopic,
		qos:      opts.QoS,
		attempts: attempts,
		logger:   logger,
		sem:      semaphore.NewWeighted(int64(maxInFlight)),
		inFlight: make(map[string]struct{}),
		now:      time.Now,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = retryInitialInterval
			b.MaxInterval = retryMaxInterval
			b.MaxElapsedTime = 0
			return b
		},
	}, nil
}

// Run watches feed until ctx is cancelled, then waits for dispatches that
// already started.
func (d *Dispatcher) Run(ctx context.Context, feed CommandFeed) error {
	d.logger.Info("command dispatcher started", "topic_template", d.template)

	err := feed.Watch(ctx, d.HandleChange, func(err error) {
		d.logger.Error("command feed error", "error", err)
	})

	d.Wait()
	d.logger.Info("command dispatcher stopped")
	return err
}

// Wait blocks until every started dispatch has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// HandleChange starts a dispatch for an added command.
//
// It blocks only while MaxInFlight dispatches are running. Modified and
// removed events are ignored, as is an added event for a command whose
// dispatch is still running.
func (d *Dispatcher) HandleChange(ctx context.Context, change fleet.CommandChange) {
	if change.Type != fleet.ChangeAdded {
		return
	}

	cmd := change.Command
	key := cmd.Path()
	if !d.claim(key) {
		d.logger.Debug("command already in flight", "path", key)
		return
	}

	if err := d.sem.Acquire(ctx, 1); err != nil {
		d.release(key)
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.sem.Release(1)
		defer d.release(key)

		// A started dispatch runs to completion even during shutdown.
		d.dispatch(context.WithoutCancel(ctx), cmd)
	}()
}

func (d *Dispatcher) claim(key string) bool {
	d.inFlightMu.Lock()
	defer d.inFlightMu.Unlock()
	if _, busy := d.inFlight[key]; busy {
		return false
	}
	d.inFlight[key] = struct{}{}
	return true
}

func (d *Dispatcher) release(key string) {
	d.inFlightMu.Lock()
	delete(d.inFlight, key)
	d.inFlightMu.Unlock()
}

// dispatch is the error boundary for one command.
func (d *Dispatcher) dispatch(ctx context.Context, event fleet.Command) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("command dispatch panic recovered", "path", event.Path(), "panic", r)
		}
	}()

	cmd, err := d.store.Get(ctx, event.OrganizationID, event.ID)
	switch {
	case errors.Is(err, fleet.ErrCommandNotFound):
		d.skipped.Add(1)
		d.logger.Debug("command gone before dispatch", "path", event.Path())
		return
	case err != nil:
		d.fail(ctx, &event, fmt.Errorf("read command: %w", err))
		return
	case cmd.Status != fleet.CommandPending:
		d.skipped.Add(1)
		d.logger.Debug("command already finalised", "path", cmd.Path(), "status", cmd.Status)
		return
	}

	topic := mqtt.DeviceTopic(d.template, cmd.DeviceID)

	payload, err := cmd.MarshalEnvelope()
	if err != nil {
		d.fail(ctx, cmd, fmt.Errorf("encode command: %w", err))
		return
	}

	if err := d.pub.Publish(topic, payload, d.qos, false); err != nil {
		d.fail(ctx, cmd, err)
		return
	}

	sentAt := d.now().UTC()
	err = d.retry(ctx, func() error {
		return d.store.MarkSent(ctx, cmd.OrganizationID, cmd.ID, sentAt)
	})
	if errors.Is(err, fleet.ErrInvalidTransition) {
		// Finalised elsewhere between the read and the write.
		d.skipped.Add(1)
		d.logger.Warn("command finalised during dispatch", "path", cmd.Path())
		return
	}
	if err != nil {
		d.fail(ctx, cmd, fmt.Errorf("mark sent: %w", err))
		return
	}

	d.sent.Add(1)
	d.logger.Info("command sent",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"organization_id", cmd.OrganizationID,
		"name", cmd.Name,
		"topic", topic,
	)
}

// fail records cause on the command. The write is retried within the
// attempt budget and otherwise only logged.
func (d *Dispatcher) fail(ctx context.Context, cmd *fleet.Command, cause error) {
	d.failed.Add(1)
	d.logger.Error("command dispatch failed",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"organization_id", cmd.OrganizationID,
		"error", cause,
	)

	err := d.retry(ctx, func() error {
		return d.store.MarkFailed(ctx, cmd.OrganizationID, cmd.ID, cause.Error())
	})
	if err != nil {
		d.logger.Error("could not mark command failed",
			"path", cmd.Path(),
			"error", err,
		)
	}
}

// retry runs op up to the attempt budget. Not-found and invalid-transition
// errors are final.
func (d *Dispatcher) retry(ctx context.Context, op func() error) error {
	b := backoff.WithContext(
		backoff.WithMaxRetries(d.newBackOff(), uint64(d.attempts-1)), // #nosec G115 -- attempts >= 1
		ctx,
	)
	return backoff.Retry(func() error {
		err := op()
		if errors.Is(err, fleet.ErrCommandNotFound) || errors.Is(err, fleet.ErrInvalidTransition) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

// Stats returns a snapshot of the dispatch counters.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Sent:    d.sent.Load(),
		Failed:  d.failed.Load(),
		Skipped: d.skipped.Load(),
	}
}
