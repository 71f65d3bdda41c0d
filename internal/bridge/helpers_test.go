package bridge

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/basharjaffan/radio-revive-stream/internal/fleet"
	"github.com/basharjaffan/radio-revive-stream/internal/infrastructure/config"
	"github.com/basharjaffan/radio-revive-stream/internal/infrastructure/database"
	"github.com/basharjaffan/radio-revive-stream/internal/infrastructure/mqtt"
	_ "github.com/basharjaffan/radio-revive-stream/migrations"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "bridge.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

type published struct {
	topic   string
	payload string
	qos     byte
}

// mockTransport records publishes and subscriptions.
type mockTransport struct {
	mu         sync.Mutex
	published  []published
	publishErr error
	subErr     error
	handlers   map[string]mqtt.MessageHandler
}

func newMockTransport() *mockTransport {
	return &mockTransport{handlers: make(map[string]mqtt.MessageHandler)}
}

func (m *mockTransport) Publish(topic string, payload []byte, qos byte, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, published{topic: topic, payload: string(payload), qos: qos})
	return nil
}

func (m *mockTransport) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subErr != nil {
		return m.subErr
	}
	m.handlers[topic] = handler
	return nil
}

// deliver simulates the broker routing a message to matching handlers.
// The broker filter is deliberately bypassed so handlers see every topic.
func (m *mockTransport) deliver(topic string, payload []byte) {
	m.mu.Lock()
	handlers := make([]mqtt.MessageHandler, 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	for _, h := range handlers {
		_ = h(topic, payload)
	}
}

func (m *mockTransport) publishes() []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]published(nil), m.published...)
}

type logEntry struct {
	level string
	msg   string
}

// recordingLogger captures log calls for assertions.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) add(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg})
}

func (l *recordingLogger) Debug(msg string, _ ...any) { l.add("debug", msg) }
func (l *recordingLogger) Info(msg string, _ ...any)  { l.add("info", msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.add("warn", msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.add("error", msg) }

func (l *recordingLogger) has(level, msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.level == level && e.msg == msg {
			return true
		}
	}
	return false
}

// flakyCommandStore wraps a real store and fails the first N terminal writes.
type flakyCommandStore struct {
	CommandStore

	mu             sync.Mutex
	markSentFails  int
	markFailedErr  error
	markSentCalls  int
	markFailedMsgs []string
}

func (s *flakyCommandStore) MarkSent(ctx context.Context, orgID, commandID string, at time.Time) error {
	s.mu.Lock()
	s.markSentCalls++
	fail := s.markSentFails > 0
	if fail {
		s.markSentFails--
	}
	s.mu.Unlock()

	if fail {
		return errors.New("store unavailable")
	}
	return s.CommandStore.MarkSent(ctx, orgID, commandID, at)
}

func (s *flakyCommandStore) MarkFailed(ctx context.Context, orgID, commandID, message string) error {
	s.mu.Lock()
	s.markFailedMsgs = append(s.markFailedMsgs, message)
	err := s.markFailedErr
	s.mu.Unlock()

	if err != nil {
		return err
	}
	return s.CommandStore.MarkFailed(ctx, orgID, commandID, message)
}

// failingStatusStore rejects every merge.
type failingStatusStore struct{}

func (failingStatusStore) MergeStatus(context.Context, fleet.StatusReport) (*fleet.DeviceStatus, error) {
	return nil, fmt.Errorf("disk full")
}

// recordingSink stores what it was given.
type recordingSink struct {
	mu      sync.Mutex
	name    string
	err     error
	reports []string
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) WriteStatus(_ context.Context, status *fleet.DeviceStatus, report []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, status.Path()+" "+string(report))
	return s.err
}

func instantBackOff() backoff.BackOff { return &backoff.ZeroBackOff{} }
