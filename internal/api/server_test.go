package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/basharjaffan/radio-revive-stream/internal/bridge"
	"github.com/basharjaffan/radio-revive-stream/internal/fleet"
	"github.com/basharjaffan/radio-revive-stream/internal/infrastructure/config"
	"github.com/basharjaffan/radio-revive-stream/internal/infrastructure/database"
	"github.com/basharjaffan/radio-revive-stream/internal/infrastructure/logging"
	_ "github.com/basharjaffan/radio-revive-stream/migrations"
)

type testEnv struct {
	server   *Server
	router   http.Handler
	statuses *fleet.SQLiteStatusRepository
	commands *fleet.SQLiteCommandRepository
}

// testServer creates a Server backed by a migrated SQLite store. Options
// adjust the dependencies before the server is built.
func testServer(t *testing.T, opts ...func(*Deps)) *testEnv {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "api.db"),
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

	statuses := fleet.NewSQLiteStatusRepository(db)
	commands := fleet.NewSQLiteCommandRepository(db)

	deps := Deps{
		Config: config.APIConfig{Host: "127.0.0.1", Port: 4000},
		MQTT: config.MQTTConfig{
			Broker: config.MQTTBrokerConfig{Host: "localhost", Port: 1883},
			Topics: config.MQTTTopicsConfig{
				Status:  "devices/+/status",
				Command: "devices/{deviceId}/commands",
			},
		},
		Logger:     logging.Discard(),
		Statuses:   statuses,
		Commands:   commands,
		Transport:  connected(true),
		Relay:      fixedRelayStats{Accepted: 3},
		Dispatcher: fixedDispatcherStats{Sent: 2},
		DB:         db.DB,
		Version:    "test",
	}
	for _, opt := range opts {
		opt(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	srv.newID = func() string { return "generated-id" }

	return &testEnv{server: srv, router: srv.buildRouter(), statuses: statuses, commands: commands}
}

type connected bool

func (c connected) IsConnected() bool { return bool(c) }
func (c connected) SubscriptionCount() int { return 1 }

// checkFunc adapts a function to HealthChecker.
type checkFunc func(ctx context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

type fixedRelayStats bridge.RelayStats

func (s fixedRelayStats) Stats() bridge.RelayStats { return bridge.RelayStats(s) }

type fixedDispatcherStats bridge.DispatcherStats

func (s fixedDispatcherStats) Stats() bridge.DispatcherStats { return bridge.DispatcherStats(s) }

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal %s: %v", w.Body.String(), err)
	}
	return v
}

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: logging.Discard()}); err == nil {
		t.Error("New() without stores should fail")
	}
}

func TestHealth(t *testing.T) {
	env := testServer(t)

	for _, path := range []string{"/health", "/api/v1/health"} {
		w := env.do(t, http.MethodGet, path, nil)
		if w.Code != http.StatusOK {
			t.Errorf("%s status = %d, want %d", path, w.Code, http.StatusOK)
		}
		if ct := w.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}

		resp := decode[map[string]any](t, w)
		if resp["status"] != "ok" || resp["version"] != "test" {
			t.Errorf("%s = %v", path, resp)
		}
	}
}

func TestHealth_Components(t *testing.T) {
	healthy := checkFunc(func(context.Context) error { return nil })
	down := checkFunc(func(context.Context) error { return errors.New("broker unreachable") })

	tests := []struct {
		name       string
		checks     map[string]HealthChecker
		wantCode   int
		wantStatus string
		wantMQTT   string
	}{
		{
			name:       "all healthy",
			checks:     map[string]HealthChecker{"database": healthy, "mqtt": healthy},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantMQTT:   "ok",
		},
		{
			name:       "mqtt down",
			checks:     map[string]HealthChecker{"database": healthy, "mqtt": down},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "degraded",
			wantMQTT:   "broker unreachable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testServer(t, func(d *Deps) { d.HealthChecks = tt.checks })

			w := env.do(t, http.MethodGet, "/health", nil)
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}

			resp := decode[struct {
				Status     string            `json:"status"`
				Components map[string]string `json:"components"`
			}](t, w)
			if resp.Status != tt.wantStatus {
				t.Errorf("status field = %q, want %q", resp.Status, tt.wantStatus)
			}
			if resp.Components["mqtt"] != tt.wantMQTT {
				t.Errorf("components[mqtt] = %q, want %q", resp.Components["mqtt"], tt.wantMQTT)
			}
			if resp.Components["database"] != "ok" {
				t.Errorf("components[database] = %q, want ok", resp.Components["database"])
			}
		})
	}
}

func TestHealth_CheckTimeout(t *testing.T) {
	slow := checkFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	env := testServer(t, func(d *Deps) { d.HealthChecks = map[string]HealthChecker{"influxdb": slow} })

	start := time.Now()
	w := env.do(t, http.MethodGet, "/api/v1/health", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	if elapsed := time.Since(start); elapsed > healthCheckTimeout+time.Second {
		t.Errorf("health took %v, want bounded by %v", elapsed, healthCheckTimeout)
	}
}

func TestMQTTConfig(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/config/mqtt", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	got := decode[MQTTSettings](t, w)
	if got.StatusTopic != "devices/+/status" {
		t.Errorf("statusTopic = %q", got.StatusTopic)
	}
	if got.CommandTopicPattern != "devices/{deviceId}/commands" {
		t.Errorf("commandTopicPattern = %q", got.CommandTopicPattern)
	}
	if got.URL != "tcp://localhost:1883" {
		t.Errorf("url = %q", got.URL)
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/health", nil)
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	env := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := testServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
}

func TestSecurityHeaders(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/organizations/o1/devices", nil)
	for name, want := range map[string]string{
		"X-Content-Type-Options":    "nosniff",
		"X-Frame-Options":           "SAMEORIGIN",
		"Referrer-Policy":           "no-referrer",
		"Strict-Transport-Security": "max-age=15552000; includeSubDomains",
	} {
		if got := w.Header().Get(name); got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
	if w.Header().Get("Content-Security-Policy") == "" {
		t.Error("Content-Security-Policy not set")
	}
}

func TestRateLimit(t *testing.T) {
	env := testServer(t, func(d *Deps) {
		d.Config.RateLimit = config.RateLimitConfig{Requests: 2, Window: 60}
	})

	for i := 0; i < 2; i++ {
		if w := env.do(t, http.MethodGet, "/health", nil); w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i+1, w.Code)
		}
	}

	w := env.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d, want 429", w.Code)
	}
	if got := decode[Error](t, w); got.Code != ErrCodeRateLimited {
		t.Errorf("error code = %q, want %q", got.Code, ErrCodeRateLimited)
	}

	// Other clients keep their own budget.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "198.51.100.7:4242"
	other := httptest.NewRecorder()
	env.router.ServeHTTP(other, req)
	if other.Code != http.StatusOK {
		t.Errorf("other client status = %d, want 200", other.Code)
	}
}

func TestRateLimit_DisabledByDefault(t *testing.T) {
	env := testServer(t)

	for i := 0; i < 150; i++ {
		if w := env.do(t, http.MethodGet, "/health", nil); w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200 with no limit configured", i+1, w.Code)
		}
	}
}

func TestNotFound(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/nonexistent", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── Device Tests ──────────────────────────────────────────────────

func TestListDevices(t *testing.T) {
	env := testServer(t)
	ctx := context.Background()

	w := env.do(t, http.MethodGet, "/api/v1/organizations/o1/devices", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if resp := decode[map[string]any](t, w); resp["count"] != float64(0) {
		t.Errorf("empty list = %v", resp)
	}

	for _, id := range []string{"d1", "d2"} {
		if _, err := env.statuses.MergeStatus(ctx, fleet.StatusReport{
			DeviceID: id, OrganizationID: "o1", ReportedAt: "2024-01-01T00:00:00Z",
		}); err != nil {
			t.Fatalf("MergeStatus() error = %v", err)
		}
	}

	w = env.do(t, http.MethodGet, "/api/v1/organizations/o1/devices", nil)
	if resp := decode[map[string]any](t, w); resp["count"] != float64(2) {
		t.Errorf("list = %v", resp)
	}
}

func TestGetDevice(t *testing.T) {
	env := testServer(t)
	online := true

	if _, err := env.statuses.MergeStatus(context.Background(), fleet.StatusReport{
		DeviceID: "d1", OrganizationID: "o1", Online: &online, ReportedAt: "2024-01-01T00:00:00Z",
	}); err != nil {
		t.Fatalf("MergeStatus() error = %v", err)
	}

	w := env.do(t, http.MethodGet, "/api/v1/organizations/o1/devices/d1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	got := decode[fleet.DeviceStatus](t, w)
	if !got.Online || got.ReportedAt != "2024-01-01T00:00:00Z" {
		t.Errorf("device = %+v", got)
	}

	w = env.do(t, http.MethodGet, "/api/v1/organizations/o2/devices/d1", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("other org status = %d, want 404", w.Code)
	}
}

// ─── Command Tests ─────────────────────────────────────────────────

func TestCreateCommand(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodPost, "/api/v1/organizations/o1/commands", map[string]any{
		"deviceId": "d1",
		"name":     "play",
		"params":   map[string]any{"url": "https://x/y"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}

	got := decode[fleet.Command](t, w)
	if got.ID != "generated-id" || got.Status != fleet.CommandPending || got.OrganizationID != "o1" {
		t.Errorf("command = %+v", got)
	}
	if loc := w.Header().Get("Location"); loc != "/api/v1/organizations/o1/commands/generated-id" {
		t.Errorf("Location = %q", loc)
	}

	stored, err := env.commands.Get(context.Background(), "o1", "generated-id")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored.Params["url"] != "https://x/y" {
		t.Errorf("stored params = %v", stored.Params)
	}

	w = env.do(t, http.MethodGet, "/api/v1/organizations/o1/commands/generated-id", nil)
	if w.Code != http.StatusOK {
		t.Errorf("GET status = %d", w.Code)
	}
}

func TestCreateCommand_Errors(t *testing.T) {
	env := testServer(t)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"invalid json", "{", http.StatusBadRequest},
		{"missing device", map[string]any{"name": "play"}, http.StatusBadRequest},
		{"missing name", map[string]any{"deviceId": "d1"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/v1/organizations/o1/commands", tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}

	dup := map[string]any{"commandId": "c1", "deviceId": "d1", "name": "stop"}
	if w := env.do(t, http.MethodPost, "/api/v1/organizations/o1/commands", dup); w.Code != http.StatusCreated {
		t.Fatalf("first create status = %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/organizations/o1/commands", dup); w.Code != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409", w.Code)
	}
}

func TestGetCommand_NotFound(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/organizations/o1/commands/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestListCommands(t *testing.T) {
	env := testServer(t)

	for _, id := range []string{"a", "b"} {
		body := map[string]any{"commandId": id, "deviceId": "d1", "name": "stop"}
		if w := env.do(t, http.MethodPost, "/api/v1/organizations/o1/commands", body); w.Code != http.StatusCreated {
			t.Fatalf("create status = %d", w.Code)
		}
	}

	w := env.do(t, http.MethodGet, "/api/v1/organizations/o1/commands", nil)
	if resp := decode[map[string]any](t, w); resp["count"] != float64(2) {
		t.Errorf("list = %v", resp)
	}
}

func TestMetrics(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	got := decode[SystemMetrics](t, w)
	if !got.MQTT.Connected {
		t.Error("mqtt.connected = false")
	}
	if got.Relay == nil || got.Relay.Accepted != 3 {
		t.Errorf("relay = %+v", got.Relay)
	}
	if got.Dispatcher == nil || got.Dispatcher.Sent != 2 {
		t.Errorf("dispatcher = %+v", got.Dispatcher)
	}
	if got.Version != "test" {
		t.Errorf("version = %q", got.Version)
	}
	if got.MQTT.Subscriptions != 1 {
		t.Errorf("mqtt.subscriptions = %d, want 1", got.MQTT.Subscriptions)
	}
}

func TestStartAndClose(t *testing.T) {
	env := testServer(t)
	env.server.cfg.Host = "127.0.0.1"
	env.server.cfg.Port = 0

	if err := env.server.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := env.server.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := env.server.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if err := env.server.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
