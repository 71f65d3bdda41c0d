package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/basharjaffan/radio-revive-stream/internal/bridge"
	"github.com/basharjaffan/radio-revive-stream/internal/fleet"
	"github.com/basharjaffan/radio-revive-stream/internal/infrastructure/config"
	"github.com/basharjaffan/radio-revive-stream/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// StatusReader reads device status records. *fleet.SQLiteStatusRepository
// satisfies it.
type StatusReader interface {
	GetStatus(ctx context.Context, orgID, deviceID string) (*fleet.DeviceStatus, error)
	ListStatuses(ctx context.Context, orgID string) ([]fleet.DeviceStatus, error)
}

// CommandQueue stores and reads commands. *fleet.SQLiteCommandRepository
// satisfies it.
type CommandQueue interface {
	Create(ctx context.Context, cmd *fleet.Command) error
	Get(ctx context.Context, orgID, commandID string) (*fleet.Command, error)
	List(ctx context.Context, orgID string) ([]fleet.Command, error)
}

// ConnectionChecker reports transport connectivity. *mqtt.Client satisfies it.
type ConnectionChecker interface {
	IsConnected() bool
	SubscriptionCount() int
}

// HealthChecker is a dependency /health can ping. *database.DB,
// *mqtt.Client and *influxdb.Client satisfy it.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// RelayStats and DispatcherStats expose component counters for /metrics.
type (
	RelayStats      interface{ Stats() bridge.RelayStats }
	DispatcherStats interface{ Stats() bridge.DispatcherStats }
)

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	MQTT     config.MQTTConfig
	Logger   *logging.Logger
	Statuses StatusReader
	Commands CommandQueue

	// Optional; used by /metrics when set.
	Transport  ConnectionChecker
	Relay      RelayStats
	Dispatcher DispatcherStats
	DB         *sql.DB

	// HealthChecks are run by /health, keyed by component name.
	HealthChecks map[string]HealthChecker

	// Stream serves the live device status stream when set.
	Stream *StatusHub

	Version string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes and middleware.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	mqttCfg    config.MQTTConfig
	logger     *logging.Logger
	statuses   StatusReader
	commands   CommandQueue
	transport  ConnectionChecker
	relay      RelayStats
	dispatcher DispatcherStats
	db         *sql.DB
	checks     map[string]HealthChecker
	stream     *StatusHub
	version    string
	startTime  time.Time
	newID      func() string
	server     *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if deps.Statuses == nil || deps.Commands == nil {
		return nil, errors.New("status and command stores are required")
	}

	return &Server{
		cfg:        deps.Config,
		mqttCfg:    deps.MQTT,
		logger:     deps.Logger,
		statuses:   deps.Statuses,
		commands:   deps.Commands,
		transport:  deps.Transport,
		relay:      deps.Relay,
		dispatcher: deps.Dispatcher,
		db:         deps.DB,
		checks:     deps.HealthChecks,
		stream:     deps.Stream,
		version:    deps.Version,
		startTime:  time.Now(),
		newID:      uuid.NewString,
	}, nil
}

// Start begins listening for HTTP connections in a background goroutine.
//
// The listener is bound before Start returns, so a port conflict is
// reported to the caller. The server can be stopped with Close().
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}

	s.logger.Info("API server listening", "address", ln.Addr().String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return errors.New("api server not started")
	}

	return nil
}
