package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/basharjaffan/radio-revive-stream/internal/infrastructure/mqtt"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.securityHeadersMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.rateLimitMiddleware())
	r.Use(s.bodySizeLimitMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/config/mqtt", s.handleMQTTConfig)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/organizations/{orgID}", func(r chi.Router) {
			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)
				if s.stream != nil {
					r.Get("/stream", s.handleDeviceStream)
				}
				r.Get("/{deviceID}", s.handleGetDevice)
			})

			r.Route("/commands", func(r chi.Router) {
				r.Get("/", s.handleListCommands)
				r.Post("/", s.handleCreateCommand)
				r.Get("/{commandID}", s.handleGetCommand)
			})
		})
	})

	return r
}

// healthCheckTimeout bounds each component check run by /health.
const healthCheckTimeout = 2 * time.Second

// handleHealth pings every registered component. Any failure reports the
// service as degraded with a 503 so load balancers stop routing to it.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	components := make(map[string]string, len(s.checks))

	for name, check := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := check.HealthCheck(ctx)
		cancel()

		if err != nil {
			s.logger.Warn("health check failed", "component", name, "error", err)
			components[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.version,
		"components": components,
	})
}

// MQTTSettings tells device agents and dashboards where the broker is and
// which topics to use.
type MQTTSettings struct {
	URL                 string `json:"url"`
	StatusTopic         string `json:"statusTopic"`
	CommandTopicPattern string `json:"commandTopicPattern"`
}

// handleMQTTConfig returns the broker URL and topic layout. Credentials are
// never included.
func (s *Server) handleMQTTConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, MQTTSettings{
		URL:                 mqtt.BrokerURL(s.mqttCfg),
		StatusTopic:         s.mqttCfg.Topics.Status,
		CommandTopicPattern: s.mqttCfg.Topics.Command,
	})
}
