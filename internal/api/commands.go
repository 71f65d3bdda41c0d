package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/basharjaffan/radio-revive-stream/internal/fleet"
)

// CreateCommandRequest is the body of a command enqueue request.
type CreateCommandRequest struct {
	// CommandID is optional; a UUID is generated when empty.
	CommandID string         `json:"commandId"`
	DeviceID  string         `json:"deviceId"`
	Name      string         `json:"name"`
	Params    map[string]any `json:"params"`
}

// handleCreateCommand stores a pending command for a device. Delivery
// happens asynchronously through the dispatcher.
func (s *Server) handleCreateCommand(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")

	var req CreateCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	cmd := &fleet.Command{
		ID:             req.CommandID,
		OrganizationID: orgID,
		DeviceID:       req.DeviceID,
		Name:           req.Name,
		Params:         req.Params,
	}
	if cmd.ID == "" {
		cmd.ID = s.newID()
	}

	if err := s.commands.Create(r.Context(), cmd); err != nil {
		switch {
		case errors.Is(err, fleet.ErrInvalidCommand):
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		case errors.Is(err, fleet.ErrCommandExists):
			writeError(w, http.StatusConflict, ErrCodeConflict, "command already exists")
		default:
			s.logger.Error("enqueueing command failed", "path", cmd.Path(), "error", err)
			writeInternalError(w, "failed to enqueue command")
		}
		return
	}

	s.logger.Info("command enqueued",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"organization_id", orgID,
		"name", cmd.Name,
	)
	w.Header().Set("Location", strings.TrimSuffix(r.URL.Path, "/")+"/"+cmd.ID)
	writeJSON(w, http.StatusCreated, cmd)
}

// handleGetCommand returns one command record.
func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	commandID := chi.URLParam(r, "commandID")

	cmd, err := s.commands.Get(r.Context(), orgID, commandID)
	if err != nil {
		if errors.Is(err, fleet.ErrCommandNotFound) {
			writeNotFound(w, "command not found")
			return
		}
		writeInternalError(w, "failed to get command")
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}

// handleListCommands returns an organization's commands, newest first.
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")

	cmds, err := s.commands.List(r.Context(), orgID)
	if err != nil {
		writeInternalError(w, "failed to list commands")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commands": cmds, "count": len(cmds)})
}
