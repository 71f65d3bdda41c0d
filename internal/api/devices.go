package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/basharjaffan/radio-revive-stream/internal/fleet"
)

// handleListDevices returns the status records of one organization.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")

	devices, err := s.statuses.ListStatuses(r.Context(), orgID)
	if err != nil {
		s.logger.Error("listing device statuses failed", "organization_id", orgID, "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device status record.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	deviceID := chi.URLParam(r, "deviceID")

	status, err := s.statuses.GetStatus(r.Context(), orgID, deviceID)
	if err != nil {
		if errors.Is(err, fleet.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("reading device status failed", "path", fleet.DevicePath(orgID, deviceID), "error", err)
		writeInternalError(w, "failed to get device")
		return
	}

	writeJSON(w, http.StatusOK, status)
}
