package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/shellyflux/internal/registry"
)

// deviceResponse is the wire shape for one device.
type deviceResponse struct {
	ID                  string   `json:"id"`
	Address             string   `json:"address"`
	Model               string   `json:"model,omitempty"`
	Capabilities        []string `json:"capabilities,omitempty"`
	Health              string   `json:"health"`
	ConsecutiveFailures int      `json:"consecutive_failures"`
	LastSuccessAt       string   `json:"last_success_at,omitempty"`
	FirmwareVersion     string   `json:"firmware_version,omitempty"`
}

func toDeviceResponse(d registry.Device) deviceResponse {
	resp := deviceResponse{
		ID:                  d.ID,
		Address:             d.Address,
		Model:               d.Model,
		Capabilities:        d.Capabilities,
		Health:              string(d.Health),
		ConsecutiveFailures: d.ConsecutiveFailures,
		FirmwareVersion:     d.FirmwareVersion,
	}
	if !d.LastSuccessAt.IsZero() {
		resp.LastSuccessAt = d.LastSuccessAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// handleHealth serves GET /api/v1/health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}

// handleListDevices serves GET /api/v1/devices.
// An optional ?health= query filters by health state.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("health")
	if filter != "" && !registry.Health(filter).Valid() {
		writeBadRequest(w, "unknown health state: "+filter)
		return
	}

	devices := s.devices.Snapshot()
	out := make([]deviceResponse, 0, len(devices))
	for _, d := range devices {
		if filter != "" && string(d.Health) != filter {
			continue
		}
		out = append(out, toDeviceResponse(d))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": out,
		"count":   len(out),
	})
}

// handleGetDevice serves GET /api/v1/devices/{id}.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	d, err := s.devices.Get(id)
	if err != nil {
		if errors.Is(err, registry.ErrDeviceNotFound) {
			writeNotFound(w, "device not found: "+id)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, toDeviceResponse(d))
}

// handleStats serves GET /api/v1/stats.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	deviceStats := s.devices.Stats()
	byHealth := make(map[string]int, len(deviceStats.ByHealth))
	for h, n := range deviceStats.ByHealth {
		byHealth[string(h)] = n
	}

	bufStats := s.buffer.Stats()

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": map[string]any{
			"total":     deviceStats.Total,
			"by_health": byHealth,
		},
		"buffer": map[string]any{
			"queued":   bufStats.Queued,
			"capacity": bufStats.Capacity,
			"dropped":  bufStats.Dropped,
			"written":  bufStats.Written,
			"rejected": bufStats.Rejected,
			"retries":  bufStats.Retries,
		},
	})
}
