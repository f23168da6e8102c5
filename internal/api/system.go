package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/wattwise/wattsync/internal/device"
)

// healthCheckTimeout bounds each component check on /health.
const healthCheckTimeout = 2 * time.Second

// handleHealth reports the server and every registered component. Any
// failing component turns the response into a 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.health))
	for name := range s.health {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "ok"
	components := make(map[string]string, len(names))
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := s.health[name].HealthCheck(ctx)
		cancel()
		if err != nil {
			components[name] = err.Error()
			status = "degraded"
			continue
		}
		components[name] = "ok"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.version,
		"components": components,
	})
}

// handleStatus reports the synchronizer's session, channel and counters.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	stats := s.sync.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"house_id":     stats.HouseID,
		"connection":   stats.Status,
		"device_count": stats.Devices,
		"ws_clients":   s.hub.ClientCount(),
		"stats": map[string]any{
			"events_applied":   stats.EventsApplied,
			"malformed_events": stats.MalformedEvents,
			"ignored_events":   stats.IgnoredEvents,
			"loads":            stats.Loads,
			"load_failures":    stats.LoadFailures,
			"toggles":          stats.Toggles,
			"toggle_failures":  stats.ToggleFailures,
			"persist_failures": stats.PersistFailures,
			"dials":            stats.Channel.Dials,
			"reconnects":       stats.Channel.Reconnects,
			"drops":            stats.Channel.Drops,
			"retry_pending":    stats.Channel.RetryPending,
		},
	})
}

// handleRefresh fetches a fresh snapshot from the backend.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.sync.Load(r.Context()); err != nil {
		writeSyncError(w, err)
		return
	}
	devices := s.sync.Devices()
	if devices == nil {
		devices = []device.Device{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"house_id": s.sync.HouseID(),
		"devices":  devices,
		"count":    len(devices),
	})
}
