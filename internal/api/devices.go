package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wattwise/wattsync/internal/device"
)

// deviceID parses the {id} route parameter. It writes a 400 and returns
// false when the id is not a positive integer.
func deviceID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeBadRequest(w, "device id must be a positive integer")
		return 0, false
	}
	return id, true
}

// handleListDevices returns the cached devices of the active house.
//
// Query parameters:
//   - type: filter by device type (Lighting, HVAC, ...)
//   - status: filter by ON or OFF
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.sync.Devices()
	if devices == nil {
		devices = []device.Device{}
	}

	typeFilter := device.Type(r.URL.Query().Get("type"))
	statusFilter := device.Status(r.URL.Query().Get("status"))
	if typeFilter != "" || statusFilter != "" {
		filtered := devices[:0]
		for _, d := range devices {
			if typeFilter != "" && d.DeviceType != typeFilter {
				continue
			}
			if statusFilter != "" && d.Status != statusFilter {
				continue
			}
			filtered = append(filtered, d)
		}
		devices = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"house_id": s.sync.HouseID(),
		"devices":  devices,
		"count":    len(devices),
	})
}

// handleGetDevice returns one cached device.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}

	dev, err := s.sync.Device(id)
	if err != nil {
		writeSyncError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleToggleDevice flips a device's power. The cached device is updated
// optimistically; the response carries the backend's message.
func (s *Server) handleToggleDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}

	msg, err := s.sync.Toggle(r.Context(), id)
	if err != nil {
		writeSyncError(w, err)
		return
	}

	resp := map[string]any{"message": msg}
	if dev, err := s.sync.Device(id); err == nil {
		resp["device"] = dev
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCreateDevice adds a device to the active house.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var in device.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	created, err := s.sync.AddDevice(r.Context(), in)
	if err != nil {
		writeSyncError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleUpdateDevice replaces a device's descriptive fields.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}

	var in device.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	updated, err := s.sync.UpdateDevice(r.Context(), id, in)
	if err != nil {
		writeSyncError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleDeleteDevice removes a device.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}

	if err := s.sync.RemoveDevice(r.Context(), id); err != nil {
		writeSyncError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
