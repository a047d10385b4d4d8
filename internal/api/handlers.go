package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/freezelink/freezelink/internal/broker"
	"github.com/freezelink/freezelink/internal/command"
	"github.com/freezelink/freezelink/internal/models"
)

// HandleHealth reports liveness and the broker connection state
func (s *RESTServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"broker": s.back.BrokerState(),
	})
}

// HandleGetSession reports the cloud session, tokens redacted
func (s *RESTServer) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.back.Session()
	if !ok {
		s.respondError(w, http.StatusServiceUnavailable, "not authenticated")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"email":              sess.Email,
		"customer_id":        sess.CustomerID,
		"user_id":            sess.UserID,
		"roles":              sess.Roles,
		"access_expires_at":  sess.AccessExpiresAt,
		"refresh_expires_at": sess.RefreshExpiresAt,
	})
}

// HandleListDevices lists discovered devices with their latest state
func (s *RESTServer) HandleListDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.back.Devices()

	out := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		view := deviceView{Device: d}
		if snap, ok := s.back.Snapshot(d.ID); ok {
			view.State = &snap
		}
		out = append(out, view)
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"devices": out,
		"total":   len(out),
	})
}

// HandleGetDevice gets one device
func (s *RESTServer) HandleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.device(w, r)
	if !ok {
		return
	}

	view := deviceView{Device: dev}
	if snap, ok := s.back.Snapshot(dev.ID); ok {
		view.State = &snap
	}
	s.respondJSON(w, http.StatusOK, view)
}

// HandleGetDeviceState gets the latest derived snapshot for a device
func (s *RESTServer) HandleGetDeviceState(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.device(w, r)
	if !ok {
		return
	}

	snap, ok := s.back.Snapshot(dev.ID)
	if !ok {
		s.respondError(w, http.StatusNotFound, "no state for device")
		return
	}
	s.respondJSON(w, http.StatusOK, snap)
}

// HandleListDeviceActions lists the actions the device currently accepts
func (s *RESTServer) HandleListDeviceActions(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.device(w, r)
	if !ok {
		return
	}

	actions, err := s.back.Actions(dev.ID)
	if err != nil {
		s.respondCommandError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"actions": actions,
	})
}

// HandleDispatchCommand dispatches a named action to the device. Accepted
// means published; the device confirms by changing screens.
func (s *RESTServer) HandleDispatchCommand(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.device(w, r)
	if !ok {
		return
	}

	var req struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Action == "" {
		s.respondError(w, http.StatusBadRequest, "action is required")
		return
	}

	if err := s.back.Dispatch(dev.ID, req.Action); err != nil {
		s.respondCommandError(w, err)
		return
	}

	s.respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"device_id": dev.ID,
		"action":    req.Action,
		"status":    "accepted",
	})
}

// HandleSetBatchName publishes a batch display-name update
func (s *RESTServer) HandleSetBatchName(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.device(w, r)
	if !ok {
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		s.respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	if err := s.back.SetBatchName(dev.ID, req.Name); err != nil {
		s.respondCommandError(w, err)
		return
	}

	s.respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"device_id": dev.ID,
		"name":      req.Name,
		"status":    "accepted",
	})
}

// device resolves the {id} URL parameter; writes the error response itself.
func (s *RESTServer) device(w http.ResponseWriter, r *http.Request) (models.Device, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid device id")
		return models.Device{}, false
	}
	dev, ok := s.back.Device(id)
	if !ok {
		s.respondError(w, http.StatusNotFound, "device not found")
		return models.Device{}, false
	}
	return dev, true
}

// respondCommandError maps dispatch failures onto HTTP statuses
func (s *RESTServer) respondCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, command.ErrUnknownDevice):
		s.respondError(w, http.StatusNotFound, "device not found")
	case errors.Is(err, command.ErrUnsupportedAction):
		s.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, command.ErrNoScreen):
		s.respondError(w, http.StatusConflict, "device screen not yet known")
	case errors.Is(err, broker.ErrNotConnected):
		s.respondError(w, http.StatusServiceUnavailable, "broker not connected")
	default:
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// respondJSON responds with JSON
func (s *RESTServer) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

// respondError responds with error
func (s *RESTServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{
		"error": message,
	})
}

type deviceView struct {
	models.Device
	State *models.Snapshot `json:"state,omitempty"`
}
