package server

import (
	"errors"
	"net/http"

	"github.com/playperu/geounlock/internal/geo"
	"github.com/playperu/geounlock/internal/unlock"
)

type LocationRequest struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

func (req LocationRequest) coordinate() (geo.Coordinate, bool) {
	if req.Lat == nil || req.Lng == nil {
		return geo.Coordinate{}, false
	}
	c := geo.Coordinate{Lat: *req.Lat, Lng: *req.Lng}
	return c, c.Valid()
}

type LocationResponse struct {
	UserID   string `json:"userId"`
	Accepted bool   `json:"accepted"`
}

type StopMonitorResponse struct {
	UserID  string `json:"userId"`
	Stopped bool   `json:"stopped"`
}

// handlePostLocation queues a sample on the user's monitor. Reconciliation
// runs asynchronously; the response only acknowledges receipt.
func handlePostLocation(sessions *unlock.Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := userFrom(r)

		var req LocationRequest
		if err := readJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		sample, ok := req.coordinate()
		if !ok {
			writeError(w, http.StatusBadRequest, "lat and lng must be valid coordinates")
			return
		}

		// A concurrent Stop can end the session between Get and Offer; the
		// sample then goes to a fresh session.
		accepted := false
		for attempt := 0; attempt < 2 && !accepted; attempt++ {
			monitor, err := sessions.Get(r.Context(), userID)
			if errors.Is(err, unlock.ErrClosed) {
				writeError(w, http.StatusServiceUnavailable, "shutting down")
				return
			}
			if err != nil {
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
			accepted = monitor.Offer(sample)
		}
		if !accepted {
			writeError(w, http.StatusServiceUnavailable, "monitoring stopped")
			return
		}

		writeJSON(w, http.StatusAccepted, LocationResponse{UserID: userID, Accepted: true})
	}
}

func handleStopMonitor(sessions *unlock.Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := userFrom(r)
		writeJSON(w, http.StatusOK, StopMonitorResponse{
			UserID:  userID,
			Stopped: sessions.Stop(userID),
		})
	}
}
