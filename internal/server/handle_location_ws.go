package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/playperu/geounlock/internal/geo"
	"github.com/playperu/geounlock/internal/unlock"
)

const wsSessionTimeout = 2 * time.Hour

// handleLocationWS streams location samples for ?user=<id>, one JSON
// {lat,lng} object per text frame. Closing the last socket stops the user's
// monitor unless samples were also posted over HTTP.
func handleLocationWS(logger *slog.Logger, sessions *unlock.Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user")
		if !validUserID(userID) {
			writeError(w, http.StatusBadRequest, "user query parameter required")
			return
		}

		monitor, release, err := sessions.Attach(r.Context(), userID)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, "monitoring unavailable")
			return
		}
		defer release()

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			logger.Error("websocket accept failed", "user_id", userID, "error", err)
			return
		}
		defer conn.CloseNow()

		ctx, cancel := context.WithTimeout(r.Context(), wsSessionTimeout)
		defer cancel()

		samples := make(chan geo.Coordinate)
		followed := make(chan struct{})
		go func() {
			defer close(followed)
			monitor.Follow(ctx, samples)
		}()
		defer func() {
			cancel()
			<-followed
		}()

		for {
			typ, msg, err := conn.Read(ctx)
			if err != nil {
				logger.Debug("location stream ended", "user_id", userID, "error", err)
				return
			}
			if typ != websocket.MessageText {
				conn.Close(websocket.StatusUnsupportedData, "expected text frames")
				return
			}

			var req LocationRequest
			if err := json.Unmarshal(msg, &req); err != nil {
				if err := wsjson.Write(ctx, conn, ErrorResponse{Error: "invalid sample"}); err != nil {
					return
				}
				continue
			}
			sample, ok := req.coordinate()
			if !ok {
				if err := wsjson.Write(ctx, conn, ErrorResponse{Error: "lat and lng must be valid coordinates"}); err != nil {
					return
				}
				continue
			}

			select {
			case samples <- sample:
			case <-followed:
				conn.Close(websocket.StatusGoingAway, "monitoring stopped")
				return
			case <-ctx.Done():
				return
			}
		}
	}
}
