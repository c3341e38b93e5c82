package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/playperu/geounlock/internal/events"
	"github.com/playperu/geounlock/internal/secretquiz"
)

const ssePingInterval = 30 * time.Second

// handleEvents streams the user's quiz_unlocked events as Server-Sent Events.
func handleEvents(broker *events.Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := userFrom(r)

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming not supported")
			return
		}

		ch := broker.Subscribe(userID)
		defer broker.Unsubscribe(userID, ch)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		ping := time.NewTicker(ssePingInterval)
		defer ping.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case data := <-ch:
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", secretquiz.EventQuizUnlocked, data)
				flusher.Flush()
			case <-ping.C:
				fmt.Fprintf(w, ": ping\n\n")
				flusher.Flush()
			}
		}
	}
}
