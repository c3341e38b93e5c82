package server

import (
	"net/http"

	"github.com/playperu/geounlock/internal/geo"
	"github.com/playperu/geounlock/internal/secretquiz"
	"github.com/playperu/geounlock/internal/unlock"
)

type UnlocksResponse struct {
	UserID  string              `json:"userId"`
	Records []secretquiz.Record `json:"records"`
}

// UserSecretQuiz is a catalog entry as seen by one user.
type UserSecretQuiz struct {
	secretquiz.Quiz
	Unlocked bool `json:"unlocked"`
	// DistanceMeters is set while the user is monitored and has sent a sample.
	DistanceMeters *float64 `json:"distanceMeters,omitempty"`
	InRange        *bool    `json:"inRange,omitempty"`
}

type UserSecretQuizzesResponse struct {
	UserID     string           `json:"userId"`
	Monitoring bool             `json:"monitoring"`
	LastSample *geo.Coordinate  `json:"lastSample,omitempty"`
	Quizzes    []UserSecretQuiz `json:"quizzes"`
}

// handleListUnlocks serves the local unlock cache, the same view the device
// would read while offline.
func handleListUnlocks(unlocks UnlockRecords) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := userFrom(r)
		recs, err := unlocks.Records(r.Context(), userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, UnlocksResponse{UserID: userID, Records: recs})
	}
}

func handleUserSecretQuizzes(catalog CatalogStore, unlocks UnlockRecords, sessions *unlock.Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := userFrom(r)

		quizzes, err := catalog.SecretQuizzes(r.Context())
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, "catalog unavailable")
			return
		}
		recs, err := unlocks.Records(r.Context(), userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		unlocked := make(map[string]bool, len(recs))
		for _, rec := range recs {
			if rec.Unlocked {
				unlocked[rec.QuizName] = true
			}
		}

		resp := UserSecretQuizzesResponse{UserID: userID, Quizzes: make([]UserSecretQuiz, 0, len(quizzes))}

		monitor, monitoring := sessions.Lookup(userID)
		var sample geo.Coordinate
		var haveSample bool
		if monitoring {
			resp.Monitoring = true
			sample, haveSample = monitor.LastSample()
			if haveSample {
				resp.LastSample = &sample
			}
		}

		for _, q := range quizzes {
			if q.Validate() != nil {
				continue
			}
			item := UserSecretQuiz{Quiz: q, Unlocked: unlocked[q.Name]}
			if monitoring && monitor.Reconciler().IsUnlocked(q.Name) {
				item.Unlocked = true
			}
			if haveSample && q.RequiresLocationCheck {
				d := geo.Distance(sample, q.Target)
				in := geo.WithinRadius(sample, q.Target, float64(q.RadiusMeters))
				item.DistanceMeters = &d
				item.InRange = &in
			}
			resp.Quizzes = append(resp.Quizzes, item)
		}

		writeJSON(w, http.StatusOK, resp)
	}
}
