package server

import (
	"errors"
	"net/http"
	"testing"

	"github.com/playperu/geounlock/internal/geo"
	"github.com/playperu/geounlock/internal/secretquiz"
)

var nearKawahPutih = map[string]float64{"lat": -7.1667, "lng": 107.3335}

func TestPostLocationUnlocksNearbyQuiz(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/users/u1/location", nearKawahPutih)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusAccepted, w.Body.String())
	}
	resp := decode[LocationResponse](t, w)
	if resp.UserID != "u1" || !resp.Accepted {
		t.Errorf("response = %+v", resp)
	}

	waitFor(t, "Kawah Putih unlock", func() bool { return env.profile.isUnlocked("u1", "Kawah Putih") })
	waitFor(t, "open quiz unlock", func() bool { return env.profile.isUnlocked("u1", "Welcome Trivia") })

	if env.profile.isUnlocked("u1", "Gedung Sate") {
		t.Error("Gedung Sate unlocked from 100km away")
	}

	// The local cache is mirrored after the remote write.
	waitFor(t, "local mirror", func() bool {
		w := env.do(t, http.MethodGet, "/api/users/u1/unlocks", nil)
		return len(decode[UnlocksResponse](t, w).Records) == 2
	})
}

func TestPostLocationRejectsBadSamples(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body any
	}{
		{"not json", "{lat:"},
		{"missing lng", map[string]float64{"lat": -7.1667}},
		{"latitude out of range", map[string]float64{"lat": 91, "lng": 0}},
		{"longitude out of range", map[string]float64{"lat": 0, "lng": -180.5}},
		{"unknown field", map[string]any{"lat": 0, "lng": 0, "alt": 1200}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/users/u1/location", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}

	if n := env.sessions.Len(); n != 0 {
		t.Errorf("rejected samples started %d sessions", n)
	}
}

func TestPremiumUnlocksEverythingFromAnywhere(t *testing.T) {
	env := newTestEnv(t)

	w := env.doAdmin(t, http.MethodPut, "/api/admin/users/u1/premium", PremiumRequest{Premium: true})
	if w.Code != http.StatusOK {
		t.Fatalf("set premium: status = %d: %s", w.Code, w.Body.String())
	}

	// Westminster, nowhere near any catalog entry.
	w = env.do(t, http.MethodPost, "/api/users/u1/location", map[string]float64{"lat": 51.5007, "lng": -0.1246})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d", w.Code)
	}

	for _, q := range secretquiz.DemoCatalog() {
		waitFor(t, q.Name, func() bool { return env.profile.isUnlocked("u1", q.Name) })
	}
}

func TestStopMonitor(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, http.MethodPost, "/api/users/u1/location", nearKawahPutih)
	if n := env.sessions.Len(); n != 1 {
		t.Fatalf("sessions = %d, want 1", n)
	}

	w := env.do(t, http.MethodDelete, "/api/users/u1/monitor", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if resp := decode[StopMonitorResponse](t, w); !resp.Stopped {
		t.Error("first stop reported no running monitor")
	}

	w = env.do(t, http.MethodDelete, "/api/users/u1/monitor", nil)
	if resp := decode[StopMonitorResponse](t, w); resp.Stopped {
		t.Error("second stop reported a running monitor")
	}
}

func TestPostLocationAfterStopStartsNewSession(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, http.MethodPost, "/api/users/u1/location", map[string]float64{"lat": 51.5007, "lng": -0.1246})
	stale, ok := env.sessions.Lookup("u1")
	if !ok {
		t.Fatal("no session after first sample")
	}
	env.do(t, http.MethodDelete, "/api/users/u1/monitor", nil)
	if stale.Offer(geo.Coordinate{Lat: -7.1667, Lng: 107.3335}) {
		t.Fatal("stopped monitor accepted a sample")
	}

	w := env.do(t, http.MethodPost, "/api/users/u1/location", nearKawahPutih)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	if m, ok := env.sessions.Lookup("u1"); !ok || m == stale {
		t.Fatal("sample after stop did not start a new session")
	}
	waitFor(t, "Kawah Putih unlock", func() bool { return env.profile.isUnlocked("u1", "Kawah Putih") })
}

func TestPostLocationAfterShutdown(t *testing.T) {
	env := newTestEnv(t)
	env.sessions.Close()

	w := env.do(t, http.MethodPost, "/api/users/u1/location", nearKawahPutih)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestUserSecretQuizzes(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/users/u1/secret-quizzes", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	before := decode[UserSecretQuizzesResponse](t, w)
	if before.Monitoring || before.LastSample != nil {
		t.Errorf("idle user reported as monitored: %+v", before)
	}
	if len(before.Quizzes) != len(secretquiz.DemoCatalog()) {
		t.Fatalf("got %d quizzes, want %d", len(before.Quizzes), len(secretquiz.DemoCatalog()))
	}
	for _, q := range before.Quizzes {
		if q.Unlocked || q.DistanceMeters != nil {
			t.Errorf("%s: unexpected state %+v", q.Name, q)
		}
	}

	env.do(t, http.MethodPost, "/api/users/u1/location", nearKawahPutih)

	var after UserSecretQuizzesResponse
	byName := make(map[string]UserSecretQuiz)
	waitFor(t, "Kawah Putih unlock", func() bool {
		after = decode[UserSecretQuizzesResponse](t, env.do(t, http.MethodGet, "/api/users/u1/secret-quizzes", nil))
		for _, q := range after.Quizzes {
			byName[q.Name] = q
		}
		return byName["Kawah Putih"].Unlocked
	})
	if !after.Monitoring || after.LastSample == nil {
		t.Fatalf("monitored user missing sample: %+v", after)
	}

	kawah := byName["Kawah Putih"]
	if !kawah.Unlocked || kawah.InRange == nil || !*kawah.InRange {
		t.Errorf("Kawah Putih = %+v, want unlocked and in range", kawah)
	}
	if kawah.DistanceMeters == nil || *kawah.DistanceMeters > 30 {
		t.Errorf("Kawah Putih distance = %v, want about 22m", kawah.DistanceMeters)
	}

	sate := byName["Gedung Sate"]
	if sate.Unlocked || sate.InRange == nil || *sate.InRange {
		t.Errorf("Gedung Sate = %+v, want locked and out of range", sate)
	}

	trivia := byName["Welcome Trivia"]
	if trivia.DistanceMeters != nil {
		t.Errorf("open quiz reports a distance: %+v", trivia)
	}
}

func TestSetPremiumRemoteUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.profile.setErr(errors.Join(secretquiz.ErrRemoteUnavailable, errors.New("dial tcp: refused")))

	w := env.doAdmin(t, http.MethodPut, "/api/admin/users/u1/premium", PremiumRequest{Premium: true})
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}
