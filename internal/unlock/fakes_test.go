package unlock

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/playperu/geounlock/internal/geo"
	"github.com/playperu/geounlock/internal/secretquiz"
)

var (
	kawahPutih = secretquiz.Quiz{
		Name:                  "Kawah Putih",
		Target:                geo.Coordinate{Lat: -7.1667, Lng: 107.3333},
		RadiusMeters:          300,
		RequiresLocationCheck: true,
	}
	gedungSate = secretquiz.Quiz{
		Name:                  "Gedung Sate",
		Target:                geo.Coordinate{Lat: -6.9025, Lng: 107.6188},
		RadiusMeters:          150,
		RequiresLocationCheck: true,
	}
	nearKawah = geo.Coordinate{Lat: -7.1667, Lng: 107.3335}
	farAway   = geo.Coordinate{Lat: 51.5007, Lng: -0.1246}
	fixedNow  = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRemote struct {
	mu       sync.Mutex
	unlocked map[string]map[string]time.Time
	checkErr error
	markErr  error
	listErr  error

	checkCalls int
	markCalls  int
	writes     int
	// markGate, when set, blocks MarkUnlocked until it is closed.
	markGate    chan struct{}
	markStarted chan struct{}
	// listGate, when set, blocks Unlocked for listGateUser until it is closed.
	listGate     chan struct{}
	listStarted  chan struct{}
	listGateUser string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{unlocked: make(map[string]map[string]time.Time)}
}

func (f *fakeRemote) set(userID, quiz string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unlocked[userID] == nil {
		f.unlocked[userID] = make(map[string]time.Time)
	}
	f.unlocked[userID][quiz] = fixedNow
}

func (f *fakeRemote) setErrs(check, mark error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkErr, f.markErr = check, mark
}

func (f *fakeRemote) IsUnlocked(_ context.Context, userID, quiz string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkCalls++
	if f.checkErr != nil {
		return false, f.checkErr
	}
	_, ok := f.unlocked[userID][quiz]
	return ok, nil
}

func (f *fakeRemote) MarkUnlocked(_ context.Context, userID, quiz string, at time.Time) (bool, error) {
	f.mu.Lock()
	f.markCalls++
	gate, started := f.markGate, f.markStarted
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return false, f.markErr
	}
	if f.unlocked[userID] == nil {
		f.unlocked[userID] = make(map[string]time.Time)
	}
	if _, ok := f.unlocked[userID][quiz]; ok {
		return false, nil
	}
	f.unlocked[userID][quiz] = at
	f.writes++
	return true, nil
}

func (f *fakeRemote) Unlocked(_ context.Context, userID string) ([]secretquiz.Record, error) {
	f.mu.Lock()
	gate, started := f.listGate, f.listStarted
	gated := gate != nil && userID == f.listGateUser
	f.mu.Unlock()

	if gated {
		if started != nil {
			started <- struct{}{}
		}
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var recs []secretquiz.Record
	for quiz, at := range f.unlocked[userID] {
		recs = append(recs, secretquiz.Record{QuizName: quiz, UserID: userID, Unlocked: true, UnlockedAt: at})
	}
	return recs, nil
}

func (f *fakeRemote) checks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checkCalls
}

func (f *fakeRemote) counts() (markCalls, writes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.markCalls, f.writes
}

type fakeLocal struct {
	mu      sync.Mutex
	records map[string]secretquiz.Record
	putErr  error
}

func newFakeLocal() *fakeLocal {
	return &fakeLocal{records: make(map[string]secretquiz.Record)}
}

func (f *fakeLocal) Record(_ context.Context, userID, quiz string) (secretquiz.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[userID+"/"+quiz]
	if !ok {
		return secretquiz.Record{}, secretquiz.ErrNotFound
	}
	return rec, nil
}

func (f *fakeLocal) PutRecord(_ context.Context, rec secretquiz.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	key := rec.UserID + "/" + rec.QuizName
	if old, ok := f.records[key]; ok && old.Unlocked && !rec.Unlocked {
		return nil
	}
	f.records[key] = rec
	return nil
}

func (f *fakeLocal) Records(_ context.Context, userID string) ([]secretquiz.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var recs []secretquiz.Record
	for _, rec := range f.records {
		if rec.UserID == userID {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].QuizName < recs[j].QuizName })
	return recs, nil
}

func (f *fakeLocal) unlocked(userID, quiz string) bool {
	rec, err := f.Record(context.Background(), userID, quiz)
	return err == nil && rec.Unlocked
}

type fakeCatalog struct {
	mu      sync.Mutex
	entries []secretquiz.Quiz
	err     error
	calls   int
}

func (f *fakeCatalog) SecretQuizzes(context.Context) ([]secretquiz.Quiz, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]secretquiz.Quiz(nil), f.entries...), nil
}

func (f *fakeCatalog) passes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePremium struct {
	premium bool
	err     error
}

func (f fakePremium) IsPremium(context.Context, string) (bool, error) {
	return f.premium, f.err
}

type fakeSink struct {
	mu     sync.Mutex
	events []secretquiz.Event
}

func (f *fakeSink) Notify(_ context.Context, ev secretquiz.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeSink) snapshot() []secretquiz.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]secretquiz.Event(nil), f.events...)
}

type fixture struct {
	remote  *fakeRemote
	local   *fakeLocal
	catalog *fakeCatalog
	sink    *fakeSink
	deps    Deps
}

func newFixture(t *testing.T, premium fakePremium, entries ...secretquiz.Quiz) *fixture {
	t.Helper()
	f := &fixture{
		remote:  newFakeRemote(),
		local:   newFakeLocal(),
		catalog: &fakeCatalog{entries: entries},
		sink:    &fakeSink{},
	}
	logger := discardLogger()
	f.deps = Deps{
		Catalog: f.catalog,
		Premium: premium,
		State:   NewStateStore(f.remote, f.local, logger),
		Sink:    f.sink,
		Logger:  logger,
		Now:     func() time.Time { return fixedNow },
	}
	return f
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
