package unlock

import (
	"context"
	"errors"
	"testing"

	"github.com/playperu/geounlock/internal/geo"
)

func startMonitor(t *testing.T, m *Monitor) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	})
}

func TestMonitorSuppressesDuplicateWriteWhileInFlight(t *testing.T) {
	f := newFixture(t, fakePremium{}, kawahPutih)
	gate := make(chan struct{})
	f.remote.markGate = gate
	f.remote.markStarted = make(chan struct{}, 4)

	m := NewMonitor(NewReconciler("u1", f.deps), discardLogger())
	startMonitor(t, m)

	m.Offer(nearKawah)
	<-f.remote.markStarted

	// Both samples arrive while the first write is still pending.
	m.Offer(geo.Coordinate{Lat: -7.16671, Lng: 107.33349})
	m.Offer(nearKawah)
	close(gate)

	waitFor(t, "second pass", func() bool { return f.catalog.passes() == 2 })
	waitFor(t, "unlock event", func() bool { return len(f.sink.snapshot()) == 1 })

	if calls, _ := f.remote.counts(); calls != 1 {
		t.Errorf("remote mark calls = %d, want 1", calls)
	}
	if n := f.catalog.passes(); n != 2 {
		t.Errorf("passes = %d, want 2 (queued samples coalesced)", n)
	}
}

func TestMonitorRetriesAfterRemoteRecovers(t *testing.T) {
	f := newFixture(t, fakePremium{}, kawahPutih)
	f.remote.setErrs(errors.New("offline"), nil)

	m := NewMonitor(NewReconciler("u1", f.deps), discardLogger())
	startMonitor(t, m)

	m.Offer(nearKawah)
	waitFor(t, "failed confirmation", func() bool { return f.remote.checks() == 1 })
	if len(f.sink.snapshot()) != 0 {
		t.Fatal("event emitted while remote offline")
	}

	f.remote.setErrs(nil, nil)
	m.Offer(nearKawah)
	waitFor(t, "unlock event", func() bool { return len(f.sink.snapshot()) == 1 })
}

func TestMonitorFollow(t *testing.T) {
	f := newFixture(t, fakePremium{}, kawahPutih)
	m := NewMonitor(NewReconciler("u1", f.deps), discardLogger())

	if _, ok := m.LastSample(); ok {
		t.Fatal("LastSample reported a sample before any was offered")
	}

	samples := make(chan geo.Coordinate, 3)
	samples <- farAway
	samples <- nearKawah
	close(samples)
	m.Follow(context.Background(), samples)

	last, ok := m.LastSample()
	if !ok || last != nearKawah {
		t.Errorf("LastSample = %v, %v; want %v, true", last, ok, nearKawah)
	}

	startMonitor(t, m)
	waitFor(t, "unlock event", func() bool { return len(f.sink.snapshot()) == 1 })
	if n := f.catalog.passes(); n != 1 {
		t.Errorf("passes = %d, want 1 (only latest sample processed)", n)
	}
}

func TestMonitorFollowStopsOnCancel(t *testing.T) {
	f := newFixture(t, fakePremium{}, kawahPutih)
	m := NewMonitor(NewReconciler("u1", f.deps), discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Follow(ctx, make(chan geo.Coordinate))
		close(done)
	}()
	cancel()
	<-done
}

func TestMonitorFollowStopsWhenClosed(t *testing.T) {
	f := newFixture(t, fakePremium{}, kawahPutih)
	m := NewMonitor(NewReconciler("u1", f.deps), discardLogger())
	m.close()

	samples := make(chan geo.Coordinate, 1)
	samples <- nearKawah
	done := make(chan struct{})
	go func() {
		m.Follow(context.Background(), samples)
		close(done)
	}()
	<-done

	if _, ok := m.LastSample(); ok {
		t.Error("closed monitor kept a sample")
	}
}
