package unlock

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var ErrClosed = errors.New("sessions closed")

type session struct {
	monitor *Monitor
	cancel  context.CancelFunc
	// ready is closed once the reconciler has restored its unlock state.
	ready chan struct{}
	done  chan struct{}

	// streams counts attached location streams. A pinned session outlives
	// its streams and ends only on Stop or Close.
	streams int
	pinned  bool
}

// Sessions keeps one running Monitor per user.
type Sessions struct {
	deps   Deps
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	sessions map[string]*session
	closed   bool
	wg       sync.WaitGroup
}

// NewSessions returns a registry whose reconcilers share deps.
func NewSessions(deps Deps, logger *slog.Logger) *Sessions {
	ctx, cancel := context.WithCancel(context.Background())
	return &Sessions{
		deps:     deps,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*session),
	}
}

// Get returns the user's Monitor, starting one if needed. A new session
// restores its unlock state before the monitor accepts samples. The session
// keeps running until Stop or Close.
func (s *Sessions) Get(ctx context.Context, userID string) (*Monitor, error) {
	s.mu.RLock()
	sess, ok := s.sessions[userID]
	pinned := ok && sess.pinned
	s.mu.RUnlock()
	if pinned {
		if err := sess.wait(ctx); err != nil {
			return nil, err
		}
		return sess.monitor, nil
	}

	sess, err := s.acquire(ctx, userID, false)
	if err != nil {
		return nil, err
	}
	return sess.monitor, nil
}

// Attach is like Get for a single location stream. The returned release
// func detaches the stream; the session stops when its last stream detaches
// unless Get has also been called for the user.
func (s *Sessions) Attach(ctx context.Context, userID string) (*Monitor, func(), error) {
	sess, err := s.acquire(ctx, userID, true)
	if err != nil {
		return nil, nil, err
	}
	var once sync.Once
	release := func() {
		once.Do(func() { s.detach(userID, sess) })
	}
	return sess.monitor, release, nil
}

func (s *Sessions) acquire(ctx context.Context, userID string, stream bool) (*session, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	sess, ok := s.sessions[userID]
	if !ok {
		sess = s.start(userID)
	}
	if stream {
		sess.streams++
	} else {
		sess.pinned = true
	}
	s.mu.Unlock()

	if !ok {
		// Restore runs outside the registry lock so a slow remote store
		// only delays this user. A failed remote restore already fell back
		// to the local cache.
		_ = sess.monitor.Reconciler().Restore(ctx)
		close(sess.ready)
		s.logger.Info("location monitoring started", "user_id", userID)
	}

	if err := sess.wait(ctx); err != nil {
		if stream {
			s.detach(userID, sess)
		}
		return nil, err
	}
	return sess, nil
}

// start registers a new session for userID. Its monitor runs once ready is
// closed. Callers hold s.mu.
func (s *Sessions) start(userID string) *session {
	runCtx, cancel := context.WithCancel(s.ctx)
	sess := &session{
		monitor: NewMonitor(NewReconciler(userID, s.deps), s.logger),
		cancel:  cancel,
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.sessions[userID] = sess

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(sess.done)
		select {
		case <-sess.ready:
		case <-runCtx.Done():
			return
		}
		sess.monitor.Run(runCtx)
	}()
	return sess
}

func (sess *session) wait(ctx context.Context) error {
	select {
	case <-sess.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sessions) detach(userID string, sess *session) {
	s.mu.Lock()
	sess.streams--
	if sess.streams > 0 || sess.pinned || s.sessions[userID] != sess {
		s.mu.Unlock()
		return
	}
	delete(s.sessions, userID)
	s.mu.Unlock()

	s.stop(userID, sess)
}

// Lookup returns the user's Monitor without starting one.
func (s *Sessions) Lookup(userID string) (*Monitor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return nil, false
	}
	return sess.monitor, true
}

// Stop ends monitoring for userID and waits for an in-flight pass to finish.
// It reports whether a session was running.
func (s *Sessions) Stop(userID string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[userID]
	delete(s.sessions, userID)
	s.mu.Unlock()
	if !ok {
		return false
	}

	s.stop(userID, sess)
	return true
}

func (s *Sessions) stop(userID string, sess *session) {
	sess.monitor.close()
	sess.cancel()
	<-sess.done
	s.logger.Info("location monitoring stopped", "user_id", userID)
}

// Len returns the number of running sessions.
func (s *Sessions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close stops every session and waits for them to exit.
func (s *Sessions) Close() error {
	s.mu.Lock()
	s.closed = true
	for userID, sess := range s.sessions {
		sess.monitor.close()
		delete(s.sessions, userID)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	return nil
}
