// Package unlock reconciles location samples against the secret quiz catalog
// and records unlocks in the remote profile store and the local cache.
package unlock

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/playperu/geounlock/internal/geo"
	"github.com/playperu/geounlock/internal/secretquiz"
)

// Catalog returns the current set of secret quizzes.
type Catalog interface {
	SecretQuizzes(ctx context.Context) ([]secretquiz.Quiz, error)
}

// PremiumSource reports whether a user is on the premium tier.
type PremiumSource interface {
	IsPremium(ctx context.Context, userID string) (bool, error)
}

// Sink receives unlock notifications. Delivery is fire-and-forget.
type Sink interface {
	Notify(ctx context.Context, ev secretquiz.Event)
}

// State is the position of one catalog entry within a reconciliation pass.
type State int

const (
	Locked State = iota
	CheckingPremium
	CheckingProximity
	Unlocking
	Unlocked
)

func (s State) String() string {
	switch s {
	case Locked:
		return "locked"
	case CheckingPremium:
		return "checking_premium"
	case CheckingProximity:
		return "checking_proximity"
	case Unlocking:
		return "unlocking"
	case Unlocked:
		return "unlocked"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// PassResult summarizes one reconciliation pass.
type PassResult struct {
	// Err wraps secretquiz.ErrCatalogUnavailable when the pass was skipped.
	Err      error
	Premium  bool
	States   map[string]State
	Unlocked []string // newly unlocked in this pass, event emitted
	Deferred []string // eligible but the remote round-trip failed
	Skipped  []string // malformed entries
}

// Deps are the collaborators of a Reconciler.
type Deps struct {
	Catalog Catalog
	Premium PremiumSource
	State   *StateStore
	Sink    Sink
	Logger  *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Reconciler runs reconciliation passes for a single user. Passes are
// serialized; the set of confirmed unlocks lives for the lifetime of the
// instance.
type Reconciler struct {
	userID  string
	catalog Catalog
	premium PremiumSource
	state   *StateStore
	sink    Sink
	logger  *slog.Logger
	now     func() time.Time

	// passMu serializes passes; setMu guards unlocked so readers are not
	// held up by a pass waiting on the remote store.
	passMu   sync.Mutex
	setMu    sync.RWMutex
	unlocked map[string]struct{}
}

func NewReconciler(userID string, deps Deps) *Reconciler {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		userID:   userID,
		catalog:  deps.Catalog,
		premium:  deps.Premium,
		state:    deps.State,
		sink:     deps.Sink,
		logger:   logger.With("user_id", userID),
		now:      now,
		unlocked: make(map[string]struct{}),
	}
}

func (r *Reconciler) UserID() string { return r.userID }

// Restore rebuilds the unlocked set from the remote store. When the remote is
// unreachable it falls back to the local cache, which never runs ahead of the
// remote, and returns the remote error.
func (r *Reconciler) Restore(ctx context.Context) error {
	r.passMu.Lock()
	defer r.passMu.Unlock()

	names, err := r.state.Restore(ctx, r.userID)
	if err != nil {
		r.logger.Warn("restoring unlocks from remote, using local cache", "error", err)
		names = r.state.LocalUnlocked(ctx, r.userID)
	}
	for _, n := range names {
		r.markSet(n)
	}
	r.logger.Debug("unlock state restored", "count", len(names))
	return err
}

// IsUnlocked reports whether name is in the confirmed unlocked set.
func (r *Reconciler) IsUnlocked(name string) bool {
	r.setMu.RLock()
	defer r.setMu.RUnlock()
	_, ok := r.unlocked[name]
	return ok
}

func (r *Reconciler) markSet(name string) {
	r.setMu.Lock()
	r.unlocked[name] = struct{}{}
	r.setMu.Unlock()
}

// Unlocked returns the confirmed unlocked quiz names, sorted.
func (r *Reconciler) Unlocked() []string {
	r.setMu.RLock()
	defer r.setMu.RUnlock()
	names := make([]string, 0, len(r.unlocked))
	for n := range r.unlocked {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Process evaluates the full catalog against one location sample.
func (r *Reconciler) Process(ctx context.Context, sample geo.Coordinate) PassResult {
	r.passMu.Lock()
	defer r.passMu.Unlock()

	var res PassResult

	entries, err := r.catalog.SecretQuizzes(ctx)
	if err != nil {
		res.Err = fmt.Errorf("%w: %w", secretquiz.ErrCatalogUnavailable, err)
		r.logger.Warn("catalog fetch failed, skipping pass", "error", err)
		return res
	}

	premium, err := r.premium.IsPremium(ctx, r.userID)
	if err != nil {
		// Fail open: location checks still run.
		r.logger.Warn("premium check failed, running location checks", "error", err)
		premium = false
	}
	res.Premium = premium
	res.States = make(map[string]State, len(entries))

	for _, q := range entries {
		if err := q.Validate(); err != nil {
			r.logger.Warn("skipping catalog entry", "quiz", q.Name, "error", err)
			res.Skipped = append(res.Skipped, q.Name)
			continue
		}

		st := r.evaluate(ctx, q, sample, premium, &res)
		res.States[q.Name] = st
	}
	return res
}

func (r *Reconciler) evaluate(ctx context.Context, q secretquiz.Quiz, sample geo.Coordinate, premium bool, res *PassResult) State {
	if r.IsUnlocked(q.Name) {
		return Unlocked
	}

	// CheckingPremium: premium and open entries skip the proximity check.
	var source secretquiz.Source
	switch {
	case premium:
		source = secretquiz.SourcePremium
	case !q.RequiresLocationCheck:
		source = secretquiz.SourceOpen
	default:
		// CheckingProximity
		if !geo.WithinRadius(sample, q.Target, float64(q.RadiusMeters)) {
			return Locked
		}
		source = secretquiz.SourceProximity
	}

	return r.unlock(ctx, q.Name, source, res)
}

// unlock takes an entry from Unlocking to Unlocked, or back to Locked when the
// remote round-trip fails so the next sample retries it.
func (r *Reconciler) unlock(ctx context.Context, name string, source secretquiz.Source, res *PassResult) State {
	if r.state.IsUnlockedLocal(ctx, r.userID, name) {
		r.markSet(name)
		return Unlocked
	}

	already, err := r.state.IsUnlockedRemote(ctx, r.userID, name)
	if err != nil {
		r.logger.Warn("unlock confirmation failed, retrying next sample", "quiz", name, "error", err)
		res.Deferred = append(res.Deferred, name)
		return Locked
	}
	now := r.now()
	if already {
		r.state.Mirror(ctx, r.userID, name, now)
		r.markSet(name)
		return Unlocked
	}

	written, err := r.state.MarkUnlocked(ctx, r.userID, name, now)
	if err != nil {
		r.logger.Warn("unlock write failed, retrying next sample", "quiz", name, "error", err)
		res.Deferred = append(res.Deferred, name)
		return Locked
	}
	r.markSet(name)
	if !written {
		// Another session won the write and owns the notification.
		return Unlocked
	}

	r.logger.Info("secret quiz unlocked", "quiz", name, "source", source)
	res.Unlocked = append(res.Unlocked, name)
	r.sink.Notify(ctx, secretquiz.Event{
		ID:         uuid.NewString(),
		Type:       secretquiz.EventQuizUnlocked,
		UserID:     r.userID,
		QuizName:   name,
		Source:     source,
		UnlockedAt: now.UTC(),
	})
	return Unlocked
}
