package unlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/playperu/geounlock/internal/secretquiz"
)

// RemoteStore is the source of truth for unlock state, keyed by user.
type RemoteStore interface {
	IsUnlocked(ctx context.Context, userID, quizName string) (bool, error)
	// MarkUnlocked sets the flag and reports whether this call flipped it.
	MarkUnlocked(ctx context.Context, userID, quizName string, at time.Time) (bool, error)
	Unlocked(ctx context.Context, userID string) ([]secretquiz.Record, error)
}

// LocalCache is the read-optimized mirror of RemoteStore.
type LocalCache interface {
	Record(ctx context.Context, userID, quizName string) (secretquiz.Record, error)
	PutRecord(ctx context.Context, rec secretquiz.Record) error
	Records(ctx context.Context, userID string) ([]secretquiz.Record, error)
}

// StateStore reads and writes unlock state across the remote store and the
// local cache. Writes go to the remote first; the local cache is only updated
// after the remote write succeeded, so it never claims more than the remote.
type StateStore struct {
	remote RemoteStore
	local  LocalCache
	logger *slog.Logger
}

func NewStateStore(remote RemoteStore, local LocalCache, logger *slog.Logger) *StateStore {
	return &StateStore{remote: remote, local: local, logger: logger}
}

// IsUnlockedRemote returns an error wrapping secretquiz.ErrRemoteUnavailable
// when the remote store cannot answer.
func (s *StateStore) IsUnlockedRemote(ctx context.Context, userID, quizName string) (bool, error) {
	ok, err := s.remote.IsUnlocked(ctx, userID, quizName)
	if err != nil {
		return false, remoteErr("checking unlock", err)
	}
	return ok, nil
}

// IsUnlockedLocal never fails: a missing record or a cache error reads as locked.
func (s *StateStore) IsUnlockedLocal(ctx context.Context, userID, quizName string) bool {
	rec, err := s.local.Record(ctx, userID, quizName)
	if err != nil {
		if !errors.Is(err, secretquiz.ErrNotFound) {
			s.logger.Warn("reading local unlock cache", "user_id", userID, "quiz", quizName, "error", err)
		}
		return false
	}
	return rec.Unlocked
}

// MarkUnlocked writes the unlock to the remote store and then mirrors it
// locally. written is true only for the call that performed the remote write.
// A mirror failure is logged, not returned: the remote write already holds.
func (s *StateStore) MarkUnlocked(ctx context.Context, userID, quizName string, at time.Time) (written bool, err error) {
	written, err = s.remote.MarkUnlocked(ctx, userID, quizName, at)
	if err != nil {
		return false, remoteErr("marking unlock", err)
	}
	s.mirror(ctx, secretquiz.Record{QuizName: quizName, UserID: userID, Unlocked: true, UnlockedAt: at})
	return written, nil
}

// Mirror copies an unlock that is already confirmed remotely into the local cache.
func (s *StateStore) Mirror(ctx context.Context, userID, quizName string, at time.Time) {
	s.mirror(ctx, secretquiz.Record{QuizName: quizName, UserID: userID, Unlocked: true, UnlockedAt: at})
}

// Restore loads every remote unlock for userID and mirrors it locally.
func (s *StateStore) Restore(ctx context.Context, userID string) ([]string, error) {
	recs, err := s.remote.Unlocked(ctx, userID)
	if err != nil {
		return nil, remoteErr("loading unlocks", err)
	}
	names := make([]string, 0, len(recs))
	for _, rec := range recs {
		if !rec.Unlocked {
			continue
		}
		s.mirror(ctx, rec)
		names = append(names, rec.QuizName)
	}
	return names, nil
}

// LocalUnlocked returns the quiz names the local cache holds as unlocked.
func (s *StateStore) LocalUnlocked(ctx context.Context, userID string) []string {
	recs, err := s.local.Records(ctx, userID)
	if err != nil {
		s.logger.Warn("listing local unlock cache", "user_id", userID, "error", err)
		return nil
	}
	var names []string
	for _, rec := range recs {
		if rec.Unlocked {
			names = append(names, rec.QuizName)
		}
	}
	return names
}

func (s *StateStore) mirror(ctx context.Context, rec secretquiz.Record) {
	if err := s.local.PutRecord(ctx, rec); err != nil {
		s.logger.Warn("mirroring unlock to local cache",
			"user_id", rec.UserID, "quiz", rec.QuizName, "error", err)
	}
}

func remoteErr(op string, err error) error {
	if errors.Is(err, secretquiz.ErrRemoteUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, secretquiz.ErrRemoteUnavailable, err)
}
