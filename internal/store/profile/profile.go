// Package profile stores user profiles and unlock flags in Redis. It is the
// source of truth for unlock state.
//
// Layout, with prefix "secretquiz":
//
//	secretquiz:user:<id>           hash  premium, lastUnlockedAt
//	secretquiz:user:<id>:unlocked  hash  <quiz name> -> unlocked at (epoch ms)
//
// No operation ever deletes a field of the unlocked hash.
package profile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/playperu/geounlock/internal/secretquiz"
)

const (
	fieldPremium        = "premium"
	fieldLastUnlockedAt = "lastUnlockedAt"
)

// markUnlockedScript sets the unlock flag only if absent and bumps
// lastUnlockedAt in the same step. Returns 1 if this call set the flag.
var markUnlockedScript = redis.NewScript(`
local set = redis.call("HSETNX", KEYS[1], ARGV[1], ARGV[2])
if set == 1 then
  redis.call("HSET", KEYS[2], "lastUnlockedAt", ARGV[2])
end
return set
`)

// Store implements the remote profile store over a Redis client.
type Store struct {
	client redis.UniversalClient
	prefix string
}

func NewStore(client redis.UniversalClient, prefix string) *Store {
	p := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if p == "" {
		p = "secretquiz"
	}
	return &Store{client: client, prefix: p}
}

func (s *Store) profileKey(userID string) string {
	return fmt.Sprintf("%s:user:%s", s.prefix, userID)
}

func (s *Store) unlockedKey(userID string) string {
	return s.profileKey(userID) + ":unlocked"
}

// IsUnlocked reports whether quizName is flagged for userID.
func (s *Store) IsUnlocked(ctx context.Context, userID, quizName string) (bool, error) {
	ok, err := s.client.HExists(ctx, s.unlockedKey(userID), quizName).Result()
	if err != nil {
		return false, unavailable(err)
	}
	return ok, nil
}

// MarkUnlocked flags quizName for userID. It reports whether this call set the
// flag; a repeated call is a no-op and returns false.
func (s *Store) MarkUnlocked(ctx context.Context, userID, quizName string, at time.Time) (bool, error) {
	keys := []string{s.unlockedKey(userID), s.profileKey(userID)}
	n, err := markUnlockedScript.Run(ctx, s.client, keys, quizName, at.UTC().UnixMilli()).Int()
	if err != nil {
		return false, unavailable(err)
	}
	return n == 1, nil
}

// Unlocked lists every quiz flagged for userID, sorted by name.
func (s *Store) Unlocked(ctx context.Context, userID string) ([]secretquiz.Record, error) {
	fields, err := s.client.HGetAll(ctx, s.unlockedKey(userID)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	recs := make([]secretquiz.Record, 0, len(fields))
	for name, raw := range fields {
		recs = append(recs, secretquiz.Record{
			QuizName:   name,
			UserID:     userID,
			Unlocked:   true,
			UnlockedAt: parseMillis(raw),
		})
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].QuizName < recs[j].QuizName })
	return recs, nil
}

// IsPremium reads the premium flag. A missing profile is not premium.
func (s *Store) IsPremium(ctx context.Context, userID string) (bool, error) {
	v, err := s.client.HGet(ctx, s.profileKey(userID), fieldPremium).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, unavailable(err)
	}
	return v == "1", nil
}

func (s *Store) SetPremium(ctx context.Context, userID string, premium bool) error {
	v := "0"
	if premium {
		v = "1"
	}
	if err := s.client.HSet(ctx, s.profileKey(userID), fieldPremium, v).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// LastUnlockedAt returns the time of the user's most recent unlock write.
func (s *Store) LastUnlockedAt(ctx context.Context, userID string) (time.Time, error) {
	v, err := s.client.HGet(ctx, s.profileKey(userID), fieldLastUnlockedAt).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, secretquiz.ErrNotFound
	}
	if err != nil {
		return time.Time{}, unavailable(err)
	}
	return parseMillis(v), nil
}

// Check pings Redis for health reporting.
func (s *Store) Check(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func parseMillis(raw string) time.Time {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", secretquiz.ErrRemoteUnavailable, err)
}
