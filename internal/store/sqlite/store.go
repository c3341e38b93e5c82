// Package sqlite holds the device-side unlock cache and the secret quiz
// catalog in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/playperu/geounlock/internal/secretquiz"
)

// Store implements the local unlock cache and the catalog over one database.
// The schema comes from internal/migrations.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// Record returns the cached unlock record or secretquiz.ErrNotFound.
func (s *Store) Record(ctx context.Context, userID, quizName string) (secretquiz.Record, error) {
	rec := secretquiz.Record{UserID: userID, QuizName: quizName}
	var unlocked int
	var at int64
	err := s.db.QueryRowContext(ctx, `
		SELECT unlocked, unlocked_at FROM unlock_records
		WHERE user_id = ? AND quiz_name = ?
	`, userID, quizName).Scan(&unlocked, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, secretquiz.ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	rec.Unlocked = unlocked == 1
	rec.UnlockedAt = fromMillis(at)
	return rec, nil
}

// PutRecord upserts rec. An unlocked row is never downgraded and keeps its
// first unlock time.
func (s *Store) PutRecord(ctx context.Context, rec secretquiz.Record) error {
	unlocked := 0
	if rec.Unlocked {
		unlocked = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO unlock_records (user_id, quiz_name, unlocked, unlocked_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, quiz_name) DO UPDATE SET
			unlocked_at = CASE WHEN unlock_records.unlocked = 1 THEN unlock_records.unlocked_at ELSE excluded.unlocked_at END,
			unlocked    = MAX(unlock_records.unlocked, excluded.unlocked)
	`, rec.UserID, rec.QuizName, unlocked, toMillis(rec.UnlockedAt))
	return err
}

// Records lists the cached records for userID, ordered by quiz name.
func (s *Store) Records(ctx context.Context, userID string) ([]secretquiz.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT quiz_name, unlocked, unlocked_at FROM unlock_records
		WHERE user_id = ?
		ORDER BY quiz_name
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recs := []secretquiz.Record{}
	for rows.Next() {
		rec := secretquiz.Record{UserID: userID}
		var unlocked int
		var at int64
		if err := rows.Scan(&rec.QuizName, &unlocked, &at); err != nil {
			return nil, err
		}
		rec.Unlocked = unlocked == 1
		rec.UnlockedAt = fromMillis(at)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// SecretQuizzes returns the catalog ordered by name. A row whose document
// cannot be decoded comes back with only its name set, so it fails
// validation downstream instead of hiding the rest of the catalog.
func (s *Store) SecretQuizzes(ctx context.Context) ([]secretquiz.Quiz, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, json(data) FROM secret_quizzes ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	quizzes := []secretquiz.Quiz{}
	for rows.Next() {
		var name, data string
		if err := rows.Scan(&name, &data); err != nil {
			return nil, err
		}
		var q secretquiz.Quiz
		if err := json.Unmarshal([]byte(data), &q); err != nil {
			q = secretquiz.Quiz{}
		}
		q.Name = name
		quizzes = append(quizzes, q)
	}
	return quizzes, rows.Err()
}

func (s *Store) SecretQuiz(ctx context.Context, name string) (secretquiz.Quiz, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT json(data) FROM secret_quizzes WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return secretquiz.Quiz{}, secretquiz.ErrNotFound
	}
	if err != nil {
		return secretquiz.Quiz{}, err
	}
	var q secretquiz.Quiz
	if err := json.Unmarshal([]byte(data), &q); err != nil {
		return secretquiz.Quiz{}, fmt.Errorf("%w: decoding %q: %v", secretquiz.ErrMalformedEntry, name, err)
	}
	q.Name = name
	return q, nil
}

// PutSecretQuiz validates and upserts q.
func (s *Store) PutSecretQuiz(ctx context.Context, q secretquiz.Quiz) error {
	if err := q.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(q)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO secret_quizzes (name, data, updated_at) VALUES (?, jsonb(?), ?)
		ON CONFLICT(name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, q.Name, string(data), time.Now().UTC().UnixMilli())
	return err
}

func (s *Store) DeleteSecretQuiz(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM secret_quizzes WHERE name = ?`, name)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return secretquiz.ErrNotFound
	}
	return nil
}

// SeedCatalog inserts quizzes if the catalog is empty. It reports whether it
// seeded anything.
func (s *Store) SeedCatalog(ctx context.Context, quizzes []secretquiz.Quiz) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM secret_quizzes`).Scan(&count); err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}
	for _, q := range quizzes {
		if err := s.PutSecretQuiz(ctx, q); err != nil {
			return false, fmt.Errorf("seeding %q: %w", q.Name, err)
		}
	}
	return true, nil
}

// Check pings the database for health reporting.
func (s *Store) Check(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
