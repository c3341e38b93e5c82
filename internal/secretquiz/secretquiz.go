// Package secretquiz defines the domain types for location-gated quizzes.
// It has no external dependencies beyond internal/geo.
package secretquiz

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/playperu/geounlock/internal/geo"
)

var (
	// ErrRemoteUnavailable marks a failed round-trip to the remote profile
	// store. The unlock state is unknown, not false.
	ErrRemoteUnavailable = errors.New("remote profile store unavailable")

	ErrCatalogUnavailable = errors.New("secret quiz catalog unavailable")
	ErrMalformedEntry     = errors.New("malformed secret quiz entry")
	ErrNotFound           = errors.New("not found")
)

// Quiz is one location-gated catalog entry. Name is the unique key.
type Quiz struct {
	Name                  string         `json:"name"`
	Target                geo.Coordinate `json:"target"`
	RadiusMeters          float32        `json:"radiusMeters"`
	RequiresLocationCheck bool           `json:"requiresLocationCheck"`
}

// Validate returns an error wrapping ErrMalformedEntry if q cannot be evaluated.
func (q Quiz) Validate() error {
	if strings.TrimSpace(q.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrMalformedEntry)
	}
	if !q.Target.Valid() {
		return fmt.Errorf("%w: %q has invalid target %v", ErrMalformedEntry, q.Name, q.Target)
	}
	r := float64(q.RadiusMeters)
	if math.IsNaN(r) || math.IsInf(r, 0) || r <= 0 {
		return fmt.Errorf("%w: %q has invalid radius %v", ErrMalformedEntry, q.Name, q.RadiusMeters)
	}
	return nil
}

// Record is the unlock state of one quiz for one user.
type Record struct {
	QuizName   string    `json:"quizName"`
	UserID     string    `json:"userId"`
	Unlocked   bool      `json:"unlocked"`
	UnlockedAt time.Time `json:"unlockedAt"`
}

// Source says why a quiz was unlocked.
type Source string

const (
	SourceProximity Source = "proximity"
	SourcePremium   Source = "premium"
	SourceOpen      Source = "open"
)

const EventQuizUnlocked = "quiz_unlocked"

// Event notifies the presentation layer that a quiz was unlocked.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	UserID     string    `json:"userId"`
	QuizName   string    `json:"quizName"`
	Source     Source    `json:"source"`
	UnlockedAt time.Time `json:"unlockedAt"`
}

// DemoCatalog is seeded into an empty catalog on first start.
func DemoCatalog() []Quiz {
	return []Quiz{
		{Name: "Kawah Putih", Target: geo.Coordinate{Lat: -7.1667, Lng: 107.3333}, RadiusMeters: 300, RequiresLocationCheck: true},
		{Name: "Tangkuban Perahu", Target: geo.Coordinate{Lat: -6.7596, Lng: 107.6098}, RadiusMeters: 500, RequiresLocationCheck: true},
		{Name: "Gedung Sate", Target: geo.Coordinate{Lat: -6.9025, Lng: 107.6188}, RadiusMeters: 150, RequiresLocationCheck: true},
		{Name: "Plaza de Armas", Target: geo.Coordinate{Lat: -12.0464, Lng: -77.0300}, RadiusMeters: 200, RequiresLocationCheck: true},
		{Name: "Welcome Trivia", Target: geo.Coordinate{Lat: 0, Lng: 0}, RadiusMeters: 1, RequiresLocationCheck: false},
	}
}
