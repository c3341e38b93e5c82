package server

import (
	"context"
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/swaggest/swgui/v5emb"

	"github.com/playperu/geounlock/internal/events"
	"github.com/playperu/geounlock/internal/secretquiz"
	"github.com/playperu/geounlock/internal/unlock"
)

// CatalogStore is the admin-editable secret quiz catalog.
type CatalogStore interface {
	SecretQuizzes(ctx context.Context) ([]secretquiz.Quiz, error)
	SecretQuiz(ctx context.Context, name string) (secretquiz.Quiz, error)
	PutSecretQuiz(ctx context.Context, q secretquiz.Quiz) error
	DeleteSecretQuiz(ctx context.Context, name string) error
}

// UnlockRecords reads the local unlock cache.
type UnlockRecords interface {
	Records(ctx context.Context, userID string) ([]secretquiz.Record, error)
}

// PremiumStore writes the premium flag on the remote profile.
type PremiumStore interface {
	SetPremium(ctx context.Context, userID string, premium bool) error
}

// AdminCredentials guard the /api/admin routes. An empty PasswordHash
// disables them.
type AdminCredentials struct {
	User         string
	PasswordHash string
}

type Deps struct {
	Sessions *unlock.Sessions
	Catalog  CatalogStore
	Unlocks  UnlockRecords
	Premium  PremiumStore
	Broker   *events.Broker
	Admin    AdminCredentials
}

func addRoutes(r chi.Router, logger *slog.Logger, deps Deps) {
	r.Get("/openapi.json", handleOpenAPI())
	r.Mount("/docs", v5emb.New("GeoUnlock API", "/openapi.json", "/docs"))
	r.Get("/ws/location", handleLocationWS(logger, deps.Sessions))

	r.Route("/api/users/{userID}", func(r chi.Router) {
		r.Use(userMiddleware)
		r.Post("/location", handlePostLocation(deps.Sessions))
		r.Delete("/monitor", handleStopMonitor(deps.Sessions))
		r.Get("/events", handleEvents(deps.Broker))
		r.Get("/unlocks", handleListUnlocks(deps.Unlocks))
		r.Get("/secret-quizzes", handleUserSecretQuizzes(deps.Catalog, deps.Unlocks, deps.Sessions))
	})

	if deps.Admin.PasswordHash == "" {
		logger.Warn("admin routes disabled, ADMIN_PASSWORD_HASH is empty")
		return
	}

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(adminAuthMiddleware(deps.Admin))

		r.Get("/secret-quizzes", handleAdminListQuizzes(deps.Catalog))
		r.Post("/secret-quizzes", handleAdminCreateQuiz(deps.Catalog))
		r.Get("/secret-quizzes/{name}", handleAdminGetQuiz(deps.Catalog))
		r.Put("/secret-quizzes/{name}", handleAdminUpdateQuiz(deps.Catalog))
		r.Delete("/secret-quizzes/{name}", handleAdminDeleteQuiz(deps.Catalog))

		r.With(userMiddleware).Put("/users/{userID}/premium", handleAdminSetPremium(deps.Premium))
	})
}
