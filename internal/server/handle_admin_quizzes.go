package server

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/playperu/geounlock/internal/secretquiz"
)

type PremiumRequest struct {
	Premium bool `json:"premium"`
}

type PremiumResponse struct {
	UserID  string `json:"userId"`
	Premium bool   `json:"premium"`
}

// quizName returns the unescaped {name} path parameter.
func quizName(r *http.Request) (string, bool) {
	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil || strings.TrimSpace(name) == "" {
		return "", false
	}
	return name, true
}

func handleAdminListQuizzes(catalog CatalogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		quizzes, err := catalog.SecretQuizzes(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, quizzes)
	}
}

func handleAdminGetQuiz(catalog CatalogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, ok := quizName(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid quiz name")
			return
		}
		q, err := catalog.SecretQuiz(r.Context(), name)
		if errors.Is(err, secretquiz.ErrNotFound) {
			writeError(w, http.StatusNotFound, "secret quiz not found")
			return
		}
		if errors.Is(err, secretquiz.ErrMalformedEntry) {
			writeError(w, http.StatusUnprocessableEntity, "stored secret quiz is malformed")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, q)
	}
}

func handleAdminCreateQuiz(catalog CatalogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var q secretquiz.Quiz
		if err := readJSON(w, r, &q); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		q.Name = strings.TrimSpace(q.Name)
		if err := q.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		_, err := catalog.SecretQuiz(r.Context(), q.Name)
		if err == nil || errors.Is(err, secretquiz.ErrMalformedEntry) {
			writeError(w, http.StatusConflict, "secret quiz already exists")
			return
		}
		if !errors.Is(err, secretquiz.ErrNotFound) {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		if err := catalog.PutSecretQuiz(r.Context(), q); err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusCreated, q)
	}
}

// handleAdminUpdateQuiz replaces an existing entry. The name in the path wins;
// renaming is delete plus create.
func handleAdminUpdateQuiz(catalog CatalogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, ok := quizName(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid quiz name")
			return
		}

		var q secretquiz.Quiz
		if err := readJSON(w, r, &q); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if q.Name != "" && q.Name != name {
			writeError(w, http.StatusBadRequest, "name in body does not match path")
			return
		}
		q.Name = name
		if err := q.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		// A stored entry that no longer decodes may still be overwritten.
		_, err := catalog.SecretQuiz(r.Context(), name)
		switch {
		case errors.Is(err, secretquiz.ErrNotFound):
			writeError(w, http.StatusNotFound, "secret quiz not found")
			return
		case err != nil && !errors.Is(err, secretquiz.ErrMalformedEntry):
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		if err := catalog.PutSecretQuiz(r.Context(), q); err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, q)
	}
}

func handleAdminDeleteQuiz(catalog CatalogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, ok := quizName(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid quiz name")
			return
		}
		err := catalog.DeleteSecretQuiz(r.Context(), name)
		if errors.Is(err, secretquiz.ErrNotFound) {
			writeError(w, http.StatusNotFound, "secret quiz not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleAdminSetPremium flips the premium flag on the remote profile. Running
// monitors pick it up on their next pass.
func handleAdminSetPremium(premium PremiumStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := userFrom(r)

		var req PremiumRequest
		if err := readJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		err := premium.SetPremium(r.Context(), userID, req.Premium)
		if errors.Is(err, secretquiz.ErrRemoteUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "profile store unavailable")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, PremiumResponse{UserID: userID, Premium: req.Premium})
	}
}
