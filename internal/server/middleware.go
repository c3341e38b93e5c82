package server

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"unicode"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"
)

type ctxKey int

const ctxKeyUser ctxKey = iota

const maxUserIDLen = 128

// validUserID accepts opaque identifiers without whitespace or control characters.
func validUserID(id string) bool {
	if id == "" || len(id) > maxUserIDLen {
		return false
	}
	return !strings.ContainsFunc(id, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	})
}

func userMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		if !validUserID(userID) {
			writeError(w, http.StatusBadRequest, "invalid user id")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUser, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFrom(r *http.Request) string {
	return r.Context().Value(ctxKeyUser).(string)
}

// adminAuthMiddleware checks HTTP basic credentials against a bcrypt hash.
func adminAuthMiddleware(creds AdminCredentials) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok ||
				subtle.ConstantTimeCompare([]byte(user), []byte(creds.User)) != 1 ||
				bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(pass)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="admin", charset="UTF-8"`)
				writeError(w, http.StatusUnauthorized, "invalid credentials")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
