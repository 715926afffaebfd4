package api

import (
	"net/http"
	"strings"

	"ionex/internal/user"
)

// authedUser is the identity an authenticated handler receives, a thin
// projection of user.User so handlers never reach back into the
// registry themselves.
type authedUser struct {
	ID   string
	Name string
	Role user.Role
}

type authedHandlerFunc func(w http.ResponseWriter, r *http.Request, u *authedUser)

// bearerToken extracts the token from "Authorization: TOKEN <key>", the
// scheme spec.md §6 specifies for this API.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "TOKEN "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimPrefix(h, prefix)
}

// auth resolves the bearer token to a user and rejects the request
// with Unauthenticated otherwise.
func (h *Handler) auth(next authedHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := h.core.Authenticate(bearerToken(r))
		if err != nil {
			writeError(w, err)
			return
		}
		next(w, r, &authedUser{ID: u.ID, Name: u.Name, Role: u.Role})
	}
}

// admin additionally requires ADMIN role, rejecting with Forbidden.
func (h *Handler) admin(next authedHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := h.core.RequireAdmin(bearerToken(r))
		if err != nil {
			writeError(w, err)
			return
		}
		next(w, r, &authedUser{ID: u.ID, Name: u.Name, Role: u.Role})
	}
}
