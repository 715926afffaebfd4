// Package user tracks identities, API tokens, and roles (C7).
package user

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"ionex/internal/errs"
)

// Role distinguishes the admin surface from the regular user surface.
type Role int

const (
	RoleUser Role = iota
	RoleAdmin
)

func (r Role) String() string {
	if r == RoleAdmin {
		return "ADMIN"
	}
	return "USER"
}

// User is a registered identity.
type User struct {
	ID        string
	Name      string
	Token     string
	Role      Role
	CreatedAt time.Time
}

// Registry is the in-memory user store (C7).
type Registry struct {
	mu        sync.RWMutex
	byID      map[string]*User
	byToken   map[string]*User
	minNameLn int
}

// New returns an empty Registry. The first registered admin, if any,
// must be promoted by the caller (bootstrap, not part of this API).
func New() *Registry {
	return &Registry{
		byID:      make(map[string]*User),
		byToken:   make(map[string]*User),
		minNameLn: 3,
	}
}

// Register mints a fresh API token of the form "key-"<uuid> and stores
// a new USER-role identity.
func (r *Registry) Register(name string) (*User, error) {
	if len(name) < r.minNameLn {
		return nil, errs.New(errs.ValidationError, "name must be at least 3 characters")
	}

	u := &User{
		ID:        uuid.New().String(),
		Name:      name,
		Token:     "key-" + uuid.New().String(),
		Role:      RoleUser,
		CreatedAt: time.Now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[u.ID] = u
	r.byToken[u.Token] = u
	return u, nil
}

// RegisterAdmin is used by bootstrap to seed an administrator; it is
// not reachable from the public HTTP surface.
func (r *Registry) RegisterAdmin(name string) (*User, error) {
	u, err := r.Register(name)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	u.Role = RoleAdmin
	r.mu.Unlock()
	return u, nil
}

// LookupByToken resolves the bearer of an API token.
func (r *Registry) LookupByToken(token string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byToken[token]
	if !ok {
		return nil, errs.New(errs.Unauthenticated, "unknown token")
	}
	return u, nil
}

// LookupByID resolves a user by id.
func (r *Registry) LookupByID(id string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, errs.New(errs.NotFound, "user not found")
	}
	return u, nil
}

// Delete removes a user record. The caller (core.Core, admin-only) is
// responsible for cancelling resting orders and clearing balances
// before calling this.
func (r *Registry) Delete(id string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, errs.New(errs.NotFound, "user not found")
	}
	delete(r.byID, id)
	delete(r.byToken, u.Token)
	return u, nil
}
