// Package identity derives the session's self-declared identity from a role
// selector and keeps it in local persistence.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"crisisfeed/models"
	"crisisfeed/utils"

	"go.uber.org/zap"
)

var ErrNoPendingChange = errors.New("no identity change in progress")

// Persister stores a single identity blob. localstate.Store satisfies it.
type Persister interface {
	Identity(ctx context.Context) (models.Identity, bool, error)
	SaveIdentity(ctx context.Context, id models.Identity) error
	ClearIdentity(ctx context.Context) error
}

type Resolver struct {
	store Persister
	log   *zap.Logger

	mu       sync.RWMutex
	current  *models.Identity
	previous *models.Identity
}

// NewResolver returns a resolver with no current identity. A nil store keeps
// everything in memory.
func NewResolver(store Persister, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{store: store, log: log}
}

// Resolve maps the selector to a role and merges it with any stored
// identity. The selector always wins for the role; a stored nickname is
// kept. The merged identity is written back and becomes current.
func (r *Resolver) Resolve(ctx context.Context, selector string) (models.Identity, error) {
	param, known := models.LookupRoleParam(selector)
	if !known && selector != "" {
		r.log.Debug("unknown_role_selector", zap.String("selector", selector))
	}

	id := models.Identity{Nickname: param.DefaultNickname, Role: param.Role}
	if r.store != nil {
		stored, ok, err := r.store.Identity(ctx)
		if err != nil {
			r.log.Warn("stored_identity_unreadable", zap.Error(err))
		} else if ok && stored.Nickname != "" {
			id.Nickname = stored.Nickname
		}
	}

	if err := r.persist(ctx, id); err != nil {
		return models.Identity{}, err
	}

	r.mu.Lock()
	r.current = &id
	r.previous = nil
	r.mu.Unlock()
	r.log.Info("identity_resolved", zap.String("nickname", id.Nickname), zap.String("role", string(id.Role)))
	return id, nil
}

// Current returns the active identity. ok is false while none is set, for
// example in the middle of an identity change.
func (r *Resolver) Current() (models.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == nil {
		return models.Identity{}, false
	}
	return *r.current, true
}

// ChangeIdentity validates and installs a new identity.
func (r *Resolver) ChangeIdentity(ctx context.Context, nickname string, role models.RoleTag) (models.Identity, error) {
	nick, err := utils.NormalizeNickname(nickname)
	if err != nil {
		return models.Identity{}, fmt.Errorf("nickname: %w", err)
	}
	id := models.Identity{Nickname: nick, Role: role.Normalize()}
	if err := r.persist(ctx, id); err != nil {
		return models.Identity{}, err
	}

	r.mu.Lock()
	r.current = &id
	r.previous = nil
	r.mu.Unlock()
	r.log.Info("identity_changed", zap.String("nickname", id.Nickname), zap.String("role", string(id.Role)))
	return id, nil
}

// BeginIdentityChange drops the current identity and remembers it so
// CancelIdentityChange can put it back.
func (r *Resolver) BeginIdentityChange(ctx context.Context) error {
	if r.store != nil {
		if err := r.store.ClearIdentity(ctx); err != nil {
			return fmt.Errorf("clearing identity: %w", err)
		}
	}
	r.mu.Lock()
	if r.current != nil {
		r.previous = r.current
	}
	r.current = nil
	r.mu.Unlock()
	return nil
}

// CancelIdentityChange restores the identity that was active before
// BeginIdentityChange.
func (r *Resolver) CancelIdentityChange(ctx context.Context) (models.Identity, error) {
	r.mu.RLock()
	prev := r.previous
	r.mu.RUnlock()
	if prev == nil {
		return models.Identity{}, ErrNoPendingChange
	}

	id := *prev
	if err := r.persist(ctx, id); err != nil {
		return models.Identity{}, err
	}
	r.mu.Lock()
	r.current = &id
	r.previous = nil
	r.mu.Unlock()
	return id, nil
}

func (r *Resolver) persist(ctx context.Context, id models.Identity) error {
	if r.store == nil {
		return nil
	}
	if err := r.store.SaveIdentity(ctx, id); err != nil {
		return fmt.Errorf("saving identity: %w", err)
	}
	return nil
}
