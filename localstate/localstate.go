// Package localstate persists the per-device session state: the claimed
// identity and a cache of the last known post list.
package localstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"crisisfeed/database"
	"crisisfeed/models"
)

const (
	IdentityKey = "x_feed_user"
	PostsKey    = "x_feed_posts"
)

// Store is a thin JSON layer over the database key/value table.
type Store struct {
	db *database.DB
}

func New(db *database.DB) *Store {
	return &Store{db: db}
}

// Identity returns the stored identity. ok is false when nothing was stored.
// A corrupt blob is reported as an error so the caller can fall back.
func (s *Store) Identity(ctx context.Context) (id models.Identity, ok bool, err error) {
	ok, err = s.load(ctx, IdentityKey, &id)
	if ok {
		id.Role = id.Role.Normalize()
	}
	return id, ok, err
}

func (s *Store) SaveIdentity(ctx context.Context, id models.Identity) error {
	return s.save(ctx, IdentityKey, id)
}

func (s *Store) ClearIdentity(ctx context.Context) error {
	return s.db.DeleteValue(ctx, IdentityKey)
}

// Posts returns the cached post list in stored order.
func (s *Store) Posts(ctx context.Context) ([]models.Post, bool, error) {
	var posts []models.Post
	ok, err := s.load(ctx, PostsKey, &posts)
	return posts, ok, err
}

func (s *Store) SavePosts(ctx context.Context, posts []models.Post) error {
	if posts == nil {
		posts = []models.Post{}
	}
	return s.save(ctx, PostsKey, posts)
}

func (s *Store) load(ctx context.Context, key string, v any) (bool, error) {
	raw, err := s.db.GetValue(ctx, key)
	if errors.Is(err, database.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("decoding %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) save(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return s.db.SetValue(ctx, key, string(b))
}
