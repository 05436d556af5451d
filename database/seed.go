package database

import (
	"context"
	"time"

	"crisisfeed/models"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

const welcomeContent = "Welcome to the application! This is an automatically generated first post."

// SeedIfEmpty inserts a welcome post when the posts table has no rows.
func (db *DB) SeedIfEmpty(ctx context.Context) error {
	n, err := db.CountPosts(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	id, err := uuid.NewV4()
	if err != nil {
		return err
	}
	_, err = db.InsertPost(ctx, models.Post{
		ID:         id.String(),
		Author:     "System",
		AuthorRole: models.RoleGovernment,
		Content:    welcomeContent,
		CreatedAt:  time.Now(),
		Likes:      models.Likes{},
		Comments:   []models.Comment{},
	})
	if err != nil {
		return err
	}
	db.log.Info("seeded_welcome_post", zap.String("post_id", id.String()))
	return nil
}
