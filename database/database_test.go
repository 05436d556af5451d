package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"crisisfeed/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "feed.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func samplePost(id string, at time.Time) models.Post {
	return models.Post{
		ID:         id,
		Author:     "Anna",
		AuthorRole: models.RoleGovernment,
		Content:    "Flood warning issued",
		CreatedAt:  at,
		Likes:      models.Likes{},
		Comments:   []models.Comment{},
	}
}

func TestInsertAndList(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		_, err := db.InsertPost(ctx, samplePost(id, base.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
	}

	posts, err := db.ListPosts(ctx)
	require.NoError(t, err)
	require.Len(t, posts, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{posts[0].ID, posts[1].ID, posts[2].ID})
	assert.True(t, posts[2].CreatedAt.Equal(base))
	assert.Equal(t, models.RoleGovernment, posts[0].AuthorRole)
}

func TestInsertDuplicate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.InsertPost(ctx, samplePost("a", time.Now()))
	require.NoError(t, err)
	_, err = db.InsertPost(ctx, samplePost("a", time.Now()))
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestUpdateLikesAndComments(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_, err := db.InsertPost(ctx, samplePost("a", time.Now()))
	require.NoError(t, err)

	likes := models.Likes{models.LegacyKey("Bob"), models.CompositeKey(models.RoleTroll, "Internet Troll")}
	got, err := db.UpdateLikes(ctx, "a", likes)
	require.NoError(t, err)
	assert.Equal(t, likes, got.Likes)

	comments := []models.Comment{
		{ID: "c1", Author: "Bob", AuthorRole: models.RoleHealth, Content: "first", CreatedAt: time.Now().UTC()},
		{ID: "c2", Author: "Eve", AuthorRole: models.RoleTroll, Content: "second", CreatedAt: time.Now().UTC()},
	}
	got, err = db.UpdateComments(ctx, "a", comments)
	require.NoError(t, err)
	require.Len(t, got.Comments, 2)
	assert.Equal(t, "c1", got.Comments[0].ID)
	assert.Equal(t, "c2", got.Comments[1].ID)

	_, err = db.UpdateLikes(ctx, "missing", likes)
	assert.ErrorIs(t, err, ErrPostNotFound)
}

func TestDeletePost(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_, err := db.InsertPost(ctx, samplePost("a", time.Now()))
	require.NoError(t, err)

	require.NoError(t, db.DeletePost(ctx, "a"))
	assert.ErrorIs(t, db.DeletePost(ctx, "a"), ErrPostNotFound)
	_, err = db.GetPost(ctx, "a")
	assert.ErrorIs(t, err, ErrPostNotFound)
}

func TestSeedIfEmpty(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SeedIfEmpty(ctx))
	require.NoError(t, db.SeedIfEmpty(ctx))
	n, err := db.CountPosts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestKeyValue(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.GetValue(ctx, "x_feed_user")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, db.SetValue(ctx, "x_feed_user", `{"nickname":"Anna"}`))
	require.NoError(t, db.SetValue(ctx, "x_feed_user", `{"nickname":"Bob"}`))
	v, err := db.GetValue(ctx, "x_feed_user")
	require.NoError(t, err)
	assert.Equal(t, `{"nickname":"Bob"}`, v)

	require.NoError(t, db.DeleteValue(ctx, "x_feed_user"))
	require.NoError(t, db.DeleteValue(ctx, "x_feed_user"))
	_, err = db.GetValue(ctx, "x_feed_user")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}
