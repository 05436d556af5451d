package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"crisisfeed/models"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

var (
	ErrPostNotFound = errors.New("post not found")
	ErrDuplicateID  = errors.New("post id already exists")
)

// Timestamps are stored as fixed-width UTC strings so that ORDER BY on the
// text column matches chronological order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

const postColumns = "id, author, author_role, content, timestamp, likes, comments"

type scanner interface {
	Scan(dest ...any) error
}

func scanPost(row scanner) (models.Post, error) {
	var (
		p            models.Post
		role, ts     string
		likes, comms string
	)
	if err := row.Scan(&p.ID, &p.Author, &role, &p.Content, &ts, &likes, &comms); err != nil {
		return models.Post{}, err
	}
	p.AuthorRole, _ = models.ParseRole(role)

	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return models.Post{}, fmt.Errorf("post %s: bad timestamp %q: %w", p.ID, ts, err)
	}
	p.CreatedAt = t

	if err := json.Unmarshal([]byte(likes), &p.Likes); err != nil {
		return models.Post{}, fmt.Errorf("post %s: bad likes: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(comms), &p.Comments); err != nil {
		return models.Post{}, fmt.Errorf("post %s: bad comments: %w", p.ID, err)
	}
	if p.Likes == nil {
		p.Likes = models.Likes{}
	}
	if p.Comments == nil {
		p.Comments = []models.Comment{}
	}
	return p, nil
}

// ListPosts returns every post, newest first.
func (db *DB) ListPosts(ctx context.Context) ([]models.Post, error) {
	rows, err := db.QueryContext(ctx, "SELECT "+postColumns+" FROM posts ORDER BY timestamp DESC")
	if err != nil {
		db.log.Error("query_posts_failed", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	posts := []models.Post{}
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			db.log.Warn("scan_post_failed", zap.Error(err))
			continue
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func (db *DB) GetPost(ctx context.Context, id string) (models.Post, error) {
	p, err := scanPost(db.QueryRowContext(ctx, "SELECT "+postColumns+" FROM posts WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Post{}, ErrPostNotFound
	}
	return p, err
}

// InsertPost stores p and returns the row as read back.
func (db *DB) InsertPost(ctx context.Context, p models.Post) (models.Post, error) {
	likes, err := json.Marshal(p.Likes)
	if err != nil {
		return models.Post{}, err
	}
	comments := p.Comments
	if comments == nil {
		comments = []models.Comment{}
	}
	comms, err := json.Marshal(comments)
	if err != nil {
		return models.Post{}, err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO posts (`+postColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Author, string(p.AuthorRole.Normalize()), p.Content, formatTime(p.CreatedAt), string(likes), string(comms))
	if err != nil {
		if isConstraint(err) {
			return models.Post{}, ErrDuplicateID
		}
		db.log.Error("insert_post_failed", zap.String("post_id", p.ID), zap.Error(err))
		return models.Post{}, err
	}
	return db.GetPost(ctx, p.ID)
}

// UpdateLikes replaces the like set and returns the updated row.
func (db *DB) UpdateLikes(ctx context.Context, id string, likes models.Likes) (models.Post, error) {
	b, err := json.Marshal(likes)
	if err != nil {
		return models.Post{}, err
	}
	return db.updateColumn(ctx, id, "likes", string(b))
}

// UpdateComments replaces the comment list and returns the updated row.
func (db *DB) UpdateComments(ctx context.Context, id string, comments []models.Comment) (models.Post, error) {
	if comments == nil {
		comments = []models.Comment{}
	}
	b, err := json.Marshal(comments)
	if err != nil {
		return models.Post{}, err
	}
	return db.updateColumn(ctx, id, "comments", string(b))
}

func (db *DB) updateColumn(ctx context.Context, id, column, value string) (models.Post, error) {
	res, err := db.ExecContext(ctx, "UPDATE posts SET "+column+" = ? WHERE id = ?", value, id)
	if err != nil {
		db.log.Error("update_post_failed", zap.String("post_id", id), zap.String("column", column), zap.Error(err))
		return models.Post{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.Post{}, ErrPostNotFound
	}
	return db.GetPost(ctx, id)
}

func (db *DB) DeletePost(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, "DELETE FROM posts WHERE id = ?", id)
	if err != nil {
		db.log.Error("delete_post_failed", zap.String("post_id", id), zap.Error(err))
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPostNotFound
	}
	return nil
}

func (db *DB) CountPosts(ctx context.Context) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM posts").Scan(&n)
	return n, err
}

func isConstraint(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}
