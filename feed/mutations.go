package feed

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"crisisfeed/gateway"
	"crisisfeed/models"
	"crisisfeed/utils"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// Mutations runs the five feed edits. Each one checks its preconditions,
// applies the change to the store, then commits the full new state to the
// gateway and restores the captured post if that commit fails. Edits on
// the same post id run one at a time.
type Mutations struct {
	store *Store
	gw    gateway.Gateway
	log   *zap.Logger
	locks *keyLock

	now   func() time.Time
	newID func() (uuid.UUID, error)
}

func NewMutations(store *Store, gw gateway.Gateway, log *zap.Logger) *Mutations {
	if log == nil {
		log = zap.NewNop()
	}
	return &Mutations{
		store: store,
		gw:    gw,
		log:   log,
		locks: newKeyLock(),
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewV4,
	}
}

func requireIdentity(who models.Identity) error {
	if who.Nickname == "" {
		return ErrUnauthenticated
	}
	return nil
}

func normalizeContent(content string) (string, error) {
	c, err := utils.NormalizeContent(content)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidContent, err)
	}
	return c, nil
}

func (m *Mutations) id() (string, error) {
	u, err := m.newID()
	if err != nil {
		return "", fmt.Errorf("generating id: %w", err)
	}
	return u.String(), nil
}

// CreatePost shows the new post first right away and inserts it remotely.
// The push echo of the insert is absorbed by the store.
func (m *Mutations) CreatePost(ctx context.Context, who models.Identity, content string) (models.Post, error) {
	if err := requireIdentity(who); err != nil {
		return models.Post{}, err
	}
	content, err := normalizeContent(content)
	if err != nil {
		return models.Post{}, err
	}
	id, err := m.id()
	if err != nil {
		return models.Post{}, err
	}

	unlock := m.locks.Lock(id)
	defer unlock()

	post := models.Post{
		ID:         id,
		Author:     who.Nickname,
		AuthorRole: who.Role.Normalize(),
		Content:    content,
		CreatedAt:  m.now(),
		Likes:      models.Likes{},
		Comments:   []models.Comment{},
	}
	m.store.place(post)

	row, err := m.gw.Insert(ctx, post)
	if err != nil {
		m.store.remove(id)
		m.rolledBack("create_post", id, err)
		return models.Post{}, remoteFailure("create post", err)
	}
	if row.ID == id {
		m.store.replace(row)
		post = row
	}
	return post.Clone(), nil
}

// HasLiked reports whether who already likes p. A bare-nickname key only
// counts when who appears on the post under the same role.
func HasLiked(p models.Post, who models.Identity) bool {
	if p.Likes.Contains(who.LikerKey()) {
		return true
	}
	return p.Likes.Contains(models.LegacyKey(who.Nickname)) && p.HasParticipant(who.Nickname, who.Role)
}

// toggleLike returns p with who's like flipped. Unliking drops the
// composite key and any legacy key that counted for who.
func toggleLike(p models.Post, who models.Identity) models.Post {
	next := p.Clone()
	if HasLiked(p, who) {
		drop := []models.LikerKey{who.LikerKey()}
		if p.HasParticipant(who.Nickname, who.Role) {
			drop = append(drop, models.LegacyKey(who.Nickname))
		}
		next.Likes = p.Likes.Without(drop...)
	} else {
		next.Likes = p.Likes.With(who.LikerKey())
	}
	return next
}

func (m *Mutations) ToggleLike(ctx context.Context, who models.Identity, postID string) (models.Post, error) {
	if err := requireIdentity(who); err != nil {
		return models.Post{}, err
	}
	unlock := m.locks.Lock(postID)
	defer unlock()

	before, ok := m.store.Post(postID)
	if !ok {
		return models.Post{}, ErrNotFound
	}
	next := toggleLike(before, who)
	m.store.replace(next)

	if err := m.gw.UpdateLikes(ctx, postID, next.Likes); err != nil {
		m.store.replace(before)
		m.rolledBack("toggle_like", postID, err)
		return models.Post{}, remoteFailure("toggle like", err)
	}
	return next, nil
}

// AddComment appends a comment and writes the whole list back.
func (m *Mutations) AddComment(ctx context.Context, who models.Identity, postID, content string) (models.Comment, error) {
	if err := requireIdentity(who); err != nil {
		return models.Comment{}, err
	}
	content, err := normalizeContent(content)
	if err != nil {
		return models.Comment{}, err
	}
	id, err := m.id()
	if err != nil {
		return models.Comment{}, err
	}

	unlock := m.locks.Lock(postID)
	defer unlock()

	before, ok := m.store.Post(postID)
	if !ok {
		return models.Comment{}, ErrNotFound
	}
	c := models.Comment{
		ID:         id,
		Author:     who.Nickname,
		AuthorRole: who.Role.Normalize(),
		Content:    content,
		CreatedAt:  m.now(),
	}
	next := before.Clone()
	next.Comments = append(next.Comments, c)
	m.store.replace(next)

	if err := m.gw.UpdateComments(ctx, postID, next.Comments); err != nil {
		m.store.replace(before)
		m.rolledBack("add_comment", postID, err)
		return models.Comment{}, remoteFailure("add comment", err)
	}
	return c, nil
}

// DeletePost removes a post the caller's role authored. A row that is
// already gone remotely counts as deleted.
func (m *Mutations) DeletePost(ctx context.Context, who models.Identity, postID string) error {
	if err := requireIdentity(who); err != nil {
		return err
	}
	unlock := m.locks.Lock(postID)
	defer unlock()

	before, ok := m.store.Post(postID)
	if !ok {
		return ErrNotFound
	}
	if before.AuthorRole != who.Role.Normalize() {
		return ErrUnauthorized
	}
	_, at, ok := m.store.remove(postID)
	if !ok {
		return ErrNotFound
	}

	err := m.gw.DeleteRow(ctx, postID)
	if errors.Is(err, gateway.ErrNotFound) {
		m.log.Debug("delete_post_already_gone", zap.String("post_id", postID))
		return nil
	}
	if err != nil {
		m.store.reinsert(before, at)
		m.rolledBack("delete_post", postID, err)
		return remoteFailure("delete post", err)
	}
	return nil
}

// DeleteComment removes a comment the caller's role authored and writes the
// remaining list back.
func (m *Mutations) DeleteComment(ctx context.Context, who models.Identity, postID, commentID string) error {
	if err := requireIdentity(who); err != nil {
		return err
	}
	unlock := m.locks.Lock(postID)
	defer unlock()

	before, ok := m.store.Post(postID)
	if !ok {
		return ErrNotFound
	}
	i := before.CommentIndex(commentID)
	if i < 0 {
		return ErrNotFound
	}
	if before.Comments[i].AuthorRole != who.Role.Normalize() {
		return ErrUnauthorized
	}
	next := before.Clone()
	next.Comments = slices.Delete(next.Comments, i, i+1)
	m.store.replace(next)

	if err := m.gw.UpdateComments(ctx, postID, next.Comments); err != nil {
		m.store.replace(before)
		m.rolledBack("delete_comment", postID, err)
		return remoteFailure("delete comment", err)
	}
	return nil
}

func (m *Mutations) rolledBack(op, postID string, err error) {
	m.log.Warn("mutation_rolled_back",
		zap.String("op", op),
		zap.String("post_id", postID),
		zap.Error(err))
}
