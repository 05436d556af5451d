package gateway

import (
	"context"
	"errors"
	"sync"

	"crisisfeed/database"
	"crisisfeed/models"
	"crisisfeed/realtime"

	"go.uber.org/zap"
)

// Local serves the gateway contract from a SQLite database in the same
// process and announces every committed change on a realtime hub. The
// backend's HTTP handlers sit on top of it too.
type Local struct {
	db  *database.DB
	hub *realtime.Hub
	log *zap.Logger

	// mu is held from each write until its event is queued, so events leave
	// in commit order.
	mu sync.Mutex
}

func NewLocal(db *database.DB, hub *realtime.Hub, log *zap.Logger) *Local {
	if log == nil {
		log = zap.NewNop()
	}
	return &Local{db: db, hub: hub, log: log}
}

func (l *Local) FetchAll(ctx context.Context) ([]models.Post, error) {
	return l.db.ListPosts(ctx)
}

func (l *Local) Get(ctx context.Context, postID string) (models.Post, error) {
	p, err := l.db.GetPost(ctx, postID)
	return p, mapDBError(err)
}

func (l *Local) Insert(ctx context.Context, p models.Post) (models.Post, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, err := l.db.InsertPost(ctx, p)
	if err != nil {
		return models.Post{}, mapDBError(err)
	}
	l.publish(realtime.InsertEvent(row))
	return row, nil
}

func (l *Local) UpdateLikes(ctx context.Context, postID string, likes models.Likes) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, err := l.db.UpdateLikes(ctx, postID, likes)
	if err != nil {
		return mapDBError(err)
	}
	l.publish(realtime.UpdateEvent(row))
	return nil
}

func (l *Local) UpdateComments(ctx context.Context, postID string, comments []models.Comment) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, err := l.db.UpdateComments(ctx, postID, comments)
	if err != nil {
		return mapDBError(err)
	}
	l.publish(realtime.UpdateEvent(row))
	return nil
}

func (l *Local) DeleteRow(ctx context.Context, postID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.db.DeletePost(ctx, postID); err != nil {
		return mapDBError(err)
	}
	l.publish(realtime.DeleteEvent(postID))
	return nil
}

func (l *Local) Subscribe(_ context.Context, h Handlers) (func(), error) {
	return l.hub.Subscribe(func(ev realtime.Event) { Dispatch(h, ev) }), nil
}

func (l *Local) publish(ev realtime.Event) {
	if !l.hub.Publish(ev) {
		l.log.Warn("change_not_published", zap.String("type", string(ev.Type)))
	}
}

func mapDBError(err error) error {
	switch {
	case errors.Is(err, database.ErrPostNotFound):
		return ErrNotFound
	case errors.Is(err, database.ErrDuplicateID):
		return ErrConflict
	}
	return err
}
