// Package gateway defines the contract the feed core consumes from the
// remote store, with an in-process implementation backed by SQLite and an
// HTTP/websocket client for a running backend.
package gateway

import (
	"context"
	"errors"

	"crisisfeed/models"
	"crisisfeed/realtime"
)

var (
	ErrNotFound           = errors.New("row not found")
	ErrConflict           = errors.New("row already exists")
	ErrMissingCredentials = errors.New("gateway url or api key missing")
)

// Handlers receive whole-row change notifications. Nil fields are skipped.
// Delivery is asynchronous and at-least-once; nothing orders it against the
// caller's own requests.
type Handlers struct {
	OnInsert func(models.Post)
	OnUpdate func(models.Post)
	OnDelete func(id string)
}

type Gateway interface {
	FetchAll(ctx context.Context) ([]models.Post, error)
	// Insert stores a new row and returns it with any server-assigned
	// fields merged in.
	Insert(ctx context.Context, p models.Post) (models.Post, error)
	UpdateLikes(ctx context.Context, postID string, likes models.Likes) error
	// UpdateComments replaces the whole comment list; there is no append
	// primitive.
	UpdateComments(ctx context.Context, postID string, comments []models.Comment) error
	DeleteRow(ctx context.Context, postID string) error
	Subscribe(ctx context.Context, h Handlers) (unsubscribe func(), err error)
}

// Dispatch routes one change event to the matching handler.
func Dispatch(h Handlers, ev realtime.Event) {
	switch ev.Type {
	case realtime.EventInsert:
		if h.OnInsert != nil && ev.Record != nil {
			h.OnInsert(ev.Record.Clone())
		}
	case realtime.EventUpdate:
		if h.OnUpdate != nil && ev.Record != nil {
			h.OnUpdate(ev.Record.Clone())
		}
	case realtime.EventDelete:
		if h.OnDelete != nil && ev.OldRecord != nil {
			h.OnDelete(ev.OldRecord.ID)
		}
	}
}
