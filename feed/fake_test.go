package feed

import (
	"context"
	"errors"
	"sync"

	"crisisfeed/gateway"
	"crisisfeed/models"
)

var errBoom = errors.New("boom")

// fakeGateway is an in-memory remote store whose calls can be made to fail.
type fakeGateway struct {
	mu       sync.Mutex
	rows     map[string]models.Post
	fail     map[string]error
	fetchErr error
	echo     bool
	handlers gateway.Handlers
	calls    []string
}

func newFakeGateway(posts ...models.Post) *fakeGateway {
	f := &fakeGateway{rows: make(map[string]models.Post), fail: make(map[string]error)}
	for _, p := range posts {
		f.rows[p.ID] = p.Clone()
	}
	return f
}

func (f *fakeGateway) failOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op] = err
}

func (f *fakeGateway) call(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
	return f.fail[op]
}

func (f *fakeGateway) row(id string) (models.Post, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[id]
	return p.Clone(), ok
}

func (f *fakeGateway) FetchAll(context.Context) ([]models.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	out := make([]models.Post, 0, len(f.rows))
	for _, p := range f.rows {
		out = append(out, p.Clone())
	}
	return out, nil
}

func (f *fakeGateway) Insert(_ context.Context, p models.Post) (models.Post, error) {
	if err := f.call("insert"); err != nil {
		return models.Post{}, err
	}
	f.mu.Lock()
	if _, ok := f.rows[p.ID]; ok {
		f.mu.Unlock()
		return models.Post{}, gateway.ErrConflict
	}
	f.rows[p.ID] = p.Clone()
	echo, h := f.echo, f.handlers
	f.mu.Unlock()
	if echo && h.OnInsert != nil {
		h.OnInsert(p.Clone())
	}
	return p.Clone(), nil
}

func (f *fakeGateway) UpdateLikes(_ context.Context, id string, likes models.Likes) error {
	if err := f.call("likes"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[id]
	if !ok {
		return gateway.ErrNotFound
	}
	p.Likes = append(models.Likes{}, likes...)
	f.rows[id] = p
	return nil
}

func (f *fakeGateway) UpdateComments(_ context.Context, id string, comments []models.Comment) error {
	if err := f.call("comments"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[id]
	if !ok {
		return gateway.ErrNotFound
	}
	p.Comments = append([]models.Comment{}, comments...)
	f.rows[id] = p
	return nil
}

func (f *fakeGateway) DeleteRow(_ context.Context, id string) error {
	if err := f.call("delete"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[id]; !ok {
		return gateway.ErrNotFound
	}
	delete(f.rows, id)
	return nil
}

func (f *fakeGateway) Subscribe(_ context.Context, h gateway.Handlers) (func(), error) {
	if err := f.call("subscribe"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.handlers = h
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.handlers = gateway.Handlers{}
		f.mu.Unlock()
	}, nil
}

// push delivers a change as the realtime channel would.
func (f *fakeGateway) push() gateway.Handlers {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers
}
