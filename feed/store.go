// Package feed keeps the session's view of the post feed: an ordered,
// deduplicated collection reconciled from local optimistic writes and
// remote change pushes, plus the mutations that edit it.
package feed

import (
	"context"
	"slices"
	"sync"

	"crisisfeed/gateway"
	"crisisfeed/models"

	"go.uber.org/zap"
)

// Store holds posts newest first. Every method is safe for concurrent use;
// remote pushes and local mutations merge last-writer-wins by post id.
type Store struct {
	gw  gateway.Gateway
	log *zap.Logger

	mu       sync.RWMutex
	posts    []models.Post
	loadErr  error
	watchers map[int]chan struct{}
	nextW    int
}

func NewStore(gw gateway.Gateway, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{gw: gw, log: log, watchers: make(map[int]chan struct{})}
}

// Load replaces the collection with the gateway's snapshot. On failure the
// list is emptied and the error is kept for Err; nothing is retried.
func (s *Store) Load(ctx context.Context) error {
	posts, err := s.gw.FetchAll(ctx)

	s.mu.Lock()
	if err != nil {
		s.posts = nil
		s.loadErr = remoteFailure("load", err)
		s.mu.Unlock()
		s.log.Warn("feed_load_failed", zap.Error(err))
		s.notify()
		return s.loadErr
	}
	s.posts = s.posts[:0]
	for _, p := range posts {
		if indexOf(s.posts, p.ID) < 0 {
			s.posts = append(s.posts, p.Clone())
		}
	}
	sortPosts(s.posts)
	s.loadErr = nil
	n := len(s.posts)
	s.mu.Unlock()

	s.log.Debug("feed_loaded", zap.Int("posts", n))
	s.notify()
	return nil
}

// Restore seeds the collection from a cached copy without touching the
// load error. Load still replaces it wholesale.
func (s *Store) Restore(posts []models.Post) {
	s.mu.Lock()
	s.posts = s.posts[:0]
	for _, p := range posts {
		if indexOf(s.posts, p.ID) < 0 {
			s.posts = append(s.posts, p.Clone())
		}
	}
	sortPosts(s.posts)
	s.mu.Unlock()
	s.notify()
}

// Err returns the error of the last Load, or nil.
func (s *Store) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadErr
}

// ApplyRemoteInsert adds p unless a post with the same id is already
// present, which absorbs the echo of a local create.
func (s *Store) ApplyRemoteInsert(p models.Post) {
	if !s.place(p) {
		s.log.Debug("remote_insert_duplicate", zap.String("post_id", p.ID))
		return
	}
	s.log.Debug("remote_insert", zap.String("post_id", p.ID))
}

// ApplyRemoteUpdate swaps in the whole row. Unknown ids are ignored since
// the post may already be deleted here.
func (s *Store) ApplyRemoteUpdate(p models.Post) {
	if !s.replace(p) {
		s.log.Debug("remote_update_unknown", zap.String("post_id", p.ID))
		return
	}
	s.log.Debug("remote_update", zap.String("post_id", p.ID))
}

func (s *Store) ApplyRemoteDelete(id string) {
	if _, _, ok := s.remove(id); ok {
		s.log.Debug("remote_delete", zap.String("post_id", id))
	}
}

// Posts returns a deep copy of the collection in display order.
func (s *Store) Posts() []models.Post {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Post, len(s.posts))
	for i, p := range s.posts {
		out[i] = p.Clone()
	}
	return out
}

// snapshot returns Posts and Err read under one lock.
func (s *Store) snapshot() ([]models.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Post, len(s.posts))
	for i, p := range s.posts {
		out[i] = p.Clone()
	}
	return out, s.loadErr
}

func (s *Store) Post(id string) (models.Post, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := indexOf(s.posts, id)
	if i < 0 {
		return models.Post{}, false
	}
	return s.posts[i].Clone(), true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.posts)
}

// Watch returns a channel that receives a value after changes to the
// collection. Bursts coalesce into one pending notification. cancel closes
// the channel.
func (s *Store) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	id := s.nextW
	s.nextW++
	s.watchers[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *Store) notify() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// place puts p at the front and re-sorts, so among equal timestamps the
// newest placement comes first. It reports false if the id is taken.
func (s *Store) place(p models.Post) bool {
	s.mu.Lock()
	if indexOf(s.posts, p.ID) >= 0 {
		s.mu.Unlock()
		return false
	}
	s.posts = slices.Insert(s.posts, 0, p.Clone())
	sortPosts(s.posts)
	s.mu.Unlock()
	s.notify()
	return true
}

// reinsert puts p back at its old position before re-sorting.
func (s *Store) reinsert(p models.Post, at int) {
	s.mu.Lock()
	if indexOf(s.posts, p.ID) >= 0 {
		s.mu.Unlock()
		return
	}
	at = min(max(at, 0), len(s.posts))
	s.posts = slices.Insert(s.posts, at, p.Clone())
	sortPosts(s.posts)
	s.mu.Unlock()
	s.notify()
}

func (s *Store) replace(p models.Post) bool {
	s.mu.Lock()
	i := indexOf(s.posts, p.ID)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	s.posts[i] = p.Clone()
	sortPosts(s.posts)
	s.mu.Unlock()
	s.notify()
	return true
}

func (s *Store) remove(id string) (models.Post, int, bool) {
	s.mu.Lock()
	i := indexOf(s.posts, id)
	if i < 0 {
		s.mu.Unlock()
		return models.Post{}, -1, false
	}
	p := s.posts[i]
	s.posts = slices.Delete(s.posts, i, i+1)
	s.mu.Unlock()
	s.notify()
	return p, i, true
}

func indexOf(posts []models.Post, id string) int {
	return slices.IndexFunc(posts, func(p models.Post) bool { return p.ID == id })
}

func sortPosts(posts []models.Post) {
	slices.SortStableFunc(posts, func(a, b models.Post) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
}
