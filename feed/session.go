package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"crisisfeed/gateway"
	"crisisfeed/identity"
	"crisisfeed/models"

	"go.uber.org/zap"
)

// PostCache keeps a copy of the ordered post list between runs.
// localstate.Store satisfies it.
type PostCache interface {
	Posts(ctx context.Context) ([]models.Post, bool, error)
	SavePosts(ctx context.Context, posts []models.Post) error
}

type SessionOptions struct {
	// Selector picks the role, as the ?role= query did.
	Selector string
	// Identities persists the identity between runs. Nil keeps it in memory.
	Identities identity.Persister
	// Cache enables the warm-start post cache when set.
	Cache PostCache
}

// Session is everything a renderer needs: the current identity, the live
// post list and the mutations bound to that identity.
type Session struct {
	store *Store
	muts  *Mutations
	ids   *identity.Resolver
	cache PostCache
	log   *zap.Logger

	unsubscribe func()
	stopCache   func()
	cacheDone   chan struct{}
	closeOnce   sync.Once
}

// Open resolves the identity, subscribes to remote changes and loads the
// feed. A failed load does not fail Open; it is reported through Err.
func Open(ctx context.Context, gw gateway.Gateway, opts SessionOptions, log *zap.Logger) (*Session, error) {
	if log == nil {
		log = zap.NewNop()
	}
	ids := identity.NewResolver(opts.Identities, log)
	if _, err := ids.Resolve(ctx, opts.Selector); err != nil {
		return nil, fmt.Errorf("resolving identity: %w", err)
	}

	store := NewStore(gw, log)
	s := &Session{
		store: store,
		muts:  NewMutations(store, gw, log),
		ids:   ids,
		cache: opts.Cache,
		log:   log,
	}

	if s.cache != nil {
		cached, ok, err := s.cache.Posts(ctx)
		switch {
		case err != nil:
			log.Warn("post_cache_unreadable", zap.Error(err))
		case ok:
			store.Restore(cached)
			log.Debug("post_cache_restored", zap.Int("posts", len(cached)))
		}
	}

	unsubscribe, err := gw.Subscribe(ctx, gateway.Handlers{
		OnInsert: store.ApplyRemoteInsert,
		OnUpdate: store.ApplyRemoteUpdate,
		OnDelete: store.ApplyRemoteDelete,
	})
	if err != nil {
		log.Warn("realtime_subscribe_failed", zap.Error(err))
		unsubscribe = func() {}
	}
	s.unsubscribe = unsubscribe

	if s.cache != nil {
		s.startCacheWriter()
	}
	_ = store.Load(ctx)
	return s, nil
}

func (s *Session) startCacheWriter() {
	changes, stop := s.store.Watch()
	s.stopCache = stop
	s.cacheDone = make(chan struct{})
	go func() {
		defer close(s.cacheDone)
		for range changes {
			s.savePosts()
		}
	}()
}

// savePosts writes the list to the cache unless the last load failed, so an
// outage never replaces the cached feed with an empty one.
func (s *Session) savePosts() {
	posts, loadErr := s.store.snapshot()
	if loadErr != nil {
		s.log.Debug("post_cache_write_skipped", zap.Error(loadErr))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.cache.SavePosts(ctx, posts); err != nil {
		s.log.Warn("post_cache_write_failed", zap.Error(err))
	}
}

// Close drops the remote subscription and flushes the post cache.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.unsubscribe()
		if s.stopCache != nil {
			s.stopCache()
			<-s.cacheDone
			s.savePosts()
		}
	})
}

func (s *Session) Posts() []models.Post { return s.store.Posts() }

func (s *Session) Post(id string) (models.Post, bool) { return s.store.Post(id) }

// Err is the last load failure, shown in place of the feed.
func (s *Session) Err() error { return s.store.Err() }

// Reload fetches the feed again after a failure.
func (s *Session) Reload(ctx context.Context) error { return s.store.Load(ctx) }

func (s *Session) Watch() (<-chan struct{}, func()) { return s.store.Watch() }

func (s *Session) Identity() (models.Identity, bool) { return s.ids.Current() }

func (s *Session) ChangeIdentity(ctx context.Context, nickname string, role models.RoleTag) (models.Identity, error) {
	return s.ids.ChangeIdentity(ctx, nickname, role)
}

func (s *Session) BeginIdentityChange(ctx context.Context) error {
	return s.ids.BeginIdentityChange(ctx)
}

func (s *Session) CancelIdentityChange(ctx context.Context) (models.Identity, error) {
	return s.ids.CancelIdentityChange(ctx)
}

func (s *Session) who() models.Identity {
	id, _ := s.ids.Current()
	return id
}

func (s *Session) CreatePost(ctx context.Context, content string) (models.Post, error) {
	return s.muts.CreatePost(ctx, s.who(), content)
}

func (s *Session) ToggleLike(ctx context.Context, postID string) (models.Post, error) {
	return s.muts.ToggleLike(ctx, s.who(), postID)
}

func (s *Session) AddComment(ctx context.Context, postID, content string) (models.Comment, error) {
	return s.muts.AddComment(ctx, s.who(), postID, content)
}

func (s *Session) DeletePost(ctx context.Context, postID string) error {
	return s.muts.DeletePost(ctx, s.who(), postID)
}

func (s *Session) DeleteComment(ctx context.Context, postID, commentID string) error {
	return s.muts.DeleteComment(ctx, s.who(), postID, commentID)
}

// HasLiked reports the like state of p for the current identity.
func (s *Session) HasLiked(p models.Post) bool {
	id, ok := s.ids.Current()
	return ok && HasLiked(p, id)
}

// CanDelete reports whether the current identity's role authored p.
func (s *Session) CanDelete(p models.Post) bool {
	id, ok := s.ids.Current()
	return ok && id.Role.Normalize() == p.AuthorRole
}
