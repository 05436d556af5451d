package feed

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"crisisfeed/database"
	"crisisfeed/localstate"
	"crisisfeed/models"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openState(t *testing.T) *localstate.Store {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "state.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return localstate.New(db)
}

func TestSessionResolvesIdentityAndLoads(t *testing.T) {
	gw := newFakeGateway(mkPost("p", models.RoleGovernment, "Prime Minister", t0))
	state := openState(t)

	s, err := Open(context.Background(), gw, SessionOptions{Selector: "troll", Identities: state}, nil)
	require.NoError(t, err)
	defer s.Close()

	id, ok := s.Identity()
	require.True(t, ok)
	assert.Equal(t, models.Identity{Nickname: "Internet Troll", Role: models.RoleTroll}, id)
	assert.Equal(t, []string{"p"}, ids(s.Posts()))
	assert.NoError(t, s.Err())

	p, _ := s.Post("p")
	assert.False(t, s.CanDelete(p))
	assert.False(t, s.HasLiked(p))

	_, err = s.ToggleLike(context.Background(), "p")
	require.NoError(t, err)
	p, _ = s.Post("p")
	assert.True(t, s.HasLiked(p))
}

func TestSessionKeepsStoredNickname(t *testing.T) {
	state := openState(t)
	ctx := context.Background()
	require.NoError(t, state.SaveIdentity(ctx, models.Identity{Nickname: "Maija", Role: models.RoleStudent}))

	s, err := Open(ctx, newFakeGateway(), SessionOptions{Selector: "bogus", Identities: state}, nil)
	require.NoError(t, err)
	defer s.Close()

	id, _ := s.Identity()
	assert.Equal(t, models.Identity{Nickname: "Maija", Role: models.RoleOther}, id)
}

func TestSessionLoadFailureIsReported(t *testing.T) {
	gw := newFakeGateway(mkPost("p", models.RoleOther, "a", t0))
	gw.fetchErr = errBoom

	s, err := Open(context.Background(), gw, SessionOptions{}, nil)
	require.NoError(t, err)
	defer s.Close()

	assert.ErrorIs(t, s.Err(), ErrRemoteFailure)
	assert.Empty(t, s.Posts())

	gw.fetchErr = nil
	require.NoError(t, s.Reload(context.Background()))
	assert.Len(t, s.Posts(), 1)
}

func TestSessionAppliesPushes(t *testing.T) {
	gw := newFakeGateway()
	s, err := Open(context.Background(), gw, SessionOptions{}, nil)
	require.NoError(t, err)
	defer s.Close()

	changes, cancel := s.Watch()
	defer cancel()

	p := mkPost("p", models.RoleHealth, "THL Official", t0)
	gw.push().OnInsert(p)
	<-changes
	assert.Equal(t, []string{"p"}, ids(s.Posts()))

	gw.push().OnDelete("p")
	<-changes
	assert.Empty(t, s.Posts())
}

func TestSessionIdentityChangeBlocksMutations(t *testing.T) {
	state := openState(t)
	ctx := context.Background()
	s, err := Open(ctx, newFakeGateway(), SessionOptions{Selector: "government", Identities: state}, nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.BeginIdentityChange(ctx))
	_, err = s.CreatePost(ctx, "hello")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	restored, err := s.CancelIdentityChange(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Prime Minister", restored.Nickname)

	id, err := s.ChangeIdentity(ctx, "Liisa", models.RoleHealth)
	require.NoError(t, err)
	p, err := s.CreatePost(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, id.Nickname, p.Author)
	assert.Equal(t, models.RoleHealth, p.AuthorRole)
	assert.True(t, s.CanDelete(p))

	c, err := s.AddComment(ctx, p.ID, "first")
	require.NoError(t, err)
	require.NoError(t, s.DeleteComment(ctx, p.ID, c.ID))
	require.NoError(t, s.DeletePost(ctx, p.ID))
	assert.Empty(t, s.Posts())
}

func TestSessionPostCacheWarmStart(t *testing.T) {
	state := openState(t)
	ctx := context.Background()
	gw := newFakeGateway(
		mkPost("a", models.RoleOther, "x", t0),
		mkPost("b", models.RoleOther, "y", t0.Add(time.Second)),
	)

	s, err := Open(ctx, gw, SessionOptions{Identities: state, Cache: state}, nil)
	require.NoError(t, err)
	_, err = s.CreatePost(ctx, "cached too")
	require.NoError(t, err)
	want := s.Posts()
	s.Close()

	cached, ok, err := state.Posts(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	if diff := cmp.Diff(want, cached); diff != "" {
		t.Errorf("cache mismatch (-session +cache):\n%s", diff)
	}

	// the backend is down on the next run: the failed load must not
	// overwrite the cached feed
	offline := newFakeGateway()
	offline.fetchErr = errBoom
	s, err = Open(ctx, offline, SessionOptions{Identities: state, Cache: state}, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Err(), ErrRemoteFailure)
	s.Close()

	cached, ok, err = state.Posts(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	if diff := cmp.Diff(want, cached); diff != "" {
		t.Errorf("cache overwritten after failed load (-before +after):\n%s", diff)
	}
}

func TestSessionSurvivesSubscribeFailure(t *testing.T) {
	gw := newFakeGateway(mkPost("p", models.RoleOther, "a", t0))
	gw.failOn("subscribe", errBoom)

	s, err := Open(context.Background(), gw, SessionOptions{}, nil)
	require.NoError(t, err)
	defer s.Close()
	assert.Len(t, s.Posts(), 1)
}
