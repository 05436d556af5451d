package main

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"crisisfeed/feed"
	"crisisfeed/models"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestExplainMapsFeedErrors(t *testing.T) {
	logger = zap.NewNop()
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("%w: insert: %w", feed.ErrRemoteFailure, assert.AnError), "failed to create post, try again"},
		{feed.ErrUnauthorized, "cannot create post: only the author's role may delete it"},
		{feed.ErrNotFound, "cannot create post: it no longer exists"},
		{feed.ErrUnauthenticated, "no identity: pick a role with --role"},
	}
	for _, tt := range tests {
		assert.EqualError(t, explain("create post", tt.err), tt.want)
	}
}

func TestAgo(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "just now", ago(now.Add(-10*time.Second), now))
	assert.Equal(t, "5m ago", ago(now.Add(-5*time.Minute), now))
	assert.Equal(t, "3h ago", ago(now.Add(-3*time.Hour), now))
}

func TestResolveCommentID(t *testing.T) {
	p := models.Post{Comments: []models.Comment{{ID: "abc123"}, {ID: "abd456"}}}

	id, err := resolveCommentID(p, "abc")
	assert.NoError(t, err)
	assert.Equal(t, "abc123", id)

	_, err = resolveCommentID(p, "ab")
	assert.ErrorContains(t, err, "ambiguous")

	_, err = resolveCommentID(p, "zzz")
	assert.ErrorContains(t, err, "no comment")
}

func TestRenderRolesSkipsOwnRole(t *testing.T) {
	var buf bytes.Buffer
	renderRoles(&buf, "troll")
	out := buf.String()

	assert.Contains(t, out, "Internet Troll")
	assert.Contains(t, out, "Other participants as Troll:")
	assert.NotContains(t, out, "Juuso Halpa-Halko (")
	assert.Contains(t, out, "Anna Halin (Prime Minister)")
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "0123abcd", shortID("0123abcd-ef00-4000-8000-000000000000"))
	assert.Equal(t, "abc", shortID("abc"))
}
