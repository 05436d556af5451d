package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"crisisfeed/feed"
	"crisisfeed/models"
	"crisisfeed/utils"
)

const idPrefix = 8

func shortID(id string) string {
	if len(id) <= idPrefix {
		return id
	}
	return id[:idPrefix]
}

func ago(t time.Time, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
	return t.Local().Format("2 Jan 15:04")
}

func renderFeed(w io.Writer, s *feed.Session) {
	posts := s.Posts()
	if id, ok := s.Identity(); ok {
		fmt.Fprintf(w, "You are %s [%s]\n\n", id.Nickname, id.Role.Info().Badge)
	}
	if len(posts) == 0 {
		fmt.Fprintln(w, "No posts yet.")
		return
	}
	now := time.Now()
	for _, p := range posts {
		renderPost(w, s, p, now)
	}
}

func renderPost(w io.Writer, s *feed.Session, p models.Post, now time.Time) {
	heart := "♡"
	if s.HasLiked(p) {
		heart = "♥"
	}
	fmt.Fprintf(w, "%s  %s · %s · %s\n", shortID(p.ID), p.Author, p.AuthorRole.Info().Badge, ago(p.CreatedAt, now))
	fmt.Fprintf(w, "    %s\n", p.Content)
	fmt.Fprintf(w, "    %s %d   comments %d\n", heart, len(p.Likes), len(p.Comments))
	for _, c := range p.Comments {
		fmt.Fprintf(w, "      %s  %s (%s): %s\n", shortID(c.ID), c.Author, c.AuthorRole, utils.Truncate(c.Content, 120))
	}
	fmt.Fprintln(w)
}

func renderRoles(w io.Writer, selector string) {
	current, _ := models.LookupRoleParam(selector)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SELECTOR\tROLE\tBADGE\tDEFAULT NICKNAME\tDESCRIPTION")
	for _, rp := range models.RoleParams {
		info := rp.Role.Info()
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", rp.Param, rp.Role, info.Badge, rp.DefaultNickname, info.Description)
	}
	tw.Flush()

	fmt.Fprintf(w, "\nOther participants as %s:\n", current.Role)
	for _, r := range models.ActiveRoles(current.Role) {
		info := r.Info()
		fmt.Fprintf(w, "  %s (%s)\n", info.DisplayName, info.Badge)
	}
}
