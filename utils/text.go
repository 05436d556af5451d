package utils

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MaxContent  = 280
	MaxNickname = 50
)

var (
	ErrEmpty   = errors.New("text is empty")
	ErrTooLong = errors.New("text is too long")
)

// NormalizeContent trims surrounding whitespace and enforces the post and
// comment length limit, counted in runes.
func NormalizeContent(s string) (string, error) {
	return normalize(s, MaxContent)
}

// NormalizeNickname applies the same rules with the nickname limit.
func NormalizeNickname(s string) (string, error) {
	return normalize(s, MaxNickname)
}

func normalize(s string, max int) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrEmpty
	}
	if n := utf8.RuneCountInString(s); n > max {
		return "", fmt.Errorf("%w: %d characters, limit is %d", ErrTooLong, n, max)
	}
	return s, nil
}

// Truncate shortens s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
