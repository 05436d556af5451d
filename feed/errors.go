package feed

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthenticated = errors.New("no identity")
	ErrUnauthorized    = errors.New("role does not match the author")
	ErrNotFound        = errors.New("not found")
	ErrRemoteFailure   = errors.New("remote store failed")
	ErrInvalidContent  = errors.New("invalid content")
)

func remoteFailure(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrRemoteFailure, op, err)
}
