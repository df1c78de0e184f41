package authorization

import (
	"context"
	"errors"

	apikeydomain "github.com/smallbiznis/schoolhub/internal/apikey/domain"
)

type Service interface {
	// Authorize checks a session role against an object and action.
	Authorize(ctx context.Context, role string, object string, action string) error
	// AuthorizeCredential checks whether any of a key's permissions allows
	// method on path.
	AuthorizeCredential(ctx context.Context, perms []apikeydomain.Permission, method string, path string) error
}

var (
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
	ErrForbidden     = errors.New("forbidden")
)
