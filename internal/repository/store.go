package repository

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"

	"chat-relay/internal/domain"
)

// Store is the history document store consumed by the conversation service.
// Every backend is a plain read-modify-write store: Put overwrites and there
// is no compare-and-swap, so concurrent writers to the same key race and the
// last write wins.
type Store interface {
	Get(ctx context.Context, collection, key string) (domain.History, bool, error)
	Put(ctx context.Context, collection, key string, history domain.History) error
	Delete(ctx context.Context, collection, key string) error
	ListKeys(ctx context.Context, collection string) ([]string, error)
}

// ErrInvalidAddress is returned when a collection or key is empty or would
// escape its namespace.
var ErrInvalidAddress = errors.New("repository: invalid document address")

func validateAddress(collection, key string) error {
	if strings.TrimSpace(collection) == "" || strings.TrimSpace(key) == "" {
		return errors.Wrap(ErrInvalidAddress, "collection and key are required")
	}
	if strings.Contains(key, "/") {
		return errors.Wrapf(ErrInvalidAddress, "key %q must not contain '/'", key)
	}
	return nil
}
