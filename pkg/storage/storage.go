// Package storage abstracts the durable record store behind a small
// key-value style file interface so repositories can run against the local
// filesystem or S3 without caring which.
package storage

import (
	"context"
	"errors"
)

// ErrNotExist is returned when a requested key does not exist.
var ErrNotExist = errors.New("no such key")

// Store is the persistence boundary used by all repositories.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
	Remove(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Exists(ctx context.Context, key string) (bool, error)
}
