package repository

import (
	"context"
	"errors"
	"strings"
)

// KV reads and writes named blobs. Every Write replaces the whole value
// stored under the key.
type KV interface {
	Read(ctx context.Context, key string) ([]byte, bool, error)
	Write(ctx context.Context, key string, value []byte) error
}

var errEmptyKey = errors.New("repository: key must not be empty")

func validKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errEmptyKey
	}
	return key, nil
}
