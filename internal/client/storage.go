package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// ErrAccessDenied is returned when the storage backend refuses a read.
var ErrAccessDenied = errors.New("access denied")

// BlobFetcher reads song assets by their catalog key.
type BlobFetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// OutputStore persists and serves finished blends by artifact id.
type OutputStore interface {
	Put(ctx context.Context, fileID string, data []byte) error
	Open(ctx context.Context, fileID string) (io.ReadCloser, int64, error)
}

// Storage is a backend that serves both roles.
type Storage interface {
	BlobFetcher
	OutputStore
	Ping(ctx context.Context) error
}

// OutputContentType is the media type of every stored blend.
const OutputContentType = "audio/mpeg"

func outputKey(prefix, fileID string) string {
	return path.Join(strings.Trim(prefix, "/"), fileID+".mp3")
}

// cleanKey rejects keys that would escape the storage root.
func cleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("empty object key")
	}
	cleaned := path.Clean("/" + key)[1:]
	if cleaned == "" || cleaned != strings.TrimPrefix(key, "/") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return cleaned, nil
}
