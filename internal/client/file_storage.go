package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/songblend/api/internal/model"
)

// FileStorage keeps assets and blends on the local filesystem. It is the
// development backend used when no bucket is configured.
type FileStorage struct {
	root         string
	outputPrefix string
}

func NewFileStorage(root, outputPrefix string) (*FileStorage, error) {
	if root == "" {
		return nil, fmt.Errorf("local storage dir not set")
	}
	if err := os.MkdirAll(filepath.Join(root, filepath.FromSlash(outputPrefix)), 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FileStorage{root: root, outputPrefix: outputPrefix}, nil
}

func (s *FileStorage) path(key string) (string, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}

func (s *FileStorage) Fetch(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", key, mapFileError(err))
	}
	return data, nil
}

// Put writes through a temp file so readers never see a partial blend.
func (s *FileStorage) Put(ctx context.Context, fileID string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(outputKey(s.outputPrefix, fileID))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".blend-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", fileID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", fileID, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("store %s: %w", fileID, err)
	}
	return nil
}

func (s *FileStorage) Open(ctx context.Context, fileID string) (io.ReadCloser, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	p, err := s.path(outputKey(s.outputPrefix, fileID))
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, 0, fmt.Errorf("open %s: %w", fileID, mapFileError(err))
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat %s: %w", fileID, err)
	}
	return f, info.Size(), nil
}

func (s *FileStorage) Ping(ctx context.Context) error {
	_, err := os.Stat(s.root)
	return err
}

func mapFileError(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return model.ErrArtifactNotFound
	case errors.Is(err, fs.ErrPermission):
		return ErrAccessDenied
	default:
		return err
	}
}
