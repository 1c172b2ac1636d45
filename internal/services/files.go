package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Files — доступ к содержимому файлов для узлов "read-file".
type Files interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
}

// DirFiles читает файлы только внутри корневого каталога.
type DirFiles struct {
	root    *os.Root
	maxSize int64
}

// NewDirFiles открывает корневой каталог. maxSize <= 0 — 10MB.
func NewDirFiles(dir string, maxSize int64) (*DirFiles, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("open files root: %w", err)
	}
	if maxSize <= 0 {
		maxSize = 10 * 1024 * 1024
	}
	return &DirFiles{root: root, maxSize: maxSize}, nil
}

// ReadFile читает файл относительно корня.
func (f *DirFiles) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean := filepath.Clean(strings.TrimPrefix(path, "/"))
	if clean == "." || strings.HasPrefix(clean, "..") {
		return nil, fmt.Errorf("%s: %w", path, ErrOutsideRoot)
	}

	file, err := f.root.Open(clean)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, f.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if int64(len(data)) > f.maxSize {
		return nil, fmt.Errorf("%s exceeds %d bytes", path, f.maxSize)
	}
	return data, nil
}

// Close закрывает корневой каталог.
func (f *DirFiles) Close() error {
	return f.root.Close()
}
