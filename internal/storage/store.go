// Package storage keeps rendered documents on the local filesystem, one
// directory per job.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var ErrNotFound = errors.New("document not found")

type Store struct {
	baseDir string
}

func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create base dir: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

func (s *Store) jobDir(jobID string) (string, error) {
	if jobID == "" || jobID != filepath.Base(jobID) || strings.HasPrefix(jobID, ".") {
		return "", fmt.Errorf("invalid job id: %q", jobID)
	}
	return filepath.Join(s.baseDir, jobID), nil
}

func (s *Store) filePath(jobID, filename string) (string, error) {
	dir, err := s.jobDir(jobID)
	if err != nil {
		return "", err
	}
	// Prevent path traversal
	if filename == "" || filename != filepath.Base(filename) || strings.Contains(filename, "..") {
		return "", fmt.Errorf("invalid filename: %q", filename)
	}
	return filepath.Join(dir, filename), nil
}

// Put writes the document atomically: readers see either no file or the
// complete file.
func (s *Store) Put(jobID, filename string, content []byte) error {
	fullPath, err := s.filePath(jobID, filename)
	if err != nil {
		return err
	}
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		return fmt.Errorf("rename file: %w", err)
	}
	return nil
}

// Open returns the stored file for streaming. The caller closes it.
func (s *Store) Open(jobID, filename string) (*os.File, error) {
	fullPath, err := s.filePath(jobID, filename)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, jobID, filename)
		}
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

// Delete removes every file stored for the job. A job without files is not
// an error.
func (s *Store) Delete(jobID string) error {
	dir, err := s.jobDir(jobID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	return nil
}
