// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// FileBlobStore implements BlobStore on a local directory. Each blob is a
// content file named by its ID plus a JSON sidecar holding the filename and
// MIME type.
type FileBlobStore struct {
	dir string
	mu  sync.Mutex
}

var _ BlobStore = (*FileBlobStore)(nil)

// blobMeta is the sidecar metadata persisted next to the content file.
type blobMeta struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
}

const blobMetaSuffix = ".meta.json"

// NewFileBlobStore creates a blob store rooted at dir, creating the
// directory if needed.
func NewFileBlobStore(dir string) (*FileBlobStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating blob directory: %w", err)
	}
	return &FileBlobStore{dir: dir}, nil
}

// Put stores a new blob and returns its assigned ID.
func (s *FileBlobStore) Put(_ context.Context, filename, mimeType string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	if err := os.WriteFile(s.contentPath(id), data, 0o600); err != nil {
		return "", fmt.Errorf("writing blob content: %w", err)
	}
	if err := s.writeMeta(id, blobMeta{Filename: filename, MimeType: mimeType}); err != nil {
		_ = os.Remove(s.contentPath(id))
		return "", err
	}
	return id, nil
}

// Get retrieves a blob with its content by ID.
func (s *FileBlobStore) Get(_ context.Context, id string) (Blob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validateBlobID(id); err != nil {
		return Blob{}, err
	}
	meta, err := s.readMeta(id)
	if err != nil {
		return Blob{}, err
	}
	data, err := os.ReadFile(s.contentPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return Blob{}, ErrNotFound
		}
		return Blob{}, fmt.Errorf("reading blob content: %w", err)
	}
	return Blob{ID: id, Filename: meta.Filename, MimeType: meta.MimeType, Data: data}, nil
}

// Delete removes a blob by ID.
func (s *FileBlobStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validateBlobID(id); err != nil {
		return err
	}
	if _, err := os.Stat(s.contentPath(id)); os.IsNotExist(err) {
		return ErrNotFound
	}
	if err := os.Remove(s.contentPath(id)); err != nil {
		return fmt.Errorf("removing blob content: %w", err)
	}
	if err := os.Remove(s.metaPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing blob metadata: %w", err)
	}
	return nil
}

// Rename changes a blob's user-facing filename.
func (s *FileBlobStore) Rename(_ context.Context, id, filename string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validateBlobID(id); err != nil {
		return err
	}
	meta, err := s.readMeta(id)
	if err != nil {
		return err
	}
	meta.Filename = filename
	return s.writeMeta(id, meta)
}

// List returns metadata for all stored blobs ordered by filename.
func (s *FileBlobStore) List(_ context.Context) ([]BlobInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading blob directory: %w", err)
	}

	infos := make([]BlobInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), blobMetaSuffix) {
			continue
		}
		id := entry.Name()
		meta, err := s.readMeta(id)
		if err != nil {
			// Content without a sidecar is a partial write; skip it.
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("reading blob info: %w", err)
		}
		infos = append(infos, BlobInfo{
			ID:         id,
			Filename:   meta.Filename,
			MimeType:   meta.MimeType,
			Size:       fi.Size(),
			ModifiedAt: fi.ModTime(),
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Filename != infos[j].Filename {
			return infos[i].Filename < infos[j].Filename
		}
		return infos[i].ID < infos[j].ID
	})
	return infos, nil
}

func (s *FileBlobStore) contentPath(id string) string {
	return filepath.Join(s.dir, id)
}

func (s *FileBlobStore) metaPath(id string) string {
	return filepath.Join(s.dir, id+blobMetaSuffix)
}

func (s *FileBlobStore) readMeta(id string) (blobMeta, error) {
	data, err := os.ReadFile(s.metaPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return blobMeta{}, ErrNotFound
		}
		return blobMeta{}, fmt.Errorf("reading blob metadata: %w", err)
	}
	var meta blobMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return blobMeta{}, fmt.Errorf("decoding blob metadata: %w", err)
	}
	return meta, nil
}

func (s *FileBlobStore) writeMeta(id string, meta blobMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encoding blob metadata: %w", err)
	}
	if err := os.WriteFile(s.metaPath(id), data, 0o600); err != nil {
		return fmt.Errorf("writing blob metadata: %w", err)
	}
	return nil
}

// validateBlobID rejects IDs that are not UUIDs assigned by Put. This keeps
// caller-supplied IDs from escaping the blob directory.
func validateBlobID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	return nil
}
