// Package blobstore stores published questionnaire documents and translation
// sheets. It defines the Store interface, an in-memory implementation for
// tests and development, a MinIO implementation, and Echo handlers for
// listing, downloading and deleting exports.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	ErrBlobNotFound       = errors.New("blob not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrInvalidKey         = errors.New("invalid blob key")
)

// MaxFileSize is the maximum allowed blob size in bytes (20 MB).
const MaxFileSize = 20 * 1024 * 1024

// Content types of exported files.
const (
	ContentTypeFHIRJSON = "application/fhir+json"
	ContentTypeJSON     = "application/json"
	ContentTypeCSV      = "text/csv"
)

// AllowedContentTypes lists the MIME types the store accepts.
var AllowedContentTypes = map[string]bool{
	ContentTypeFHIRJSON: true,
	ContentTypeJSON:     true,
	ContentTypeCSV:      true,
}

// BlobMetadata describes a stored blob.
type BlobMetadata struct {
	Key         string            `json:"key"`
	ContentType string            `json:"content_type"`
	Size        int64             `json:"size"`
	Hash        string            `json:"hash,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// Store defines the contract for blob storage backends. Keys are slash
// separated paths such as "q-1/20240101T120000Z/questionnaire.json".
type Store interface {
	Put(ctx context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error)
	Get(ctx context.Context, key string) (io.ReadCloser, *BlobMetadata, error)
	Stat(ctx context.Context, key string) (*BlobMetadata, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]*BlobMetadata, error)
}

// ValidateKey rejects empty keys, absolute keys and keys that leave their
// prefix.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}

// readContent validates meta and reads content up to MaxFileSize.
func readContent(meta BlobMetadata, content io.Reader) ([]byte, error) {
	if err := ValidateKey(meta.Key); err != nil {
		return nil, err
	}
	if !AllowedContentTypes[meta.ContentType] {
		return nil, fmt.Errorf("%w: %s", ErrInvalidContentType, meta.ContentType)
	}
	data, err := io.ReadAll(io.LimitReader(content, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > MaxFileSize {
		return nil, ErrFileTooLarge
	}
	return data, nil
}

func hashOf(data []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(data))
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

type storedBlob struct {
	metadata BlobMetadata
	content  []byte
}

// MemoryStore is a thread-safe, in-memory Store for testing/dev.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]*storedBlob
}

// NewMemoryStore returns a ready-to-use MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]*storedBlob)}
}

// Put stores content under meta.Key, replacing any previous blob.
func (s *MemoryStore) Put(_ context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	data, err := readContent(meta, content)
	if err != nil {
		return nil, err
	}

	meta.Size = int64(len(data))
	meta.Hash = hashOf(data)
	meta.CreatedAt = time.Now().UTC()
	meta.Tags = copyTags(meta.Tags)

	s.mu.Lock()
	s.blobs[meta.Key] = &storedBlob{metadata: meta, content: data}
	s.mu.Unlock()

	out := meta
	return &out, nil
}

// Get returns a reader over the blob content and its metadata.
func (s *MemoryStore) Get(_ context.Context, key string) (io.ReadCloser, *BlobMetadata, error) {
	s.mu.RLock()
	blob, ok := s.blobs[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrBlobNotFound
	}
	meta := blob.metadata
	return io.NopCloser(bytes.NewReader(blob.content)), &meta, nil
}

// Stat returns blob metadata without content.
func (s *MemoryStore) Stat(_ context.Context, key string) (*BlobMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blob, ok := s.blobs[key]
	if !ok {
		return nil, ErrBlobNotFound
	}
	meta := blob.metadata
	return &meta, nil
}

// Delete removes a blob by key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[key]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, key)
	return nil
}

// List returns the blobs whose key starts with prefix, sorted by key.
func (s *MemoryStore) List(_ context.Context, prefix string) ([]*BlobMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*BlobMetadata{}
	for key, blob := range s.blobs {
		if strings.HasPrefix(key, prefix) {
			meta := blob.metadata
			out = append(out, &meta)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func copyTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}
