package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func seedBlob(t *testing.T, store Store, key, contentType, content string) *BlobMetadata {
	t.Helper()
	meta := BlobMetadata{Key: key, ContentType: contentType, Tags: map[string]string{"source": "unit-test"}}
	result, err := store.Put(context.Background(), meta, strings.NewReader(content))
	if err != nil {
		t.Fatalf("seedBlob: %v", err)
	}
	return result
}

// ---------------------------------------------------------------------------
// Store tests
// ---------------------------------------------------------------------------

func TestMemoryStore_Put(t *testing.T) {
	store := NewMemoryStore()
	content := `{"resourceType":"Questionnaire"}`

	result := seedBlob(t, store, "q-1/v1/questionnaire.json", ContentTypeFHIRJSON, content)
	if result.Size != int64(len(content)) {
		t.Errorf("expected Size=%d, got %d", len(content), result.Size)
	}
	if want := fmt.Sprintf("%x", sha256.Sum256([]byte(content))); result.Hash != want {
		t.Errorf("expected Hash=%s, got %s", want, result.Hash)
	}
	if result.CreatedAt.IsZero() {
		t.Error("expected non-zero CreatedAt")
	}
	if result.Tags["source"] != "unit-test" {
		t.Errorf("expected tag source=unit-test, got %v", result.Tags)
	}
}

func TestMemoryStore_PutReplaces(t *testing.T) {
	store := NewMemoryStore()
	seedBlob(t, store, "q-1/sheet.csv", ContentTypeCSV, "old")
	seedBlob(t, store, "q-1/sheet.csv", ContentTypeCSV, "new")

	rc, _, err := store.Get(context.Background(), "q-1/sheet.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "new" {
		t.Errorf("expected replaced content, got %q", data)
	}
}

func TestMemoryStore_PutValidation(t *testing.T) {
	store := NewMemoryStore()
	tests := []struct {
		name        string
		key         string
		contentType string
		size        int
		want        error
	}{
		{"empty key", "", ContentTypeCSV, 1, ErrInvalidKey},
		{"absolute key", "/etc/passwd", ContentTypeCSV, 1, ErrInvalidKey},
		{"parent segment", "q-1/../x.csv", ContentTypeCSV, 1, ErrInvalidKey},
		{"content type", "q-1/x.png", "image/png", 1, ErrInvalidContentType},
		{"too large", "q-1/big.csv", ContentTypeCSV, MaxFileSize + 1, ErrFileTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta := BlobMetadata{Key: tt.key, ContentType: tt.contentType}
			_, err := store.Put(context.Background(), meta, bytes.NewReader(make([]byte, tt.size)))
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestMemoryStore_GetStatDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seedBlob(t, store, "q-1/a.json", ContentTypeJSON, "{}")

	meta, err := store.Stat(ctx, "q-1/a.json")
	if err != nil || meta.ContentType != ContentTypeJSON {
		t.Fatalf("Stat = %+v, %v", meta, err)
	}
	if err := store.Delete(ctx, "q-1/a.json"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, _, err := store.Get(ctx, "q-1/a.json"); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound, got %v", err)
	}
	if err := store.Delete(ctx, "q-1/a.json"); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound, got %v", err)
	}
}

func TestMemoryStore_List(t *testing.T) {
	store := NewMemoryStore()
	seedBlob(t, store, "q-2/b.csv", ContentTypeCSV, "b")
	seedBlob(t, store, "q-1/b.csv", ContentTypeCSV, "b")
	seedBlob(t, store, "q-1/a.json", ContentTypeJSON, "{}")

	items, err := store.List(context.Background(), "q-1/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 || items[0].Key != "q-1/a.json" || items[1].Key != "q-1/b.csv" {
		t.Errorf("unexpected list %+v", items)
	}
	all, _ := store.List(context.Background(), "")
	if len(all) != 3 {
		t.Errorf("expected 3 blobs, got %d", len(all))
	}
}

func TestMemoryStore_TagsAreCopied(t *testing.T) {
	store := NewMemoryStore()
	tags := map[string]string{"lang": "nb-NO"}
	if _, err := store.Put(context.Background(), BlobMetadata{Key: "k.csv", ContentType: ContentTypeCSV, Tags: tags}, strings.NewReader("x")); err != nil {
		t.Fatal(err)
	}
	tags["lang"] = "changed"
	meta, _ := store.Stat(context.Background(), "k.csv")
	if meta.Tags["lang"] != "nb-NO" {
		t.Error("stored tags must not alias the caller's map")
	}
}

func TestMemoryStore_Concurrent(t *testing.T) {
	store := NewMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("q-%d/doc.json", i)
			if _, err := store.Put(context.Background(), BlobMetadata{Key: key, ContentType: ContentTypeJSON}, strings.NewReader("{}")); err != nil {
				t.Errorf("put %s: %v", key, err)
			}
			_, _ = store.List(context.Background(), "")
		}(i)
	}
	wg.Wait()
	all, _ := store.List(context.Background(), "")
	if len(all) != 50 {
		t.Errorf("expected 50 blobs, got %d", len(all))
	}
}

// ---------------------------------------------------------------------------
// Handler tests
// ---------------------------------------------------------------------------

func newTestServer(store Store) *echo.Echo {
	e := echo.New()
	NewBlobHandler(store).RegisterRoutes(e.Group("/api/v1"))
	return e
}

func TestBlobHandler_List(t *testing.T) {
	store := NewMemoryStore()
	seedBlob(t, store, "q-1/a.json", ContentTypeJSON, "{}")
	seedBlob(t, store, "q-2/a.json", ContentTypeJSON, "{}")
	e := newTestServer(store)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/exports?prefix=q-1/", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp listResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || resp.Items[0].Key != "q-1/a.json" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestBlobHandler_Download(t *testing.T) {
	store := NewMemoryStore()
	seedBlob(t, store, "q-1/v1/translations.csv", ContentTypeCSV, `"key"|"nb-NO"`)
	e := newTestServer(store)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/exports/q-1/v1/translations.csv", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != `"key"|"nb-NO"` {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, `filename="translations.csv"`) {
		t.Errorf("unexpected Content-Disposition %q", cd)
	}
	if ct := rec.Header().Get("Content-Type"); ct != ContentTypeCSV {
		t.Errorf("unexpected Content-Type %q", ct)
	}
}

func TestBlobHandler_Metadata(t *testing.T) {
	store := NewMemoryStore()
	seedBlob(t, store, "q-1/a.json", ContentTypeJSON, "{}")
	e := newTestServer(store)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/exports/q-1/a.json?metadata=true", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var meta BlobMetadata
	if err := json.Unmarshal(rec.Body.Bytes(), &meta); err != nil {
		t.Fatal(err)
	}
	if meta.Key != "q-1/a.json" || meta.Size != 2 {
		t.Errorf("unexpected metadata %+v", meta)
	}
}

func TestBlobHandler_NotFoundAndDelete(t *testing.T) {
	store := NewMemoryStore()
	seedBlob(t, store, "q-1/a.json", ContentTypeJSON, "{}")
	e := newTestServer(store)

	tests := []struct {
		method, path string
		status       int
	}{
		{http.MethodGet, "/api/v1/exports/q-1/missing.json", http.StatusNotFound},
		{http.MethodDelete, "/api/v1/exports/q-1/a.json", http.StatusNoContent},
		{http.MethodDelete, "/api/v1/exports/q-1/a.json", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
		if rec.Code != tt.status {
			t.Errorf("%s %s: expected %d, got %d", tt.method, tt.path, tt.status, rec.Code)
		}
	}
}
