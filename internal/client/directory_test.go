package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ubk8751/cathyAI/internal/character"
	"github.com/ubk8751/cathyAI/internal/types"
)

// fakeDirectoryAPI is a scriptable stand-in for the directory service.
type fakeDirectoryAPI struct {
	mu       sync.Mutex
	etag     string
	chars    []types.CharacterSummary
	detail   *types.Character
	requests []*http.Request
	fail     bool
}

func (f *fakeDirectoryAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /characters", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.requests = append(f.requests, r.Clone(context.Background()))
		if f.fail {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		if r.Header.Get("If-None-Match") == f.etag {
			w.Header().Set("ETag", f.etag)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", f.etag)
		json.NewEncoder(w).Encode(map[string]any{"characters": f.chars})
	})
	mux.HandleFunc("GET /characters/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.requests = append(f.requests, r.Clone(context.Background()))
		if f.detail == nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if r.Header.Get("If-None-Match") == f.etag {
			w.Header().Set("ETag", f.etag)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", f.etag)
		json.NewEncoder(w).Encode(f.detail)
	})
	return mux
}

func (f *fakeDirectoryAPI) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeDirectoryAPI) lastRequest() *http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestDirectory(t *testing.T, api *fakeDirectoryAPI) (*Directory, string) {
	t.Helper()
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)
	cacheDir := t.TempDir()
	return NewDirectory(srv.URL, "", cacheDir, 5*time.Second), cacheDir
}

func TestCharactersFetchAndPersist(t *testing.T) {
	api := &fakeDirectoryAPI{
		etag:  `"v1"`,
		chars: []types.CharacterSummary{{ID: "cat", Name: "Cat"}},
	}
	d, cacheDir := newTestDirectory(t, api)

	list, err := d.Characters(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(list) != 1 || list[0].ID != "cat" {
		t.Fatalf("unexpected list: %#v", list)
	}

	// A fresh client over the same cache dir warm-starts from disk and
	// sends the persisted ETag.
	d2 := NewDirectory(d.baseURL, "", cacheDir, 5*time.Second)
	list, err = d2.Characters(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("unexpected list after 304: %#v", list)
	}
	if got := api.lastRequest().Header.Get("If-None-Match"); got != `"v1"` {
		t.Fatalf("expected conditional request with stored etag, got %q", got)
	}
}

func TestCharactersFallsBackToCacheOnFailure(t *testing.T) {
	api := &fakeDirectoryAPI{
		etag:  `"v1"`,
		chars: []types.CharacterSummary{{ID: "cat", Name: "Cat"}},
	}
	d, _ := newTestDirectory(t, api)

	if _, err := d.Characters(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	api.mu.Lock()
	api.fail = true
	api.mu.Unlock()

	list, err := d.Characters(context.Background())
	if err != nil {
		t.Fatalf("cache fallback must not surface an error, got %v", err)
	}
	if len(list) != 1 || list[0].ID != "cat" {
		t.Fatalf("expected cached list, got %#v", list)
	}
}

func TestCharactersDegradesToEmptyList(t *testing.T) {
	d := NewDirectory("http://127.0.0.1:1", "", t.TempDir(), 500*time.Millisecond)
	list, err := d.Characters(context.Background())
	if err != nil {
		t.Fatalf("degraded startup must not surface an error, got %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty list, got %#v", list)
	}
}

func TestCharacterCachedOn304(t *testing.T) {
	detail := &types.Character{CharacterSummary: types.CharacterSummary{ID: "cat", Name: "Cat"}}
	api := &fakeDirectoryAPI{etag: `"v1"`, detail: detail}
	d, _ := newTestDirectory(t, api)

	first, err := d.Character(context.Background(), "cat", character.ViewPrivate)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	second, err := d.Character(context.Background(), "cat", character.ViewPrivate)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if first != second {
		t.Fatalf("expected cached pointer on 304, got %p and %p", first, second)
	}
	if api.requestCount() != 2 {
		t.Fatalf("expected 2 requests, got %d", api.requestCount())
	}
}

// A 304 against an empty per-character cache cannot be trusted: the 304
// has no body, so the client must retry exactly once without If-None-Match.
func TestCharacterRetriesUnconditionallyOnColdCache304(t *testing.T) {
	detail := &types.Character{CharacterSummary: types.CharacterSummary{ID: "cat", Name: "Cat"}}
	api := &fakeDirectoryAPI{etag: `"v1"`, detail: detail}
	d, _ := newTestDirectory(t, api)

	// Simulate the disagreeing-tiers state directly: the etag survived a
	// restart but the record did not.
	d.mu.Lock()
	d.charETags["cat"] = `"v1"`
	d.mu.Unlock()

	char, err := d.Character(context.Background(), "cat", character.ViewPrivate)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if char == nil || char.ID != "cat" {
		t.Fatalf("expected populated character, got %#v", char)
	}
	if api.requestCount() != 2 {
		t.Fatalf("expected exactly one retry (2 requests), got %d", api.requestCount())
	}
	if got := api.lastRequest().Header.Get("If-None-Match"); got != "" {
		t.Fatalf("retry must be unconditional, got If-None-Match %q", got)
	}

	// The retry populated the cache; the next 304 is served from it.
	again, err := d.Character(context.Background(), "cat", character.ViewPrivate)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if again == nil || again.ID != "cat" {
		t.Fatalf("expected cached character, got %#v", again)
	}
	if api.requestCount() != 3 {
		t.Fatalf("expected 3 requests total, got %d", api.requestCount())
	}
}

func TestCharacterNotFound(t *testing.T) {
	api := &fakeDirectoryAPI{etag: `"v1"`}
	d, _ := newTestDirectory(t, api)

	_, err := d.Character(context.Background(), "ghost", character.ViewPrivate)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
