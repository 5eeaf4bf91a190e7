// Package client holds the consumer-side HTTP clients: the ETag-aware
// character directory client, the streaming chat client, and thin wrappers
// over the collaborator APIs.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ubk8751/cathyAI/internal/character"
	"github.com/ubk8751/cathyAI/internal/types"
)

// ErrNotFound means the directory service has no such character.
var ErrNotFound = errors.New("character not found")

const (
	listCacheFile = "characters_cache.json"
	etagCacheFile = "characters_cache.etag"
)

// Directory fetches character data from the directory service with a
// dual-tier cache: a single durable list entry that survives restarts, and
// an in-memory per-character map re-derived from the list on demand.
// Entries are updated in place and never expire; staleness is only ever
// detected by asking the server.
type Directory struct {
	baseURL  string
	apiKey   string
	cacheDir string
	client   *http.Client

	mu       sync.Mutex
	listETag string
	list     []types.CharacterSummary
	haveList bool

	// Per-character tier. ETags and records are tracked separately, as the
	// protocol treats them separately: an ETag can outlive its record (a
	// cold id after restart), which is exactly the state the unconditional
	// retry below exists for.
	charETags map[string]string
	charCache map[string]*types.Character
}

// NewDirectory returns a Directory client. cacheDir is where the warm-start
// list cache lives; a previously persisted payload and ETag are loaded
// immediately so a dead directory service at startup still yields a usable
// (stale) list.
func NewDirectory(baseURL, apiKey, cacheDir string, timeout time.Duration) *Directory {
	d := &Directory{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		cacheDir:  cacheDir,
		client:    &http.Client{Timeout: timeout},
		charETags: make(map[string]string),
		charCache: make(map[string]*types.Character),
	}
	d.listETag = d.loadCachedETag()
	if cached, ok := d.loadCachedList(); ok {
		d.list = cached
		d.haveList = true
	}
	return d
}

func (d *Directory) newRequest(ctx context.Context, path string, etag string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if d.apiKey != "" {
		req.Header.Set("x-api-key", d.apiKey)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	return req, nil
}

// Characters refreshes the character list with a conditional GET. Any
// failure degrades to the cached payload, or to an empty list when none
// exists; the consumer must be able to start up either way, so no error is
// returned for transport problems.
func (d *Directory) Characters(ctx context.Context) ([]types.CharacterSummary, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	req, err := d.newRequest(ctx, "/characters", d.listETag)
	if err != nil {
		return d.fallbackListLocked(err), nil
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return d.fallbackListLocked(err), nil
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		slog.Info("character list unchanged, using cache")
		return d.fallbackListLocked(nil), nil
	case resp.StatusCode != http.StatusOK:
		return d.fallbackListLocked(fmt.Errorf("characters API status %d", resp.StatusCode)), nil
	}

	var body struct {
		Characters []types.CharacterSummary `json:"characters"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return d.fallbackListLocked(fmt.Errorf("failed to decode character list: %w", err)), nil
	}

	d.list = body.Characters
	d.haveList = true
	d.listETag = resp.Header.Get("ETag")
	d.persistListLocked()
	slog.Info("fetched character list", "count", len(d.list), "etag", d.listETag)
	return append([]types.CharacterSummary(nil), d.list...), nil
}

// fallbackListLocked serves whatever list is held, durable or in-memory,
// and an empty slice when there is nothing at all.
func (d *Directory) fallbackListLocked(cause error) []types.CharacterSummary {
	if cause != nil {
		slog.Warn("character list fetch failed, falling back to cache", "error", cause)
	}
	if d.haveList {
		return append([]types.CharacterSummary(nil), d.list...)
	}
	if cached, ok := d.loadCachedList(); ok {
		d.list = cached
		d.haveList = true
		return append([]types.CharacterSummary(nil), cached...)
	}
	return []types.CharacterSummary{}
}

// Character fetches one resolved character with a conditional GET against
// the in-memory entry. A 304 with no cached entry (cold id, or the two
// cache tiers disagreeing after a restart) would otherwise deadlock, since
// a 304 carries no body; that case retries exactly once without
// If-None-Match.
func (d *Directory) Character(ctx context.Context, id string, view character.View) (*types.Character, error) {
	d.mu.Lock()
	etag := d.charETags[id]
	cached := d.charCache[id]
	d.mu.Unlock()

	path := "/characters/" + url.PathEscape(id) + "?view=" + url.QueryEscape(string(view))

	req, err := d.newRequest(ctx, path, etag)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch character %q: %w", id, err)
	}

	if resp.StatusCode == http.StatusNotModified {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if cached != nil {
			slog.Info("character unchanged, using cache", "id", id)
			return cached, nil
		}
		// Cache miss despite a 304: retry unconditionally rather than
		// trusting an empty cache.
		slog.Warn("304 with empty character cache, refetching unconditionally", "id", id)
		req, err = d.newRequest(ctx, path, "")
		if err != nil {
			return nil, err
		}
		resp, err = d.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch character %q: %w", id, err)
		}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("character %q: %w", id, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("character %q: API status %d", id, resp.StatusCode)
	}

	var char types.Character
	if err := json.NewDecoder(resp.Body).Decode(&char); err != nil {
		return nil, fmt.Errorf("failed to decode character %q: %w", id, err)
	}

	d.mu.Lock()
	d.charETags[id] = resp.Header.Get("ETag")
	d.charCache[id] = &char
	d.mu.Unlock()
	return &char, nil
}

// Durable list cache. Writes are last-writer-wins across processes sharing
// a cache dir; a lost update just means one extra unconditional fetch.

func (d *Directory) loadCachedETag() string {
	data, err := os.ReadFile(filepath.Join(d.cacheDir, etagCacheFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (d *Directory) loadCachedList() ([]types.CharacterSummary, bool) {
	data, err := os.ReadFile(filepath.Join(d.cacheDir, listCacheFile))
	if err != nil {
		return nil, false
	}
	var list []types.CharacterSummary
	if err := json.Unmarshal(data, &list); err != nil {
		slog.Warn("discarding corrupt list cache", "error", err)
		return nil, false
	}
	return list, true
}

func (d *Directory) persistListLocked() {
	if err := os.MkdirAll(d.cacheDir, 0o755); err != nil {
		slog.Warn("failed to create cache directory", "dir", d.cacheDir, "error", err)
		return
	}
	data, err := json.Marshal(d.list)
	if err != nil {
		slog.Warn("failed to marshal list cache", "error", err)
		return
	}
	if err := os.WriteFile(filepath.Join(d.cacheDir, listCacheFile), data, 0o644); err != nil {
		slog.Warn("failed to persist list cache", "error", err)
	}
	if d.listETag != "" {
		if err := os.WriteFile(filepath.Join(d.cacheDir, etagCacheFile), []byte(d.listETag), 0o644); err != nil {
			slog.Warn("failed to persist list etag", "error", err)
		}
	}
}
