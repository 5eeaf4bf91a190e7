// Package character loads and resolves character configuration from a
// directory of JSON records plus externally referenced prompt files.
package character

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ubk8751/cathyAI/internal/types"
)

var (
	// ErrNotFound means no configuration file backs the requested id.
	ErrNotFound = errors.New("character not found")
	// ErrFileMissing means a prompt field referenced a file that does not
	// exist. Resolution fails rather than passing the filename through as
	// prompt text.
	ErrFileMissing = errors.New("referenced file missing")
	// ErrBadFilename means an avatar filename failed the traversal check.
	ErrBadFilename = errors.New("invalid filename")
)

// View selects how much of a resolved character is exposed.
type View string

const (
	// ViewPublic carries display fields only, no prompt text.
	ViewPublic View = "public"
	// ViewPrivate adds the full resolved prompt bundle.
	ViewPrivate View = "private"
)

// Config locates the character directories and the public host prefix used
// for avatar URLs.
type Config struct {
	CharDir   string
	PromptDir string
	InfoDir   string
	AvatarDir string
	HostURL   string
}

// Store reads character records from flat directories. It holds no mutable
// state: every call re-reads the filesystem, so concurrent requests are
// safe.
type Store struct {
	cfg Config
}

// NewStore returns a Store over the configured directories.
func NewStore(cfg Config) *Store {
	cfg.HostURL = strings.TrimRight(cfg.HostURL, "/")
	return &Store{cfg: cfg}
}

// Config returns the directory configuration the store was built with.
func (s *Store) Config() Config {
	return s.cfg
}

// configPath is the JSON file backing id.
func (s *Store) configPath(id string) string {
	return filepath.Join(s.cfg.CharDir, id+".json")
}

// readRaw loads and decodes one character file.
func (s *Store) readRaw(id string) (*types.RawCharacter, error) {
	data, err := os.ReadFile(s.configPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("character %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read character %q: %w", id, err)
	}
	var raw types.RawCharacter
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse %s.json: %w", id, err)
	}
	return &raw, nil
}

// IDs returns every character id backed by a config file, sorted by
// filename.
func (s *Store) IDs() ([]string, error) {
	entries, err := os.ReadDir(s.cfg.CharDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read character directory %s: %w", s.cfg.CharDir, err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}
	return ids, nil
}

// List returns the lightweight record for every character. A file that
// fails to parse is logged and skipped so one broken character never takes
// down the whole listing.
func (s *Store) List() ([]types.CharacterSummary, error) {
	ids, err := s.IDs()
	if err != nil {
		return nil, err
	}
	out := make([]types.CharacterSummary, 0, len(ids))
	for _, id := range ids {
		raw, err := s.readRaw(id)
		if err != nil {
			slog.Warn("skipping unreadable character", "id", id, "error", err)
			continue
		}
		out = append(out, s.summarize(raw, id))
	}
	return out, nil
}

// summarize builds the list view of a raw record.
func (s *Store) summarize(raw *types.RawCharacter, id string) types.CharacterSummary {
	name := strings.TrimSpace(raw.Name)
	if name == "" {
		name = id
	}
	return types.CharacterSummary{
		ID:        id,
		Name:      name,
		Nickname:  strings.TrimSpace(raw.Nickname),
		Model:     strings.TrimSpace(raw.Model),
		Greeting:  raw.Greeting,
		Avatar:    strings.TrimSpace(raw.Avatar),
		Aliases:   BuildAliases(raw, id),
		AvatarURL: s.AvatarURL(raw.Avatar),
	}
}

// AvatarURL builds the public URL for an avatar filename, or "" when the
// character has no avatar.
func (s *Store) AvatarURL(avatar string) string {
	avatar = strings.TrimSpace(avatar)
	if avatar == "" {
		return ""
	}
	return s.cfg.HostURL + "/avatars/" + avatar
}

// ListSources returns the paths whose fingerprints make up the list ETag:
// every character config file, sorted by filename.
func (s *Store) ListSources() ([]string, error) {
	ids, err := s.IDs()
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(ids))
	for _, id := range ids {
		paths = append(paths, s.configPath(id))
	}
	return paths, nil
}

// Sources returns the ordered paths contributing to one character's ETag:
// its own config file plus any prompt, background, or append-rules files it
// references. Referenced-but-missing files are still listed so the ETag
// changes when they appear.
func (s *Store) Sources(id string) ([]string, error) {
	raw, err := s.readRaw(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		// A malformed file still has an identity; its ETag is just the
		// config file itself.
		return []string{s.configPath(id)}, nil
	}

	paths := []string{s.configPath(id)}
	if p, ok := slotSource(raw.SystemPrompt, s.cfg.PromptDir); ok {
		paths = append(paths, p)
	}
	if p, ok := slotSource(raw.CharacterBackground, s.cfg.InfoDir); ok {
		paths = append(paths, p)
	}
	if raw.Matrix != nil {
		if p, ok := slotSource(raw.Matrix.AppendRules, s.cfg.PromptDir); ok {
			paths = append(paths, p)
		}
	}
	return paths, nil
}

// AvatarPath validates filename and returns the full path of an existing
// avatar file.
func (s *Store) AvatarPath(filename string) (string, error) {
	if !SafeFilename(filename) {
		return "", fmt.Errorf("avatar %q: %w", filename, ErrBadFilename)
	}
	p := filepath.Join(s.cfg.AvatarDir, filename)
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("avatar %q: %w", filename, ErrNotFound)
	}
	return p, nil
}

// SafeFilename reports whether name can be used as a path component without
// escaping the avatar directory.
func SafeFilename(name string) bool {
	return name != "" &&
		!strings.Contains(name, "/") &&
		!strings.Contains(name, "\\") &&
		!strings.Contains(name, "..")
}
