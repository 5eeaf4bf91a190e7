package character

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ubk8751/cathyAI/internal/types"
)

// Resolve loads the character backing id and merges in any externally
// referenced prompt text. ViewPublic carries display fields only;
// ViewPrivate adds the resolved prompt bundle. The secrets block of the raw
// file is dropped unconditionally for both views.
func (s *Store) Resolve(id string, view View) (*types.Character, error) {
	raw, err := s.readRaw(id)
	if err != nil {
		return nil, err
	}

	out := &types.Character{CharacterSummary: s.summarize(raw, id)}
	if view != ViewPrivate {
		return out, nil
	}

	system, err := ResolveSlot(raw.SystemPrompt, s.cfg.PromptDir)
	if err != nil {
		return nil, fmt.Errorf("character %q system prompt: %w", id, err)
	}
	background, err := ResolveSlot(raw.CharacterBackground, s.cfg.InfoDir)
	if err != nil {
		return nil, fmt.Errorf("character %q background: %w", id, err)
	}
	prompts := &types.Prompts{System: system, Background: background}
	if raw.Matrix != nil && strings.TrimSpace(raw.Matrix.AppendRules) != "" {
		rules, err := ResolveSlot(raw.Matrix.AppendRules, s.cfg.PromptDir)
		if err != nil {
			return nil, fmt.Errorf("character %q append rules: %w", id, err)
		}
		prompts.AppendRules = rules
	}
	out.Prompts = prompts
	return out, nil
}

// ResolveSlot resolves one dual-mode prompt field. If the trimmed value
// names an existing regular file under dir, the file's trimmed contents are
// returned; otherwise the value itself is inline text. A value shaped like
// a file reference whose file is absent fails with ErrFileMissing instead
// of leaking the filename into prompt text.
//
// Known ambiguity: inline text that happens to match an existing filename
// is silently read as that file.
func ResolveSlot(value, dir string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil
	}
	candidate := filepath.Join(dir, value)
	if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
		data, err := os.ReadFile(candidate)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", value, err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	if looksLikeFileRef(value) {
		return "", fmt.Errorf("%q: %w", value, ErrFileMissing)
	}
	return value, nil
}

// slotSource returns the file a dual-mode field points at, when it points
// at one at all: either the file exists, or the value is shaped like a
// reference and the missing file is still part of the field's identity.
func slotSource(value, dir string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	candidate := filepath.Join(dir, value)
	if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
		return candidate, true
	}
	if looksLikeFileRef(value) {
		return candidate, true
	}
	return "", false
}

// looksLikeFileRef reports whether value is a bare filename rather than a
// sentence of inline prompt text: a single token carrying a known text
// extension.
func looksLikeFileRef(value string) bool {
	if strings.ContainsAny(value, " \t\n") {
		return false
	}
	switch strings.ToLower(filepath.Ext(value)) {
	case ".txt", ".md", ".prompt":
		return true
	}
	return false
}

// BuildAliases collects every way a character may be addressed: name,
// nickname, the optional alias lists, the matrix alias list, and always the
// id itself. Duplicates are removed case-insensitively, keeping first-seen
// casing and order.
func BuildAliases(raw *types.RawCharacter, id string) []string {
	var aliases []string
	add := func(v string) {
		if v = strings.TrimSpace(v); v != "" {
			aliases = append(aliases, v)
		}
	}

	add(raw.Name)
	add(raw.Nickname)
	for _, v := range raw.Nicknames {
		add(v)
	}
	for _, v := range raw.Aliases {
		add(v)
	}
	if raw.Matrix != nil {
		for _, v := range raw.Matrix.Aliases {
			add(v)
		}
	}
	add(id)

	return dedupeCaseInsensitive(aliases)
}

func dedupeCaseInsensitive(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, s := range items {
		key := strings.ToLower(s)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}
