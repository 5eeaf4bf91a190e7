// Package session owns the consumer-side conversation state: the selected
// character, model, and message history. State lives on an explicit Session
// handle so multiple conversations can coexist in one process.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/ubk8751/cathyAI/internal/character"
	"github.com/ubk8751/cathyAI/internal/types"
)

// CharacterSource is the slice of the directory client a session needs.
type CharacterSource interface {
	Characters(ctx context.Context) ([]types.CharacterSummary, error)
	Character(ctx context.Context, id string, view character.View) (*types.Character, error)
}

// Options selects the character and model for a new session. Zero values
// mean "first available", which is applied as an explicit logged fallback.
type Options struct {
	Character     string
	Model         string
	Models        []string
	Username      string
	PreferredName string
}

// Session is one conversation.
type Session struct {
	ID            string
	Character     *types.Character
	Model         string
	PreferredName string
	History       []types.ChatMessage

	systemPrompt string
}

// Start builds a session from the cached character list. An empty list
// yields a degraded session (Ready reports false) rather than an error, so
// the consumer can still come up and say "no characters available".
func Start(ctx context.Context, source CharacterSource, opts Options) (*Session, error) {
	s := &Session{
		ID:            uuid.NewString(),
		PreferredName: opts.PreferredName,
	}
	if s.PreferredName == "" {
		s.PreferredName = opts.Username
	}
	if s.PreferredName == "" {
		s.PreferredName = "there"
	}

	list, err := source.Characters(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list characters: %w", err)
	}
	if len(list) == 0 {
		slog.Error("no characters available")
		return s, nil
	}

	id := selectCharacter(list, opts.Character)
	char, err := source.Character(ctx, id, character.ViewPrivate)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch character details: %w", err)
	}
	s.Character = char

	s.Model = selectModel(opts.Models, opts.Model, char.Model)
	s.systemPrompt = s.buildSystemPrompt()
	s.Reset()

	slog.Info("session started",
		"session_id", s.ID,
		"character", char.Name,
		"model", s.Model,
		"user", opts.Username,
		"preferred_name", s.PreferredName,
	)
	return s, nil
}

// selectCharacter matches requested against ids, names, and aliases
// case-insensitively. An unknown or empty selection falls back to the first
// listed character, logged as a named policy decision.
func selectCharacter(list []types.CharacterSummary, requested string) string {
	requested = strings.TrimSpace(requested)
	if requested != "" {
		want := strings.ToLower(requested)
		for _, c := range list {
			if strings.ToLower(c.ID) == want || strings.ToLower(c.Name) == want {
				return c.ID
			}
			for _, alias := range c.Aliases {
				if strings.ToLower(alias) == want {
					return c.ID
				}
			}
		}
	}

	fallback := list[0]
	reason := "no_selection"
	if requested != "" {
		reason = "profile_not_found"
	}
	slog.Warn("falling back to first character",
		"requested", requested,
		"using", fallback.Name,
		"fallback_reason", reason,
	)
	return fallback.ID
}

// selectModel prefers the explicit request, then the character's model
// hint, then the first available model. Absence of any model leaves the
// session degraded.
func selectModel(available []string, requested, hint string) string {
	for _, want := range []string{requested, hint} {
		if want == "" {
			continue
		}
		if len(available) == 0 {
			return want
		}
		for _, m := range available {
			if m == want {
				return m
			}
		}
		slog.Warn("falling back to first model", "requested", want, "fallback_reason", "model_not_found")
	}
	if len(available) > 0 {
		slog.Info("using first available model", "model", available[0], "fallback_reason", "no_selection")
		return available[0]
	}
	slog.Error("no models available")
	return ""
}

// Ready reports whether the session can generate replies.
func (s *Session) Ready() bool {
	return s.Character != nil && s.Model != ""
}

// buildSystemPrompt assembles the identity hint and the character's
// resolved prompt slots into the opening system message.
func (s *Session) buildSystemPrompt() string {
	hint := fmt.Sprintf("The user's preferred name is %s. Address them by this name when natural.\n\n", s.PreferredName)

	var parts []string
	if s.Character.Prompts != nil {
		for _, p := range []string{s.Character.Prompts.System, s.Character.Prompts.Background, s.Character.Prompts.AppendRules} {
			if p != "" {
				parts = append(parts, NormalizePromptText(p, s.Character.Name, s.PreferredName))
			}
		}
	}
	return hint + strings.Join(parts, "\n\n")
}

// Reset clears the conversation back to the system prompt.
func (s *Session) Reset() {
	s.History = []types.ChatMessage{{Role: "system", Content: s.systemPrompt}}
}

// Push appends one turn to the history.
func (s *Session) Push(role, content string) {
	s.History = append(s.History, types.ChatMessage{Role: role, Content: content})
}

// AuthorLabel is the short display name for the character's replies: the
// nickname when set, otherwise the first word of the name.
func (s *Session) AuthorLabel() string {
	if s.Character == nil {
		return ""
	}
	if s.Character.Nickname != "" {
		return s.Character.Nickname
	}
	name, _, _ := strings.Cut(s.Character.Name, " ")
	return name
}

// ExternalID is the stable external identifier handed to the identity
// collaborator.
func ExternalID(username string) string {
	if username == "" {
		return "chat:anonymous"
	}
	return "chat:username:" + username
}
