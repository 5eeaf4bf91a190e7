package types

import "encoding/json"

// RawCharacter is one character configuration file as authored on disk.
// Prompt-bearing fields hold either inline text or the name of a file under
// the prompt/info directories; the resolver decides which.
type RawCharacter struct {
	Name                string          `json:"name"`
	Nickname            string          `json:"nickname,omitempty"`
	Avatar              string          `json:"avatar,omitempty"`
	Model               string          `json:"model,omitempty"`
	Greeting            string          `json:"greeting,omitempty"`
	SystemPrompt        string          `json:"system_prompt,omitempty"`
	CharacterBackground string          `json:"character_background,omitempty"`
	Nicknames           []string        `json:"nicknames,omitempty"`
	Aliases             []string        `json:"aliases,omitempty"`
	Matrix              *MatrixBlock    `json:"matrix,omitempty"`
	Secrets             json.RawMessage `json:"secrets,omitempty"`
}

// MatrixBlock is the optional bridge-specific extension of a character file.
type MatrixBlock struct {
	Aliases     []string `json:"aliases,omitempty"`
	AppendRules string   `json:"append_rules,omitempty"`
}

// CharacterSummary is the lightweight list view of a character. It never
// carries prompt text.
type CharacterSummary struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Nickname  string   `json:"nickname,omitempty"`
	Model     string   `json:"model,omitempty"`
	Greeting  string   `json:"greeting,omitempty"`
	Avatar    string   `json:"avatar,omitempty"`
	Aliases   []string `json:"aliases"`
	AvatarURL string   `json:"avatar_url,omitempty"`
}

// Prompts holds the resolved prompt slots of a character. Values are always
// resolved text, never filenames.
type Prompts struct {
	System      string `json:"system"`
	Background  string `json:"background,omitempty"`
	AppendRules string `json:"append_rules,omitempty"`
}

// Character is a resolved character record. Prompts is nil in the public
// view; the secrets block of the raw file is never carried over.
type Character struct {
	CharacterSummary
	Prompts *Prompts `json:"prompts,omitempty"`
}

// ChatMessage is one turn of a conversation sent to the chat backend.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
