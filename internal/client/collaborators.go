package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// The collaborator APIs (model catalog, emotion detection, identity
// resolution) are opaque services this process does not own. Their clients
// are deliberately thin and degrade to empty results on failure.

// Models lists the chat models the backend offers.
type Models struct {
	apiURL string
	apiKey string
	client *http.Client
}

// NewModels returns a Models client; an empty apiURL disables it.
func NewModels(apiURL, apiKey string, timeout time.Duration) *Models {
	return &Models{apiURL: apiURL, apiKey: apiKey, client: &http.Client{Timeout: timeout}}
}

// List fetches the available model names. Failures are logged and yield an
// empty list; model availability is handled downstream as a degraded state.
func (m *Models) List(ctx context.Context) []string {
	if m == nil || m.apiURL == "" {
		slog.Error("models API not configured")
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.apiURL, nil)
	if err != nil {
		slog.Error("failed to build models request", "error", err)
		return nil
	}
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		slog.Error("failed to fetch models", "error", err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		slog.Error("failed to fetch models", "status", resp.StatusCode)
		return nil
	}
	var body struct {
		Models []string `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		slog.Error("failed to decode models response", "error", err)
		return nil
	}
	slog.Info("fetched models", "count", len(body.Models))
	return body.Models
}

// EmotionResult is a sentiment label with its confidence.
type EmotionResult struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Emotion classifies reply text via the external emotion API.
type Emotion struct {
	apiURL  string
	apiKey  string
	enabled bool
	client  *http.Client
}

// NewEmotion returns an Emotion client. When disabled or unconfigured,
// Detect always returns nil.
func NewEmotion(apiURL, apiKey string, enabled bool, timeout time.Duration) *Emotion {
	return &Emotion{apiURL: apiURL, apiKey: apiKey, enabled: enabled, client: &http.Client{Timeout: timeout}}
}

// Detect returns the emotion detected in text, or nil when detection is
// disabled or fails. Detection is best-effort and never blocks a reply.
func (e *Emotion) Detect(ctx context.Context, text string) *EmotionResult {
	if e == nil || !e.enabled || e.apiURL == "" {
		return nil
	}
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.apiURL, bytes.NewReader(payload))
	if err != nil {
		slog.Warn("emotion detection failed", "error", err)
		return nil
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		slog.Warn("emotion detection failed", "error", err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		slog.Warn("emotion detection failed", "status", resp.StatusCode)
		return nil
	}
	var result EmotionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Warn("failed to decode emotion response", "error", err)
		return nil
	}
	return &result
}

// IdentityInfo is the resolved identity of an external user id.
type IdentityInfo struct {
	PersonID      string `json:"person_id"`
	PreferredName string `json:"preferred_name"`
}

// Identity resolves external user ids to person records.
type Identity struct {
	apiURL string
	apiKey string
	client *http.Client
}

// NewIdentity returns an Identity client; an empty apiURL disables it.
func NewIdentity(apiURL, apiKey string, timeout time.Duration) *Identity {
	return &Identity{apiURL: apiURL, apiKey: apiKey, client: &http.Client{Timeout: timeout}}
}

// Resolve looks up externalID. Failures are logged and yield a zero value;
// the session falls back to the raw username.
func (i *Identity) Resolve(ctx context.Context, externalID string) IdentityInfo {
	if i == nil || i.apiURL == "" {
		return IdentityInfo{}
	}
	u := fmt.Sprintf("%s/identity/resolve?external_id=%s", i.apiURL, url.QueryEscape(externalID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		slog.Warn("identity resolve failed", "external_id", externalID, "error", err)
		return IdentityInfo{}
	}
	if i.apiKey != "" {
		req.Header.Set("x-api-key", i.apiKey)
	}
	resp, err := i.client.Do(req)
	if err != nil {
		slog.Warn("identity resolve failed", "external_id", externalID, "error", err)
		return IdentityInfo{}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		slog.Warn("identity resolve failed", "external_id", externalID, "status", resp.StatusCode)
		return IdentityInfo{}
	}
	var info IdentityInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		slog.Warn("failed to decode identity response", "error", err)
		return IdentityInfo{}
	}
	return info
}
