// Package config loads configuration from environment variables, layered
// over an optional YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Server holds charactersd settings.
type Server struct {
	Addr      string `yaml:"addr"`
	CharDir   string `yaml:"char_dir"`
	PromptDir string `yaml:"prompt_dir"`
	InfoDir   string `yaml:"info_dir"`
	AvatarDir string `yaml:"avatar_dir"`
	APIKey    string `yaml:"api_key"`
	HostURL   string `yaml:"host_url"`
}

// Client holds chat consumer settings.
type Client struct {
	CharAPIURL     string        `yaml:"char_api_url"`
	CharAPIKey     string        `yaml:"char_api_key"`
	ChatAPIURL     string        `yaml:"chat_api_url"`
	ChatAPIKey     string        `yaml:"chat_api_key"`
	ModelsAPIURL   string        `yaml:"models_api_url"`
	ModelsAPIKey   string        `yaml:"models_api_key"`
	EmotionAPIURL  string        `yaml:"emotion_api_url"`
	EmotionAPIKey  string        `yaml:"emotion_api_key"`
	EmotionEnabled bool          `yaml:"emotion_enabled"`
	IdentityAPIURL string        `yaml:"identity_api_url"`
	IdentityAPIKey string        `yaml:"identity_api_key"`
	CacheDir       string        `yaml:"cache_dir"`
	ChatTimeout    time.Duration `yaml:"chat_timeout"`
	ModelsTimeout  time.Duration `yaml:"models_timeout"`
	EmotionTimeout time.Duration `yaml:"emotion_timeout"`
}

// LoadServer reads server settings: YAML file first (when path is not
// empty), env vars on top, then defaults.
func LoadServer(path string) (Server, error) {
	var cfg Server
	if err := loadFile(path, &cfg); err != nil {
		return cfg, err
	}

	setEnv(&cfg.Addr, "CHAR_API_ADDR")
	setEnv(&cfg.CharDir, "CHAR_DIR")
	setEnv(&cfg.PromptDir, "PROMPT_DIR")
	setEnv(&cfg.InfoDir, "INFO_DIR")
	setEnv(&cfg.AvatarDir, "AVATAR_DIR")
	setEnv(&cfg.APIKey, "CHAR_API_KEY")
	setEnv(&cfg.HostURL, "HOST_URL")

	if cfg.Addr == "" {
		cfg.Addr = ":8090"
	}
	if cfg.CharDir == "" {
		cfg.CharDir = "/app/characters"
	}
	if cfg.PromptDir == "" {
		cfg.PromptDir = filepath.Join(cfg.CharDir, "system_prompt")
	}
	if cfg.InfoDir == "" {
		cfg.InfoDir = filepath.Join(cfg.CharDir, "character_info")
	}
	if cfg.AvatarDir == "" {
		cfg.AvatarDir = "/app/public/avatars"
	}
	cfg.HostURL = strings.TrimRight(cfg.HostURL, "/")
	return cfg, nil
}

// LoadClient reads chat consumer settings the same way. ChatAPIURL is the
// only required field.
func LoadClient(path string) (Client, error) {
	var cfg Client
	if err := loadFile(path, &cfg); err != nil {
		return cfg, err
	}

	setEnv(&cfg.CharAPIURL, "CHAR_API_URL")
	setEnv(&cfg.CharAPIKey, "CHAR_API_KEY")
	setEnv(&cfg.ChatAPIURL, "CHAT_API_URL")
	setEnv(&cfg.ChatAPIKey, "CHAT_API_KEY")
	setEnv(&cfg.ModelsAPIURL, "MODELS_API_URL")
	setEnv(&cfg.ModelsAPIKey, "MODELS_API_KEY")
	setEnv(&cfg.EmotionAPIURL, "EMOTION_API_URL")
	setEnv(&cfg.EmotionAPIKey, "EMOTION_API_KEY")
	setEnv(&cfg.IdentityAPIURL, "IDENTITY_API_URL")
	setEnv(&cfg.IdentityAPIKey, "IDENTITY_API_KEY")
	setEnv(&cfg.CacheDir, "CHAR_CACHE_DIR")

	if v := os.Getenv("EMOTION_ENABLED"); v != "" {
		cfg.EmotionEnabled = v == "1"
	}
	cfg.ChatTimeout = getEnvDuration("CHAT_TIMEOUT", cfg.ChatTimeout, 120*time.Second)
	cfg.ModelsTimeout = getEnvDuration("MODELS_TIMEOUT", cfg.ModelsTimeout, 10*time.Second)
	cfg.EmotionTimeout = getEnvDuration("EMOTION_TIMEOUT", cfg.EmotionTimeout, 10*time.Second)

	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(os.TempDir(), "cathyai")
	}
	cfg.CharAPIURL = strings.TrimRight(cfg.CharAPIURL, "/")
	cfg.IdentityAPIURL = strings.TrimRight(cfg.IdentityAPIURL, "/")

	if cfg.ChatAPIURL == "" {
		return cfg, fmt.Errorf("CHAT_API_URL is required")
	}
	return cfg, nil
}

func loadFile(path string, out any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func setEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// getEnvDuration accepts either a Go duration string or bare seconds.
func getEnvDuration(key string, fileVal, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		if fileVal > 0 {
			return fileVal
		}
		return defaultVal
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	if fileVal > 0 {
		return fileVal
	}
	return defaultVal
}
