package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"comicgen/pkg/model"
)

// Config holds the application configuration.
type Config struct {
	Log        LogConfig             `yaml:"log"`
	Providers  ProvidersConfig       `yaml:"providers"`
	Generation GenerationConfig      `yaml:"generation"`
	Reference  ReferenceConfig       `yaml:"reference"`
	Rooms      map[string]RoomConfig `yaml:"rooms"`
	History    HistoryConfig         `yaml:"history"`

	// Proxy is applied per HTTP client, never via process environment.
	// Accepts http://, https:// and socks5:// URLs.
	Proxy string `yaml:"proxy"`

	// DefaultCharacterDescription is used when a room has none configured.
	DefaultCharacterDescription string `yaml:"default_character_description"`

	// Legacy is the old nested "ai" shape. It is consulted once during
	// Load for providers that carry no key in the modern shape, then
	// cleared; nothing outside this package ever sees it.
	Legacy *LegacyAI `yaml:"ai,omitempty"`
}

// ProvidersConfig holds the provider cascade settings.
type ProvidersConfig struct {
	Gemini GeminiConfig `yaml:"gemini"`
	Tuzi   TuziConfig   `yaml:"tuzi"`
}

// GeminiConfig holds settings for the Google provider (text and image).
type GeminiConfig struct {
	Key        string `yaml:"key"`
	Model      string `yaml:"model"`       // text model
	ImageModel string `yaml:"image_model"` // SDK image model
	// ImageEnabled gates the primary image strategy chain.
	ImageEnabled bool `yaml:"image_enabled"`
	MaxRetries   int  `yaml:"max_retries"`
}

// TuziConfig holds settings for the tu-zi.com provider.
// Text fallback runs whenever Key is set; the image secondary
// additionally requires Enabled.
type TuziConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Key        string `yaml:"key"`
	BaseURL    string `yaml:"base_url"`
	TextModel  string `yaml:"text_model"`
	ImageModel string `yaml:"image_model"` // first model of the rotation
	MaxRetries int    `yaml:"max_retries"`
}

// GenerationConfig holds timeout, polling and retry pacing settings.
type GenerationConfig struct {
	TextTimeout    Duration `yaml:"text_timeout"`
	ImageTimeout   Duration `yaml:"image_timeout"`
	PollTimeout    Duration `yaml:"poll_timeout"`
	PollInterval   Duration `yaml:"poll_interval"`
	RetryDelay     Duration `yaml:"retry_delay"`
	RetryDelaySlow Duration `yaml:"retry_delay_slow"` // used on TLS/timeout error signatures
	TempDir        string   `yaml:"temp_dir"`         // empty means the OS temp dir
}

// ReferenceConfig holds reference image lookup settings.
type ReferenceConfig struct {
	// BasePaths are candidate roots tried in order for relative
	// reference image paths.
	BasePaths []string `yaml:"base_paths"`
	// Dirs are the reference-image directories searched for room-named
	// and built-in default files.
	Dirs         []string `yaml:"dirs"`
	DefaultImage string   `yaml:"default_image"`
}

// RoomConfig holds per-room overrides.
type RoomConfig struct {
	Disabled             bool        `yaml:"disabled"`
	CharacterDescription string      `yaml:"character_description"`
	ReferenceImage       string      `yaml:"reference_image"`
	Prompts              RoomPrompts `yaml:"prompts"`
}

// RoomPrompts holds per-room template overrides. Bodies use the
// {character_desc} / {highlight_content} / {comic_content} placeholders.
type RoomPrompts struct {
	Script string `yaml:"script"`
	Image  string `yaml:"image"`
}

// HistoryConfig holds the run-history database settings.
type HistoryConfig struct {
	Path string `yaml:"path"` // empty disables history
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server   LogSettings `yaml:"server"`
	Requests LogSettings `yaml:"requests"`
}

// LogSettings holds settings for a specific logger.
type LogSettings struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Server: LogSettings{
				Path:  "./logs/comicgen.log",
				Level: "INFO",
			},
			Requests: LogSettings{
				Path:  "./logs/requests.log",
				Level: "INFO",
			},
		},
		Providers: ProvidersConfig{
			Gemini: GeminiConfig{
				Model:        "gemini-2.0-flash",
				ImageModel:   "gemini-2.0-flash-preview-image-generation",
				ImageEnabled: true,
				MaxRetries:   3,
			},
			Tuzi: TuziConfig{
				Enabled:    true,
				BaseURL:    "https://api.tu-zi.com",
				TextModel:  "gemini-3-flash-preview",
				ImageModel: "gpt-image-1.5",
				MaxRetries: 3,
			},
		},
		Generation: GenerationConfig{
			TextTimeout:    Duration(120 * time.Second),
			ImageTimeout:   Duration(360 * time.Second),
			PollTimeout:    Duration(30 * time.Second),
			PollInterval:   Duration(3 * time.Second),
			RetryDelay:     Duration(2 * time.Second),
			RetryDelaySlow: Duration(5 * time.Second),
		},
		Reference: ReferenceConfig{
			BasePaths: []string{"."},
			Dirs:      []string{"./reference_images"},
		},
		History: HistoryConfig{
			Path: "./data/comicgen.db",
		},
	}
}

// Load loads the configuration from the given path.
// If the file does not exist, it creates it with default values.
// If the file exists, it merges defaults with existing values but does NOT
// save back to disk (to preserve user formatting and comments).
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}

		cfg.applyLegacy()

		// Load from Env if empty (as a fallback, but do NOT save back to disk)
		if cfg.Providers.Gemini.Key == "" {
			if key := os.Getenv("GEMINI_API_KEY"); key != "" {
				cfg.Providers.Gemini.Key = key
			}
		}
		if cfg.Providers.Tuzi.Key == "" {
			if key := os.Getenv("TUZI_API_KEY"); key != "" {
				cfg.Providers.Tuzi.Key = key
			}
		}
		if cfg.Proxy == "" {
			if proxy := os.Getenv("COMICGEN_PROXY"); proxy != "" {
				cfg.Proxy = proxy
			}
		}

		return cfg, nil
	}

	// If file does not exist, save defaults
	if err := Save(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to save config file: %w", err)
	}

	return cfg, nil
}

// Room resolves the effective settings for a room ID, folding in the
// global default character description. Unknown rooms get defaults.
func (c *Config) Room(id string) model.Room {
	room := model.Room{ID: id, CharacterDescription: c.DefaultCharacterDescription}
	rc, ok := c.Rooms[id]
	if !ok {
		return room
	}
	if rc.CharacterDescription != "" {
		room.CharacterDescription = rc.CharacterDescription
	}
	room.ReferenceImage = rc.ReferenceImage
	room.ScriptPrompt = rc.Prompts.Script
	room.ImagePrompt = rc.Prompts.Image
	return room
}

// RoomDisabled reports whether comic generation is switched off for a room.
func (c *Config) RoomDisabled(id string) bool {
	rc, ok := c.Rooms[id]
	return ok && rc.Disabled
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# comicgen Configuration
# ----------------------
# Duration units: ns, us (or µs), ms, s, m, h, d (day), w (week)
# Secrets may come from the environment instead:
#   GEMINI_API_KEY, TUZI_API_KEY, COMICGEN_PROXY

`)
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault creates a default config file at the given path.
// Returns nil if the file already exists.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil // File exists, do nothing
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return Save(path, DefaultConfig())
}
