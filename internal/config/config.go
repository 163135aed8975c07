// Package config provides the configuration schema, loader, and watching
// store for subtidal. The document is a human-editable YAML file in the user
// config directory; appearance fields hot-reload without restart.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// OverlayMode selects how the renderer positions the caption window.
type OverlayMode string

const (
	ModeDocked   OverlayMode = "docked"
	ModeFloating OverlayMode = "floating"
)

// ScreenEdge is the docking edge for ModeDocked.
type ScreenEdge string

const (
	EdgeTop    ScreenEdge = "top"
	EdgeBottom ScreenEdge = "bottom"
	EdgeLeft   ScreenEdge = "left"
	EdgeRight  ScreenEdge = "right"
)

// SourceType tags the configured capture target.
type SourceType string

const (
	SourceSystemMix   SourceType = "system_mix"
	SourceApplication SourceType = "application"
)

// Config is the root configuration document.
type Config struct {
	// Engine selects the speech engine variant at startup. Unknown values
	// log a warning and fall back to the default.
	Engine string `yaml:"engine"`

	// AudioSource is the initial capture target.
	AudioSource AudioSourceConfig `yaml:"audio_source"`

	// OverlayMode and ScreenEdge position the caption window; ScreenEdge
	// applies only when docked, Position only when floating.
	OverlayMode OverlayMode `yaml:"overlay_mode"`
	ScreenEdge  ScreenEdge  `yaml:"screen_edge"`
	Position    Position    `yaml:"position"`

	// Locked enables the renderer's click-through mode.
	Locked bool `yaml:"locked"`

	Appearance AppearanceConfig `yaml:"appearance"`
	Correction CorrectionConfig `yaml:"correction"`
}

// AudioSourceConfig is the tagged capture-target record.
type AudioSourceConfig struct {
	Type     SourceType `yaml:"type"`
	NodeID   uint32     `yaml:"node_id"`
	NodeName string     `yaml:"node_name"`
}

// Position is the floating window position in pixels.
type Position struct {
	X int `yaml:"x"`
	Y int `yaml:"y"`
}

// AppearanceConfig holds the display parameters shared by the renderer and
// the caption buffer's geometry.
type AppearanceConfig struct {
	BackgroundColor string  `yaml:"background_color"`
	TextColor       string  `yaml:"text_color"`
	FontSize        float64 `yaml:"font_size"`
	MaxLines        int     `yaml:"max_lines"`
	Width           int     `yaml:"width"`
	ExpireSecs      uint    `yaml:"expire_secs"`
}

// ExpireDuration returns the per-line expiry with the zero coercion applied.
func (a AppearanceConfig) ExpireDuration() time.Duration {
	if a.ExpireSecs == 0 {
		return 8 * time.Second
	}
	return time.Duration(a.ExpireSecs) * time.Second
}

// CorrectionConfig enables the optional caption line corrector.
type CorrectionConfig struct {
	Enabled   bool   `yaml:"enabled"`
	OllamaURL string `yaml:"ollama_url"`
	Model     string `yaml:"model"`
}

// Default returns the configuration used for fresh installs and as the
// fallback for malformed files.
func Default() *Config {
	return &Config{
		Engine:      "parakeet",
		AudioSource: AudioSourceConfig{Type: SourceSystemMix},
		OverlayMode: ModeDocked,
		ScreenEdge:  EdgeBottom,
		Appearance: AppearanceConfig{
			BackgroundColor: "rgba(0,0,0,0.8)",
			TextColor:       "#ffffff",
			FontSize:        18,
			MaxLines:        3,
			Width:           800,
			ExpireSecs:      8,
		},
		Correction: CorrectionConfig{
			Enabled:   false,
			OllamaURL: "http://localhost:11434",
			Model:     "gemma3:1b",
		},
	}
}

// DefaultPath returns the config file location:
// $XDG_CONFIG_HOME/subtidal/config.yaml, falling back to ~/.config.
func DefaultPath() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "subtidal", "config.yaml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "subtidal", "config.yaml"), nil
}

// Load reads and parses the file at path. The caller decides how to handle
// os.ErrNotExist (fresh install) versus parse errors (warn and default).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a YAML document and normalizes it.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

// Save writes the config atomically (temp file + rename) so the watcher and
// external readers never observe a torn document.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("config: write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("config: rename: %w", err)
	}
	return nil
}

// Clone returns a deep copy; the document has no reference fields beyond
// strings, so a value copy suffices.
func (c *Config) Clone() *Config {
	out := *c
	return &out
}

// normalize coerces out-of-range values onto defaults in place. Unknown
// engine names are left for the engine parser, which reports them with the
// valid alternatives.
func (c *Config) normalize() {
	def := Default()
	switch c.OverlayMode {
	case ModeDocked, ModeFloating:
	default:
		c.OverlayMode = def.OverlayMode
	}
	switch c.ScreenEdge {
	case EdgeTop, EdgeBottom, EdgeLeft, EdgeRight:
	default:
		c.ScreenEdge = def.ScreenEdge
	}
	switch c.AudioSource.Type {
	case SourceSystemMix, SourceApplication:
	default:
		c.AudioSource = def.AudioSource
	}
	if c.Appearance.FontSize <= 0 {
		c.Appearance.FontSize = def.Appearance.FontSize
	}
	if c.Appearance.MaxLines < 1 {
		c.Appearance.MaxLines = def.Appearance.MaxLines
	}
	if c.Appearance.Width < 1 {
		c.Appearance.Width = def.Appearance.Width
	}
	if c.Appearance.ExpireSecs == 0 {
		c.Appearance.ExpireSecs = def.Appearance.ExpireSecs
	}
}
