package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config is the complete Katalyst configuration.
type Config struct {
	Log     LogConfig     `toml:"log" yaml:"log"`
	Suggest SuggestConfig `toml:"suggest" yaml:"suggest"`
	Collab  CollabConfig  `toml:"collab" yaml:"collab"`
	AI      AIConfig      `toml:"ai" yaml:"ai"`
	Relay   RelayConfig   `toml:"relay" yaml:"relay"`
}

// LogConfig selects log verbosity and output encoding.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"` // text or json
}

// SuggestConfig tunes the inline suggestion lifecycle.
type SuggestConfig struct {
	MatchTolerance  int      `toml:"match_tolerance" yaml:"match_tolerance"`
	AcceptTolerance int      `toml:"accept_tolerance" yaml:"accept_tolerance"`
	DriftTolerance  int      `toml:"drift_tolerance" yaml:"drift_tolerance"`
	IdleDelay       Duration `toml:"idle_delay" yaml:"idle_delay"`
	FastDelay       Duration `toml:"fast_delay" yaml:"fast_delay"`
	Cooldown        Duration `toml:"cooldown" yaml:"cooldown"`
	RequestTimeout  Duration `toml:"request_timeout" yaml:"request_timeout"`
	HighSignal      string   `toml:"high_signal" yaml:"high_signal"`
	SuggestionType  string   `toml:"suggestion_type" yaml:"suggestion_type"`
}

// CollabConfig configures the collaboration session.
type CollabConfig struct {
	// RelayURL is the relay base URL. Empty with Discover set browses
	// the LAN for one.
	RelayURL string `toml:"relay_url" yaml:"relay_url"`
	Discover bool   `toml:"discover" yaml:"discover"`

	Room     string `toml:"room" yaml:"room"`
	Username string `toml:"username" yaml:"username"`
	Color    string `toml:"color" yaml:"color"`

	AwarenessTimeout Duration `toml:"awareness_timeout" yaml:"awareness_timeout"`
	AwarenessRenew   Duration `toml:"awareness_renew" yaml:"awareness_renew"`
	ReconnectMax     Duration `toml:"reconnect_max" yaml:"reconnect_max"`
}

// AIConfig selects and tunes the model provider.
type AIConfig struct {
	Provider  string `toml:"provider" yaml:"provider"`
	Model     string `toml:"model" yaml:"model"`
	ChatModel string `toml:"chat_model" yaml:"chat_model"`

	// APIKeyEnv names the environment variable holding the API key.
	// Empty uses the provider's conventional variable.
	APIKeyEnv string `toml:"api_key_env" yaml:"api_key_env"`
	BaseURL   string `toml:"base_url" yaml:"base_url"`

	Temperature   float64  `toml:"temperature" yaml:"temperature"`
	MaxTokens     int      `toml:"max_tokens" yaml:"max_tokens"`
	ChatMaxTokens int      `toml:"chat_max_tokens" yaml:"chat_max_tokens"`
	MaxRetries    int      `toml:"max_retries" yaml:"max_retries"`
	Timeout       Duration `toml:"timeout" yaml:"timeout"`
}

// RelayConfig configures katalyst-relay.
type RelayConfig struct {
	Addr      string `toml:"addr" yaml:"addr"`
	RedisURL  string `toml:"redis_url" yaml:"redis_url"`
	KeyPrefix string `toml:"key_prefix" yaml:"key_prefix"`
	Backlog   int    `toml:"backlog" yaml:"backlog"`

	// Advertise announces the relay over mDNS under Instance.
	Advertise bool   `toml:"advertise" yaml:"advertise"`
	Instance  string `toml:"instance" yaml:"instance"`
}

var keyEnvByProvider = map[string]string{
	"groq":      "GROQ_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"gemini":    "GEMINI_API_KEY",
}

var providers = []string{"groq", "openai", "anthropic", "gemini"}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Suggest: SuggestConfig{
			MatchTolerance:  2,
			AcceptTolerance: 5,
			DriftTolerance:  10,
			IdleDelay:       Duration(300 * time.Millisecond),
			FastDelay:       Duration(100 * time.Millisecond),
			Cooldown:        Duration(time.Second),
			RequestTimeout:  Duration(12 * time.Second),
			HighSignal:      "{.=,(:;",
			SuggestionType:  "completion",
		},
		Collab: CollabConfig{
			Room:             "playground",
			AwarenessTimeout: Duration(30 * time.Second),
			AwarenessRenew:   Duration(15 * time.Second),
			ReconnectMax:     Duration(30 * time.Second),
		},
		AI: AIConfig{
			Provider:      "groq",
			Temperature:   0.7,
			MaxTokens:     300,
			ChatMaxTokens: 1024,
			MaxRetries:    2,
		},
		Relay: RelayConfig{
			Addr:      ":8787",
			KeyPrefix: "katalyst:room:",
			Backlog:   1000,
			Instance:  "katalyst-relay",
		},
	}
}

// Load builds a Config from defaults, the file at path (skipped when
// path is empty), and the process environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
			}
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := Decode(cfg, path, data); err != nil {
			return nil, err
		}
	}
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode merges data into cfg. The format follows the extension of
// path. Unknown keys are errors.
func Decode(cfg *Config, path string, data []byte) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			pe := &ParseError{Path: path, Err: err}
			var de *toml.DecodeError
			if errors.As(err, &de) {
				pe.Line, pe.Column = de.Position()
			}
			return pe
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return &ParseError{Path: path, Err: err}
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	return nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	var errs []error
	add := func(path, msg string, v any) {
		errs = append(errs, &ValidationError{Path: path, Message: msg, Value: v})
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("log.level", "must be debug, info, warn or error", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		add("log.format", "must be text or json", c.Log.Format)
	}

	s := c.Suggest
	if s.MatchTolerance < 0 {
		add("suggest.match_tolerance", "must not be negative", s.MatchTolerance)
	}
	if s.AcceptTolerance < s.MatchTolerance {
		add("suggest.accept_tolerance", "must be at least match_tolerance", s.AcceptTolerance)
	}
	if s.DriftTolerance < s.AcceptTolerance {
		add("suggest.drift_tolerance", "must be at least accept_tolerance", s.DriftTolerance)
	}
	for path, d := range map[string]Duration{
		"suggest.idle_delay":      s.IdleDelay,
		"suggest.fast_delay":      s.FastDelay,
		"suggest.request_timeout": s.RequestTimeout,
	} {
		if d <= 0 {
			add(path, "must be positive", d)
		}
	}
	if s.Cooldown < 0 {
		add("suggest.cooldown", "must not be negative", s.Cooldown)
	}
	if s.SuggestionType == "" {
		add("suggest.suggestion_type", "must not be empty", s.SuggestionType)
	}

	if c.Collab.AwarenessTimeout <= 0 {
		add("collab.awareness_timeout", "must be positive", c.Collab.AwarenessTimeout)
	}
	if c.Collab.AwarenessRenew <= 0 || c.Collab.AwarenessRenew >= c.Collab.AwarenessTimeout {
		add("collab.awareness_renew", "must be positive and below awareness_timeout", c.Collab.AwarenessRenew)
	}
	if c.Collab.Color != "" && !isHexColor(c.Collab.Color) {
		add("collab.color", "must be a #rrggbb color", c.Collab.Color)
	}

	if _, ok := keyEnvByProvider[strings.ToLower(c.AI.Provider)]; !ok {
		add("ai.provider", "must be one of "+strings.Join(providers, ", "), c.AI.Provider)
	}
	if c.AI.Temperature < 0 || c.AI.Temperature > 2 {
		add("ai.temperature", "must be between 0 and 2", c.AI.Temperature)
	}
	if c.AI.MaxTokens <= 0 {
		add("ai.max_tokens", "must be positive", c.AI.MaxTokens)
	}
	if c.AI.ChatMaxTokens <= 0 {
		add("ai.chat_max_tokens", "must be positive", c.AI.ChatMaxTokens)
	}
	if c.AI.MaxRetries < 0 {
		add("ai.max_retries", "must not be negative", c.AI.MaxRetries)
	}

	if c.Relay.Backlog <= 0 {
		add("relay.backlog", "must be positive", c.Relay.Backlog)
	}
	return errors.Join(errs...)
}

// KeyEnv returns the environment variable holding the API key.
func (a AIConfig) KeyEnv() string {
	if a.APIKeyEnv != "" {
		return a.APIKeyEnv
	}
	return keyEnvByProvider[strings.ToLower(a.Provider)]
}

// APIKey reads the API key through lookup.
func (a AIConfig) APIKey(lookup func(string) (string, bool)) string {
	name := a.KeyEnv()
	if name == "" {
		return ""
	}
	v, _ := lookup(name)
	return strings.TrimSpace(v)
}

func isHexColor(s string) bool {
	if len(s) != 7 || s[0] != '#' {
		return false
	}
	for _, r := range s[1:] {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
