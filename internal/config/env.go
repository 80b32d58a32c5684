package config

import (
	"strconv"
	"time"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KATALYST_"

type envSetter func(c *Config, v string) error

func str(f func(*Config) *string) envSetter {
	return func(c *Config, v string) error { *f(c) = v; return nil }
}

func integer(f func(*Config) *int) envSetter {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*f(c) = n
		return nil
	}
}

func float(f func(*Config) *float64) envSetter {
	return func(c *Config, v string) error {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*f(c) = n
		return nil
	}
}

func boolean(f func(*Config) *bool) envSetter {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*f(c) = b
		return nil
	}
}

func duration(f func(*Config) *Duration) envSetter {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*f(c) = Duration(d)
		return nil
	}
}

// envMapping maps variable names (without EnvPrefix) to settings.
var envMapping = map[string]envSetter{
	"LOG_LEVEL":  str(func(c *Config) *string { return &c.Log.Level }),
	"LOG_FORMAT": str(func(c *Config) *string { return &c.Log.Format }),

	"SUGGEST_IDLE_DELAY":      duration(func(c *Config) *Duration { return &c.Suggest.IdleDelay }),
	"SUGGEST_FAST_DELAY":      duration(func(c *Config) *Duration { return &c.Suggest.FastDelay }),
	"SUGGEST_COOLDOWN":        duration(func(c *Config) *Duration { return &c.Suggest.Cooldown }),
	"SUGGEST_REQUEST_TIMEOUT": duration(func(c *Config) *Duration { return &c.Suggest.RequestTimeout }),

	"RELAY_URL": str(func(c *Config) *string { return &c.Collab.RelayURL }),
	"DISCOVER":  boolean(func(c *Config) *bool { return &c.Collab.Discover }),
	"ROOM":      str(func(c *Config) *string { return &c.Collab.Room }),
	"USERNAME":  str(func(c *Config) *string { return &c.Collab.Username }),
	"COLOR":     str(func(c *Config) *string { return &c.Collab.Color }),

	"AI_PROVIDER":        str(func(c *Config) *string { return &c.AI.Provider }),
	"AI_MODEL":           str(func(c *Config) *string { return &c.AI.Model }),
	"AI_CHAT_MODEL":      str(func(c *Config) *string { return &c.AI.ChatModel }),
	"AI_API_KEY_ENV":     str(func(c *Config) *string { return &c.AI.APIKeyEnv }),
	"AI_BASE_URL":        str(func(c *Config) *string { return &c.AI.BaseURL }),
	"AI_TEMPERATURE":     float(func(c *Config) *float64 { return &c.AI.Temperature }),
	"AI_MAX_TOKENS":      integer(func(c *Config) *int { return &c.AI.MaxTokens }),
	"AI_CHAT_MAX_TOKENS": integer(func(c *Config) *int { return &c.AI.ChatMaxTokens }),
	"AI_MAX_RETRIES":     integer(func(c *Config) *int { return &c.AI.MaxRetries }),
	"AI_TIMEOUT":         duration(func(c *Config) *Duration { return &c.AI.Timeout }),

	"RELAY_ADDR":      str(func(c *Config) *string { return &c.Relay.Addr }),
	"REDIS_URL":       str(func(c *Config) *string { return &c.Relay.RedisURL }),
	"RELAY_BACKLOG":   integer(func(c *Config) *int { return &c.Relay.Backlog }),
	"RELAY_ADVERTISE": boolean(func(c *Config) *bool { return &c.Relay.Advertise }),
}

// EnvNames lists the recognized override variables.
func EnvNames() []string {
	names := make([]string, 0, len(envMapping))
	for k := range envMapping {
		names = append(names, EnvPrefix+k)
	}
	return names
}

// ApplyEnv applies KATALYST_* overrides found through lookup.
// Empty values are treated as set.
func ApplyEnv(c *Config, lookup func(string) (string, bool)) error {
	for name, set := range envMapping {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		if err := set(c, v); err != nil {
			return &EnvError{Name: EnvPrefix + name, Value: v, Err: err}
		}
	}
	return nil
}
