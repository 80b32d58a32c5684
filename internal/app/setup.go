package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dshills/katalyst/internal/ai"
	"github.com/dshills/katalyst/internal/collab"
	"github.com/dshills/katalyst/internal/config"
	"github.com/dshills/katalyst/internal/discovery"
	"github.com/dshills/katalyst/internal/suggest"
	"github.com/dshills/katalyst/internal/transport"
)

// DiscoveryTimeout bounds the LAN search for a relay.
const DiscoveryTimeout = 3 * time.Second

// SuggestOptions converts the [suggest] section.
func SuggestOptions(c config.SuggestConfig) suggest.Options {
	return suggest.Options{
		MatchTolerance:  c.MatchTolerance,
		AcceptTolerance: c.AcceptTolerance,
		DriftTolerance:  c.DriftTolerance,
		IdleDelay:       c.IdleDelay.Std(),
		FastDelay:       c.FastDelay.Std(),
		Cooldown:        c.Cooldown.Std(),
		RequestTimeout:  c.RequestTimeout.Std(),
		HighSignal:      c.HighSignal,
		SuggestionType:  c.SuggestionType,
	}
}

// ProviderOptions converts the [ai] section. The API key is read
// through lookup from the variable the section names.
func ProviderOptions(c config.AIConfig, lookup func(string) (string, bool), logger *slog.Logger) ai.Options {
	return ai.Options{
		Provider:      c.Provider,
		Model:         c.Model,
		ChatModel:     c.ChatModel,
		APIKey:        c.APIKey(lookup),
		BaseURL:       c.BaseURL,
		Temperature:   c.Temperature,
		MaxTokens:     c.MaxTokens,
		ChatMaxTokens: c.ChatMaxTokens,
		Retries:       c.MaxRetries,
		Timeout:       c.Timeout.Std(),
		Logger:        WithComponent(logger, "ai"),
	}
}

// NewProvider creates the configured model provider.
func NewProvider(ctx context.Context, c config.AIConfig, lookup func(string) (string, bool), logger *slog.Logger) (ai.Provider, error) {
	p, err := ai.New(ctx, ProviderOptions(c, lookup, logger))
	if err != nil {
		if c.KeyEnv() != "" {
			return nil, NewOperationError("create provider", c.Provider, err).WithContext("key from $" + c.KeyEnv())
		}
		return nil, NewOperationError("create provider", c.Provider, err)
	}
	return p, nil
}

// Identity converts the [collab] identity fields. Empty fields are
// filled randomly when the session opens.
func Identity(c config.CollabConfig) collab.Identity {
	return collab.Identity{Name: c.Username, Color: c.Color}
}

// RelayURL returns the configured relay, or the first one found on the
// LAN when none is configured and discovery is enabled.
func RelayURL(ctx context.Context, c config.CollabConfig, logger *slog.Logger) (string, error) {
	if c.RelayURL != "" {
		return c.RelayURL, nil
	}
	if !c.Discover {
		return "", fmt.Errorf("no relay configured: set collab.relay_url or enable discovery")
	}
	ctx, cancel := context.WithTimeout(ctx, DiscoveryTimeout)
	defer cancel()
	relays, err := discovery.Browse(ctx)
	if err != nil {
		return "", NewOperationError("discover", "relay", err)
	}
	if len(relays) == 0 {
		return "", NewOperationError("discover", "relay", fmt.Errorf("none found within %s", DiscoveryTimeout))
	}
	WithComponent(logger, "discovery").Info("relay discovered", "instance", relays[0].Instance, "url", relays[0].URL)
	return relays[0].URL, nil
}

// NewTransport creates the websocket transport for the configured
// relay.
func NewTransport(ctx context.Context, c config.CollabConfig, logger *slog.Logger) (*transport.Websocket, error) {
	url, err := RelayURL(ctx, c, logger)
	if err != nil {
		return nil, err
	}
	return transport.NewWebsocket(url, transport.WebsocketOptions{
		MaxBackoff: c.ReconnectMax.Std(),
		Logger:     WithComponent(logger, "transport"),
	}), nil
}

// EditorConfigFrom fills an EditorConfig from cfg. Service, Transport
// and Loop are left for the caller.
func EditorConfigFrom(cfg *config.Config, logger *slog.Logger) EditorConfig {
	return EditorConfig{
		Suggest:          SuggestOptions(cfg.Suggest),
		Room:             cfg.Collab.Room,
		Identity:         Identity(cfg.Collab),
		AwarenessTimeout: cfg.Collab.AwarenessTimeout.Std(),
		AwarenessRenew:   cfg.Collab.AwarenessRenew.Std(),
		Logger:           logger,
	}
}
