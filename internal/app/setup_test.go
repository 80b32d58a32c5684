package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dshills/katalyst/internal/ai"
	"github.com/dshills/katalyst/internal/config"
	"github.com/dshills/katalyst/internal/suggest"
)

func TestSuggestOptionsFromDefaults(t *testing.T) {
	if got := SuggestOptions(config.Default().Suggest); got != suggest.DefaultOptions() {
		t.Errorf("SuggestOptions(default) = %+v", got)
	}
}

func TestProviderOptions(t *testing.T) {
	cfg := config.Default().AI
	cfg.Timeout = config.Duration(5 * time.Second)
	lookup := func(k string) (string, bool) {
		if k == "GROQ_API_KEY" {
			return "gsk", true
		}
		return "", false
	}
	opts := ProviderOptions(cfg, lookup, nil)
	if opts.APIKey != "gsk" || opts.Provider != "groq" || opts.Retries != 2 || opts.Timeout != 5*time.Second {
		t.Errorf("opts = %+v", opts)
	}
}

func TestNewProviderMissingKey(t *testing.T) {
	cfg := config.Default().AI
	_, err := NewProvider(context.Background(), cfg, func(string) (string, bool) { return "", false }, nil)
	if !errors.Is(err, ai.ErrNoAPIKey) {
		t.Fatalf("err = %v", err)
	}
	var oe *OperationError
	if !errors.As(err, &oe) || oe.Context != "key from $GROQ_API_KEY" {
		t.Errorf("err = %v", err)
	}
}

func TestRelayURL(t *testing.T) {
	c := config.Default().Collab
	if _, err := RelayURL(context.Background(), c, nil); err == nil {
		t.Error("expected error with no relay and discovery off")
	}
	c.RelayURL = "ws://relay:8787"
	got, err := RelayURL(context.Background(), c, nil)
	if err != nil || got != "ws://relay:8787" {
		t.Errorf("RelayURL = %q, %v", got, err)
	}
	tr, err := NewTransport(context.Background(), c, nil)
	if err != nil {
		t.Fatal(err)
	}
	if u, _ := tr.RoomURL("r"); u != "ws://relay:8787/rooms/r" {
		t.Errorf("RoomURL = %q", u)
	}
}

func TestEditorConfigFrom(t *testing.T) {
	cfg := config.Default()
	cfg.Collab.Username = "Ada"
	ec := EditorConfigFrom(cfg, nil)
	if ec.Room != "playground" || ec.Identity.Name != "Ada" || ec.AwarenessTimeout != 30*time.Second {
		t.Errorf("EditorConfigFrom = %+v", ec)
	}
}

func TestOperationError(t *testing.T) {
	base := errors.New("boom")
	err := NewOperationError("join", "room-1", base).WithContext("retrying")
	if err.Error() != "join room-1 (retrying): boom" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, base) {
		t.Error("should unwrap")
	}
	var nilErr *OperationError
	if nilErr.WithContext("x") != nil || nilErr.Error() != "" {
		t.Error("nil receiver")
	}
	if opErr("x", "y", nil) != nil {
		t.Error("opErr(nil) should be nil")
	}
}
