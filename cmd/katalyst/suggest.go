package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dshills/katalyst/internal/app"
	"github.com/dshills/katalyst/internal/suggest"
	"github.com/dshills/katalyst/internal/text"
)

func runSuggest(ctx context.Context, args []string) error {
	fs, common := newFlagSet("suggest", "[options] FILE")
	line := fs.IntP("line", "l", 0, "cursor line (0-based)")
	column := fs.IntP("column", "C", 0, "cursor column in UTF-16 units (0-based)")
	kind := fs.String("type", "", "suggestion type tag (default from config)")
	accept := fs.Bool("accept", false, "accept the suggestion and print the resulting file")
	write := fs.BoolP("write", "w", false, "with --accept, write the result back to FILE")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("suggest takes exactly one file")
	}
	file := fs.Arg(0)

	cfg, logger, err := common.load()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}

	provider, err := app.NewProvider(ctx, cfg.AI, os.LookupEnv, logger)
	if err != nil {
		return err
	}
	defer provider.Close()

	ec := app.EditorConfigFrom(cfg, logger)
	ec.Service = provider
	editor, err := app.NewEditor(ec)
	if err != nil {
		return err
	}
	defer editor.Close()

	if err := editor.Open(file, string(data)); err != nil {
		return err
	}
	if err := editor.MoveCursor(text.Pos(*line, *column)); err != nil {
		return err
	}
	if err := editor.Trigger(*kind); err != nil {
		return err
	}
	if err := waitSettled(ctx, editor, cfg.Suggest.RequestTimeout.Std()+time.Second); err != nil {
		return err
	}

	o, ok := editor.Overlay()
	if !ok {
		return fmt.Errorf("no suggestion at %s", text.Pos(*line, *column))
	}
	if !*accept {
		fmt.Println(o.Text)
		return nil
	}

	if accepted, err := editor.HandleTab(); err != nil || !accepted {
		return fmt.Errorf("suggestion could not be accepted: %v", err)
	}
	out := editor.Content()
	if *write {
		return os.WriteFile(file, []byte(out), 0o644)
	}
	fmt.Print(out)
	return nil
}

// waitSettled polls until the request is no longer in flight.
func waitSettled(ctx context.Context, e *app.Editor, limit time.Duration) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(limit)
	for e.SuggestionState() == suggest.StatePending {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("no response within %s", limit)
		case <-ticker.C:
		}
	}
	return nil
}
