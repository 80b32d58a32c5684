package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/dshills/katalyst/internal/ai"
	"github.com/dshills/katalyst/internal/app"
	"github.com/dshills/katalyst/internal/collab"
	"github.com/dshills/katalyst/internal/config"
	"github.com/dshills/katalyst/internal/text"
)

func runJoin(ctx context.Context, args []string) error {
	flags, common := newFlagSet("join", "[options] FILE")
	relay := flags.String("relay", "", "relay base URL (overrides collab.relay_url)")
	discover := flags.Bool("discover", false, "find a relay on the local network")
	room := flags.StringP("room", "r", "", "room to join")
	name := flags.StringP("name", "n", "", "display name (random when empty)")
	color := flags.String("color", "", "cursor color as #rrggbb (random when empty)")
	write := flags.BoolP("write", "w", false, "write the shared content back to FILE on exit")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		flags.Usage()
		return fmt.Errorf("join takes exactly one file")
	}
	file := flags.Arg(0)

	cfg, logger, err := common.load()
	if err != nil {
		return err
	}
	if *relay != "" {
		cfg.Collab.RelayURL = *relay
	}
	if *discover {
		cfg.Collab.Discover = true
	}
	if *room != "" {
		cfg.Collab.Room = *room
	}
	if *name != "" {
		cfg.Collab.Username = *name
	}
	if *color != "" {
		cfg.Collab.Color = *color
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	content := ""
	data, err := os.ReadFile(file)
	switch {
	case err == nil:
		content = string(data)
	case !errors.Is(err, fs.ErrNotExist):
		return err
	}

	tr, err := app.NewTransport(ctx, cfg.Collab, logger)
	if err != nil {
		return err
	}

	ec := app.EditorConfigFrom(cfg, logger)
	ec.Transport = tr
	provider, err := app.NewProvider(ctx, cfg.AI, os.LookupEnv, logger)
	if err != nil {
		logger.Warn("suggestions disabled", "error", err)
		ec.Service = ai.CompletionFunc(func(context.Context, string) (string, error) {
			return "", err
		})
	} else {
		defer provider.Close()
		ec.Service = provider
	}

	editor, err := app.NewEditor(ec)
	if err != nil {
		return err
	}
	defer editor.Close()

	editor.OnStatus(func(connected bool) {
		state := "disconnected"
		if connected {
			state = "connected"
		}
		fmt.Fprintf(os.Stderr, "[%s] %s\n", cfg.Collab.Room, state)
	})
	editor.OnParticipants(func(ps []collab.Participant) {
		fmt.Fprintf(os.Stderr, "[%s] %s\n", cfg.Collab.Room, roster(ps))
	})

	if err := editor.Open(file, content); err != nil {
		return err
	}
	if err := editor.SetCollaboration(ctx, true); err != nil {
		return err
	}

	if common.configPath != "" {
		w, err := config.Watch(ctx, common.configPath, func(c *config.Config, err error) {
			if err != nil {
				return
			}
			if err := editor.SetSuggestOptions(app.SuggestOptions(c.Suggest)); err != nil {
				logger.Warn("suggest options not applied", "error", err)
			}
		}, config.WithLogger(app.WithComponent(logger, "config")))
		if err != nil {
			logger.Warn("config reload disabled", "error", err)
		} else {
			defer w.Close()
		}
	}

	// Lines on stdin are appended to the shared document.
	lines := make(chan string)
	go func() {
		defer close(lines)
		in := bufio.NewScanner(os.Stdin)
		for in.Scan() {
			lines <- in.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return finish(editor, file, *write)
		case line, ok := <-lines:
			if !ok {
				<-ctx.Done()
				return finish(editor, file, *write)
			}
			cur := editor.Content()
			if err := editor.MoveCursor(text.OffsetToPosition(cur, text.Len(cur))); err != nil {
				return err
			}
			if err := editor.Type(line + "\n"); err != nil {
				return err
			}
		}
	}
}

func finish(editor *app.Editor, file string, write bool) error {
	if !write {
		return nil
	}
	return os.WriteFile(file, []byte(editor.Content()), 0o644)
}

func roster(ps []collab.Participant) string {
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = p.Name
		if p.Local {
			names[i] += " (you)"
		}
		if p.Cursor != nil {
			names[i] += " @" + p.Cursor.String()
		}
	}
	return fmt.Sprintf("%d online: %s", len(ps), strings.Join(names, ", "))
}
