package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dshills/katalyst/internal/ai"
	"github.com/dshills/katalyst/internal/app"
)

func runChat(ctx context.Context, args []string) error {
	fs, common := newFlagSet("chat", "[options]")
	system := fs.String("system", ai.DefaultSystemPrompt, "system prompt")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, logger, err := common.load()
	if err != nil {
		return err
	}
	provider, err := app.NewProvider(ctx, cfg.AI, os.LookupEnv, logger)
	if err != nil {
		return err
	}
	defer provider.Close()

	conv := ai.NewConversation(provider, *system)
	log := app.WithComponent(logger, "chat")

	fmt.Fprintf(os.Stderr, "Chatting with %s. Type /reset to clear history, Ctrl-D to quit.\n", provider.Name())
	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(os.Stderr, "> ")
		if !in.Scan() {
			return in.Err()
		}
		msg := strings.TrimSpace(in.Text())
		switch msg {
		case "":
			continue
		case "/reset":
			conv.Reset()
			continue
		}

		reply, err := conv.Send(ctx, msg)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("chat request failed", "error", err)
		}
		fmt.Println(reply)
	}
}
