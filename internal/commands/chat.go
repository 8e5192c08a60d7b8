package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"marketplace-client/internal/api"
	"marketplace-client/internal/app"
	"marketplace-client/internal/logging"
	"marketplace-client/internal/ui/chatview"
)

type conversationArgs struct {
	ItemID int64  `long:"item" required:"true" description:"Listing the conversation is about"`
	With   string `long:"with" required:"true" description:"Email of the other participant"`
}

type historyCommand struct {
	conversationArgs

	env *Env
}

func (c *historyCommand) Execute(_ []string) error {
	return c.env.withSession(app.Callbacks{}, func(ctx context.Context, a *app.MarketplaceApp) error {
		messages, err := a.History(ctx, c.ItemID, c.With)
		if err != nil {
			return err
		}
		if len(messages) == 0 {
			c.env.printf("No messages with %s about listing #%d\n", c.With, c.ItemID)
			return nil
		}
		identity := a.Session().Identity()
		for _, msg := range messages {
			c.env.printf("%s\n", historyLine(msg, identity))
		}
		return nil
	})
}

func historyLine(msg api.ChatMessage, identity string) string {
	sender := msg.SenderID
	if strings.EqualFold(strings.TrimSpace(sender), strings.TrimSpace(identity)) {
		sender = "you"
	}
	if stamp := strings.TrimSpace(msg.Timestamp); stamp != "" {
		return fmt.Sprintf("[%s] %s: %s", stamp, sender, msg.Content)
	}
	return fmt.Sprintf("%s: %s", sender, msg.Content)
}

type chatCommand struct {
	conversationArgs

	env *Env
}

func (c *chatCommand) Execute(_ []string) error {
	ended := make(chan error, 1)
	hooks := app.Callbacks{
		OnSessionEnded: func(err error) {
			select {
			case ended <- err:
			default:
			}
		},
	}
	return c.env.withSession(hooks, func(ctx context.Context, a *app.MarketplaceApp) error {
		history, err := a.History(ctx, c.ItemID, c.With)
		if err != nil {
			c.env.Logger.Warn("failed to load chat history", logging.Field("error", err))
		}

		watchCtx, stopWatch := context.WithCancel(ctx)
		defer stopWatch()
		go func() {
			if err := a.WatchSession(watchCtx); err != nil && !errors.Is(err, context.Canceled) {
				c.env.Logger.Warn("session watch stopped", logging.Field("error", err))
			}
		}()

		if err := a.ConnectChat(); err != nil {
			return err
		}
		// log lines would tear the full-screen view; the file sink still has them
		c.env.Logger.SetTerminalOutputEnabled(false)
		defer c.env.Logger.SetTerminalOutputEnabled(true)
		err = chatview.Run(ctx, a, chatview.Options{
			Identity:    a.Session().Identity(),
			Counterpart: strings.TrimSpace(c.With),
			ItemID:      c.ItemID,
			History:     history,
			Ended:       ended,
			Logger:      c.env.Logger,
		})
		if err != nil {
			return fmt.Errorf("chat ended: %w", err)
		}
		return nil
	})
}
