// Package commands binds the go-flags subcommands to the application.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	flags "github.com/jessevdk/go-flags"

	"marketplace-client/internal/app"
	"marketplace-client/internal/config"
	"marketplace-client/internal/logging"
	"marketplace-client/internal/session"
)

const shutdownTimeout = 3 * time.Second

var errSignedOut = errors.New("not signed in; run the login command first")

type BuildFunc func(ctx context.Context, opts config.Options, logger *logging.Logger, hooks app.Callbacks) (*app.MarketplaceApp, error)

// Env is what every subcommand shares once the global options are parsed.
type Env struct {
	Ctx    context.Context
	Opts   *config.Options
	Logger *logging.Logger
	Out    io.Writer
	Prompt PromptFunc
	Build  BuildFunc
}

// Register attaches all subcommands to parser. Debug output follows the
// parsed --debug flag before any command runs.
func Register(parser *flags.Parser, env *Env) error {
	if env == nil || env.Logger == nil || env.Opts == nil {
		panic("commands.Register: env with options and logger is required")
	}
	if env.Ctx == nil {
		env.Ctx = context.Background()
	}
	if env.Build == nil {
		env.Build = app.Build
	}

	subcommands := []struct {
		name  string
		short string
		long  string
		data  any
	}{
		{"login", "Sign in", "Sign in with email and password and persist the session.", &loginCommand{env: env}},
		{"register", "Create an account", "Register a new account and sign in with it.", &registerCommand{env: env}},
		{"logout", "Sign out", "Invalidate the refresh cookie and remove the persisted session.", &logoutCommand{env: env}},
		{"refresh", "Renew the access token", "Exchange the refresh cookie for a new access token.", &refreshCommand{env: env}},
		{"status", "Show the persisted session", "Print who is signed in and when the access token expires.", &statusCommand{env: env}},
		{"forgot-password", "Request a reset link", "Ask the server to email a password reset link.", &forgotPasswordCommand{env: env}},
		{"reset-password", "Set a new password", "Validate a reset link and set a new password.", &resetPasswordCommand{env: env}},
		{"history", "Print a conversation", "Print the stored messages about a listing with another user.", &historyCommand{env: env}},
		{"chat", "Open the live chat", "Connect to the message broker and chat about a listing.", &chatCommand{env: env}},
	}
	for _, sc := range subcommands {
		if _, err := parser.AddCommand(sc.name, sc.short, sc.long, sc.data); err != nil {
			return fmt.Errorf("register %s command: %w", sc.name, err)
		}
	}
	parser.CommandHandler = func(cmd flags.Commander, args []string) error {
		env.Logger.SetDebugEnabled(env.Opts.Debug)
		if cmd == nil {
			return nil
		}
		return cmd.Execute(args)
	}
	return nil
}

// withApp builds the application, runs fn and shuts the chat connection down
// afterwards.
func (e *Env) withApp(hooks app.Callbacks, fn func(ctx context.Context, a *app.MarketplaceApp) error) error {
	a, err := e.Build(e.Ctx, *e.Opts, e.Logger, hooks)
	if err != nil {
		return err
	}
	defer func() {
		if !a.Close(shutdownTimeout) {
			e.Logger.Warn("chat connection did not stop in time")
		}
	}()
	return fn(e.Ctx, a)
}

// withSession is withApp for commands that need a signed-in user; an expired
// persisted token is refreshed first.
func (e *Env) withSession(hooks app.Callbacks, fn func(ctx context.Context, a *app.MarketplaceApp) error) error {
	return e.withApp(hooks, func(ctx context.Context, a *app.MarketplaceApp) error {
		if err := a.Start(ctx); err != nil {
			return err
		}
		if !a.Session().IsAuthenticated() {
			return errSignedOut
		}
		return fn(ctx, a)
	})
}

func (e *Env) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(e.Out, format, args...)
}

// promptIfEmpty returns value, or asks for it when it is blank.
func (e *Env) promptIfEmpty(value string, label string, secret bool) (string, error) {
	if value != "" {
		return value, nil
	}
	if e.Prompt == nil {
		return "", fmt.Errorf("%s is required", label)
	}
	return e.Prompt(label, secret)
}

func formatExpiry(s session.Snapshot) string {
	if s.ExpiresAt.IsZero() {
		return "unknown"
	}
	return s.ExpiresAt.Local().Format(time.DateTime)
}
