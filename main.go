package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flags "github.com/jessevdk/go-flags"

	"marketplace-client/internal/commands"
	"marketplace-client/internal/config"
	"marketplace-client/internal/logging"
)

var BuildVersion = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	rootCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	logger := logging.New(false)
	if err := logger.EnableFilePersistence(0); err != nil {
		logger.Warn("failed to enable file log persistence", logging.Field("error", err))
	}
	defer func() {
		_ = logger.Close()
	}()
	logger.Debug("starting marketplace client",
		logging.Field("version", BuildVersion),
		logging.Field("log_file", logger.LogFilePath()),
	)

	opts := config.Options{}
	parser := config.NewParser(&opts)
	err := commands.Register(parser, &commands.Env{
		Ctx:    rootCtx,
		Opts:   &opts,
		Logger: logger,
		Out:    os.Stdout,
		Prompt: commands.TerminalPrompt(os.Stdin, os.Stderr),
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	// The parser prints its own errors, including those returned by commands.
	if _, err := parser.Parse(); err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) {
			if flagErr.Type == flags.ErrHelp {
				return 0
			}
			return 2
		}
		return 1
	}
	return 0
}
