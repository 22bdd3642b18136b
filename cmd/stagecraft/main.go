package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stagecraft/stagecraft/cmd/stagecraft/commands"
	"github.com/stagecraft/stagecraft/pkg/engine"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	// Console logger for output emitted before the command builds the
	// real telemetry stack.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// A single interrupt cancels the context; the orchestrator finishes
	// the in-flight persistence write and reports the run interrupted.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Warn().Msg("Interrupt received, stopping after the current step")
		cancel()
	}()

	if err := commands.Execute(ctx, Version, Commit, BuildDate); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(engine.ExitCode(err))
	}
}
