package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/autostack/cmd/autostack/commands"
	"github.com/openfroyo/autostack/pkg/engine"
)

// Set through -ldflags at release time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// exitCancelled matches the shell convention for SIGINT.
const exitCancelled = 130

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	// Cancelling the context interrupts the engine, which then has a grace
	// period to release the stack lock before it is killed.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := commands.Execute(ctx, Version, Commit, BuildDate)
	stop()

	if err == nil {
		return
	}
	log.Error().Err(err).Str("code", engine.CodeOf(err)).Msg("autostack failed")
	if engine.CodeOf(err) == engine.CodeCancelled || errors.Is(err, context.Canceled) {
		os.Exit(exitCancelled)
	}
	os.Exit(1)
}
