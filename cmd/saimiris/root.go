package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:   "saimiris",
		Short: "Distributed ICMP/UDP probing agent and client",
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "set debug logging level")

	root.AddCommand(newAgentCmd(&verbose), newClientCmd(&verbose))
	return root
}

// newLogger selects a human-readable tint handler when stderr is a
// terminal and a structured JSON handler otherwise, matching the
// console-vs-service logging split used throughout the rest of the
// fleet's command-line tools.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	if isatty.IsTerminal(os.Stderr.Fd()) {
		return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.RFC3339,
		}))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
