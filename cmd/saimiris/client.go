package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/malbeclabs/saimiris/internal/bus"
	"github.com/malbeclabs/saimiris/internal/clientcli"
	"github.com/malbeclabs/saimiris/internal/config"
)

func newClientCmd(verbose *bool) *cobra.Command {
	var (
		configPath    string
		probesFile    string
		measurementID string
	)

	cmd := &cobra.Command{
		Use:   "client --config <path> [--probes-file <path>] [--measurement-id <id>] <agents>",
		Short: "Submit an ad hoc measurement onto an agent's inbound stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if probesFile == "" && isatty.IsTerminal(os.Stdin.Fd()) {
				cmd.Help()
				cmd.SilenceUsage = true
				cmd.SilenceErrors = true
				return errNoProbesProvided
			}

			log := newLogger(*verbose)

			agents, err := clientcli.ParseAgentList(args[0])
			if err != nil {
				return err
			}

			probesSrc, err := openProbesSource(probesFile)
			if err != nil {
				return err
			}
			defer probesSrc.Close()

			probes, err := clientcli.ParseProbeCSV(probesSrc)
			if err != nil {
				return fmt.Errorf("parsing probes: %w", err)
			}

			kafkaCfg, err := config.LoadKafka(configPath)
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}

			publisher, err := bus.NewProbePublisher(*kafkaCfg, bus.WithClientPublisherLogger(log))
			if err != nil {
				return fmt.Errorf("creating publisher: %w", err)
			}
			defer publisher.Close()

			ctx := cmd.Context()
			if err := clientcli.Publish(ctx, publisher, agents, probes, measurementID); err != nil {
				return err
			}

			log.Info("measurement submitted", "measurement_id", measurementID, "agents", len(agents), "probes", len(probes))
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to the client's YAML configuration file")
	cmd.Flags().StringVar(&probesFile, "probes-file", "", "CSV file of probes to submit (defaults to stdin)")
	cmd.Flags().StringVar(&measurementID, "measurement-id", "", "identifier used for progress reporting")
	return cmd
}

// errNoProbesProvided signals the help-and-exit path: no --probes-file
// was given and stdin isn't piped, so there's nothing to submit. The
// help text has already been printed; this only drives the exit code.
var errNoProbesProvided = errors.New("")

type probesSource struct {
	io.Reader
	close func() error
}

func (s probesSource) Close() error { return s.close() }

func openProbesSource(path string) (probesSource, error) {
	if path == "" {
		return probesSource{Reader: os.Stdin, close: func() error { return nil }}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return probesSource{}, fmt.Errorf("opening probes file %q: %w", path, err)
	}
	return probesSource{Reader: f, close: f.Close}, nil
}
