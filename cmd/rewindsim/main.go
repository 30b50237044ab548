// Command rewindsim runs a headless rewind simulation: a player and a
// crowd of short-lived wanderers are recorded while a scenario previews,
// commits, auto-rewinds and resets history
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd, err := NewRootCommand()
	if err == nil {
		err = cmd.ExecuteContext(ctx)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// NewRootCommand creates the rewindsim command. Flag defaults come from
// the environment
func NewRootCommand() (*cobra.Command, error) {
	opts, err := ParseOptions()
	if err != nil {
		return nil, err
	}

	cmd := &cobra.Command{
		Use:   "rewindsim",
		Short: "Run a headless time-rewind simulation",
		Long: `Run a headless time-rewind simulation.

A persistent player and a crowd of wanderers with finite lifetimes are
recorded into a rolling history. A YAML scenario schedules previews, seeks,
commits, auto-rewinds and history resets. Discarded frames can be archived
to bbolt, Redis and PostgreSQL.

Example:
  rewindsim --duration 20 --wanderers 16
  rewindsim --scenario ./scenario.yaml --bolt ./frames.db --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), *opts, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.Float64Var(&opts.Retention, "retention", opts.Retention,
		"seconds of history to retain")
	flags.Float64Var(&opts.SampleInterval, "interval", opts.SampleInterval,
		"seconds between recorded frames")
	flags.Float64Var(&opts.ScrubRate, "scrub-rate", opts.ScrubRate,
		"history seconds scrubbed per game second")
	flags.Float64Var(&opts.Duration, "duration", opts.Duration,
		"seconds to simulate (defaults to the scenario's duration)")
	flags.Float64Var(&opts.Step, "step", opts.Step,
		"fixed simulation step in seconds")
	flags.IntVar(&opts.Wanderers, "wanderers", opts.Wanderers,
		"maximum number of wanderers alive at once")
	flags.Uint64Var(&opts.Seed, "seed", opts.Seed, "random walk seed")
	flags.StringVar(&opts.Scenario, "scenario", opts.Scenario,
		"path to a YAML scenario")
	flags.StringVar(&opts.BoltPath, "bolt", opts.BoltPath,
		"archive discarded frames to this bbolt file")
	flags.StringVar(&opts.RedisAddr, "redis", opts.RedisAddr,
		"archive discarded frames to this Redis server")
	flags.StringVar(&opts.PostgresURL, "postgres", opts.PostgresURL,
		"archive discarded frames to this PostgreSQL database")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", opts.Verbose,
		"enable debug logging")

	return cmd, nil
}

func run(ctx context.Context, opts Options, out io.Writer) error {
	log, err := newLogger(opts.Verbose)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	sc, err := opts.LoadScenario()
	if err != nil {
		return err
	}

	archiver, closeArchiver, err := opts.OpenArchiver(ctx, log)
	if err != nil {
		return err
	}
	defer closeArchiver()

	sim, err := NewSimulation(opts, sc, log, archiver)
	if err != nil {
		return err
	}
	sum, err := sim.Run(ctx)
	if err != nil {
		return err
	}
	return sim.WriteSummary(out, sum)
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
