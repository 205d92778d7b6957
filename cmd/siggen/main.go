// siggen writes the demo signal the dashboard watches, one JSON record per
// line.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"signal-insights/internal/generator"
)

var version = "dev"

type options struct {
	stream   bool
	interval float64
	duration float64
	outfile  string
	seed     uint64
}

func main() {
	var opts options
	cmd := &cobra.Command{
		Use:   "siggen",
		Short: "Generate sliding-window JSON lines from a signal",
		Long: `siggen writes a 5 Hz sine with gaussian noise as JSON lines.

By default it slides a 200 sample window over a two second, 1 kHz signal and
writes the last sample of each window every 50 ms. With --stream it produces
samples in real time until --duration has elapsed or it is interrupted.`,
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
		SilenceUsage: true,
	}
	flags := cmd.Flags()
	flags.BoolVar(&opts.stream, "stream", false, "Enable continuous streaming")
	flags.Float64Var(&opts.interval, "interval", 0.05, "Output interval in seconds")
	flags.Float64Var(&opts.duration, "duration", 0, "Total streaming duration in seconds (stream mode only, 0 for infinite)")
	flags.StringVar(&opts.outfile, "outfile", "output.jsonl", "Output file path")
	flags.Uint64Var(&opts.seed, "seed", 0, "Noise seed (0 picks one from the clock)")

	if err := fang.Execute(context.Background(), cmd); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if opts.interval <= 0 {
		return fmt.Errorf("--interval must be positive, got %g", opts.interval)
	}
	if opts.duration < 0 {
		return fmt.Errorf("--duration must not be negative, got %g", opts.duration)
	}
	seed := opts.seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	f, err := os.Create(opts.outfile)
	if err != nil {
		return fmt.Errorf("opening %s: %w", opts.outfile, err)
	}
	defer f.Close()

	interval := time.Duration(opts.interval * float64(time.Second))
	if opts.stream {
		_, err = generator.Stream(ctx, f, generator.StreamConfig{
			Interval: interval,
			Duration: time.Duration(opts.duration * float64(time.Second)),
			FreqHz:   generator.DefaultFreqHz,
			NoiseStd: generator.DefaultNoiseStd,
			Seed:     seed,
		})
	} else {
		_, err = generator.Batch(ctx, f, generator.BatchConfig{Interval: interval, Seed: seed})
	}
	if err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", opts.outfile, err)
	}
	fmt.Printf("saved json lines to %s\n", opts.outfile)
	return nil
}
