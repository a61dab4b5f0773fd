package main

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	runBackend   string
	runFrames    int
	runUnits     int
	runFPS       float64
	runWorkers   int
	runDeferred  bool
	runFailAfter uint64
	runJSON      bool
)

func init() {
	cmd := newRunCmd()
	cmd.Flags().StringVarP(&runBackend, "backend", "b", "", "Backend to render with (see framesim backends)")
	cmd.Flags().IntVarP(&runFrames, "frames", "n", 0, "Frames to render, 0 runs until interrupted")
	cmd.Flags().IntVarP(&runUnits, "units", "u", 0, "Render units committed per frame")
	cmd.Flags().Float64Var(&runFPS, "fps", 0, "Frame rate limit, 0 is unpaced")
	cmd.Flags().IntVarP(&runWorkers, "workers", "w", 0, "Recording workers, 0 uses GOMAXPROCS")
	cmd.Flags().BoolVar(&runDeferred, "deferred", false, "Render with the deferred pass")
	cmd.Flags().Uint64Var(&runFailAfter, "fail-after", 0, "Lose the simulated device after N frames")
	cmd.Flags().BoolVar(&runJSON, "json", false, "Print the summary as JSON")
	rootCmd.AddCommand(cmd)
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Render frames and print statistics",
		Long: `The run command commits render units from the worker pool every frame and
renders them until the frame count is reached or the process is interrupted.
Flags override the configuration file.

Example:
  framesim run -n 600 --fps 120
  framesim run -b noop -u 4096 --deferred
  framesim run -c framesim.yaml --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRun(cmd)
		},
	}
}

func runRun(cmd *cobra.Command) error {
	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Backend = runBackend
	}
	if flags.Changed("frames") {
		cfg.Run.Frames = runFrames
	}
	if flags.Changed("units") {
		cfg.Run.Units = runUnits
	}
	if flags.Changed("fps") {
		cfg.Run.FPS = runFPS
	}
	if flags.Changed("workers") {
		cfg.Renderer.Workers = runWorkers
	}
	if flags.Changed("fail-after") {
		cfg.GPU.FailAfter = runFailAfter
	}
	if runDeferred {
		cfg.Renderer.Passes = []string{"deferred"}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sum, err := simulate(ctx, cfg)
	out := cmd.OutOrStdout()
	if runJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if jerr := enc.Encode(sum); jerr != nil && err == nil {
			err = jerr
		}
	} else {
		fmt.Fprintln(out, sum)
		if sum.Device != "" {
			fmt.Fprintln(out, sum.Device)
		}
	}
	return err
}
