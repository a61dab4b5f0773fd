package main

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/gogpu/gpuframe"
	"github.com/gogpu/gpuframe/backend"
	"github.com/gogpu/gpuframe/internal/config"
	"github.com/gogpu/gpuframe/internal/simgpu"
	"github.com/gogpu/gpuframe/renderer"
)

// progressInterval is how often a running simulation logs progress.
const progressInterval = time.Second

// Summary is the result of a simulation run.
type Summary struct {
	Backend  string        `json:"backend"`
	Frames   uint64        `json:"frames"`
	Units    uint64        `json:"units"`
	Draws    uint64        `json:"draws"`
	Skipped  uint64        `json:"skipped"`
	Elapsed  time.Duration `json:"elapsed"`
	AvgFrame time.Duration `json:"avg_frame"`
	MaxFrame time.Duration `json:"max_frame"`
	Device   string        `json:"device,omitempty"`
}

// String returns a human-readable summary.
func (s Summary) String() string {
	fps := 0.0
	if s.Elapsed > 0 {
		fps = float64(s.Frames) / s.Elapsed.Seconds()
	}
	return fmt.Sprintf("%s: %d frames in %v (%.1f fps), %d units, %d draws, %d skipped, avg %v, max %v",
		s.Backend, s.Frames, s.Elapsed.Round(time.Millisecond), fps, s.Units, s.Draws, s.Skipped,
		s.AvgFrame.Round(time.Microsecond), s.MaxFrame.Round(time.Microsecond))
}

// openBackend opens the configured backend. The simulated device takes its
// fault and budget settings from the configuration.
func openBackend(c config.Config) (backend.Backend, error) {
	if c.Backend == backend.BackendSim {
		var opts []simgpu.Option
		if c.GPU.FailAfter > 0 {
			opts = append(opts, simgpu.WithFailAfter(c.GPU.FailAfter))
		}
		if c.GPU.HeapBudget > 0 {
			opts = append(opts, simgpu.WithHeapBudget(c.GPU.HeapBudget))
		}
		bc := c.BackendConfig()
		b, err := simgpu.Open(bc, opts...)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return backend.Open(c.Backend, c.BackendConfig())
}

// simulate renders c.Run.Frames frames, or until ctx is done.
func simulate(ctx context.Context, c config.Config) (sum Summary, err error) {
	b, err := openBackend(c)
	if err != nil {
		return sum, err
	}
	defer func() {
		if cerr := b.Close(); err == nil {
			err = cerr
		}
	}()
	sum.Backend = b.Name()

	sc, err := newScene(b)
	if err != nil {
		return sum, err
	}
	defer sc.release()

	r := renderer.New(b.Device(), b.SwapChain(), c.RendererOptions()...)
	for _, p := range c.PassTypes() {
		if err := r.AddRenderPass(p); err != nil {
			return sum, err
		}
	}
	if err := r.Start(); err != nil {
		return sum, err
	}

	limit := rate.Inf
	if c.Run.FPS > 0 {
		limit = rate.Limit(c.Run.FPS)
	}
	limiter := rate.NewLimiter(limit, 1)

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	start := time.Now()

	g.Go(func() error {
		defer close(done)
		return renderLoop(gctx, r, sc, limiter, c.Run, &sum)
	})
	g.Go(func() error {
		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return nil
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				gpuframe.Logger().Info("framesim: progress",
					"frame", r.CurrentFrame(), "last", r.LastFrameStats().String())
			}
		}
	})
	err = g.Wait()
	sum.Elapsed = time.Since(start)
	if sum.Frames > 0 {
		sum.AvgFrame = sum.Elapsed / time.Duration(sum.Frames)
	}
	if dev, ok := b.Device().(*simgpu.Device); ok {
		sum.Device = dev.Stats().String()
	}

	if serr := r.ShutDown(); err == nil {
		err = serr
	}
	return sum, err
}

func renderLoop(ctx context.Context, r *renderer.Renderer, sc *scene, limiter *rate.Limiter, run config.RunConfig, sum *Summary) error {
	for run.Frames == 0 || sum.Frames < uint64(run.Frames) {
		if err := limiter.Wait(ctx); err != nil {
			// Cancellation ends an unbounded run normally.
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := r.Parallel(run.Units, func(worker, i int) {
			u := renderer.NewRenderUnit()
			defer u.Reset()
			sc.build(u, i)
			_, _ = r.CommitRenderUnitFrom(worker, u)
		}); err != nil {
			return err
		}
		if err := r.Render(); err != nil {
			return err
		}

		st := r.LastFrameStats()
		sum.Frames++
		sum.Units += uint64(st.Units)
		sum.Draws += uint64(st.Draws)
		sum.Skipped += uint64(st.Skipped)
		sum.MaxFrame = max(sum.MaxFrame, st.Duration)
	}
	return nil
}
