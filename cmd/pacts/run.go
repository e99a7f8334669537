package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"pacts/internal/discovery"
	"pacts/internal/driver"
	"pacts/internal/executor"
	"pacts/internal/healer"
	"pacts/internal/hitl"
	"pacts/internal/plan"
	"pacts/internal/run"
	"pacts/internal/selectorcache"
	"pacts/internal/store"
	"pacts/internal/telemetry"
)

func newRunCmd() *cobra.Command {
	var (
		targetURL string
		headless  bool
	)

	cmd := &cobra.Command{
		Use:   "run --url <origin> <requirement-file>...",
		Short: "Execute requirement files against a target origin",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if targetURL == "" {
				return fmt.Errorf("--url is required")
			}
			if cmd.Flags().Changed("headless") {
				cfg.Browser.Headless = headless
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sink := telemetry.NewSink(logger)

			db, err := store.Open(cfg.Cache.Path)
			if err != nil {
				return err
			}
			defer db.Close()

			cache := selectorcache.New(selectorcache.Config{
				FastTTL:          cfg.FastTTL(),
				DurableTTL:       cfg.DurableTTL(),
				AllowIDCache:     cfg.Cache.AllowIDCache,
				AllowUnstableHit: cfg.Cache.AllowUnstableHit,
				BypassOrigins:    cfg.Cache.BypassFormCacheFor,
			}, db, sink)

			// Each file is one run with its own browser; the cache, store,
			// and sink are the only shared state.
			var failures atomic.Int64
			g, gctx := errgroup.WithContext(ctx)
			for _, path := range args {
				path := path
				g.Go(func() error {
					st, err := runFile(gctx, path, targetURL, cache, db, sink)
					if err != nil {
						return err
					}
					fmt.Printf("%s: %s\n", path, st.FormatVerdict())
					if st.Verdict != run.VerdictPass {
						failures.Add(1)
					}
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			if n := failures.Load(); n > 0 {
				return fmt.Errorf("%d of %d runs did not pass", n, len(args))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&targetURL, "url", "", "origin to run against")
	cmd.Flags().BoolVar(&headless, "headless", true, "run the browser headless")
	return cmd
}

// runFile wires one run: parse the requirement, build the per-run stack,
// and drive the coordinator to a verdict.
func runFile(ctx context.Context, path, url string, cache *selectorcache.Cache, db *store.Store, sink *telemetry.Sink) (*run.State, error) {
	req, err := plan.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	intents := plan.NormalizeSteps(req.Steps)

	drv := driver.New(driver.Config{
		Headless:            cfg.Browser.Headless,
		Bin:                 cfg.Browser.Bin,
		DebuggerURL:         cfg.Browser.DebuggerURL,
		ViewportWidth:       cfg.Browser.ViewportWidth,
		ViewportHeight:      cfg.Browser.ViewportHeight,
		NavigationTimeoutMs: cfg.Browser.NavigationTimeoutMs,
		ActionTimeoutMs:     cfg.Browser.ActionTimeoutMs,
	}, logger)

	disc := discovery.NewEngine(drv, cache, discovery.Config{
		Budget:        cfg.DiscoveryTimeout(),
		DecayPerRound: cfg.Discovery.DecayPerRound,
		LabelFirst:    cfg.Discovery.LabelFirstDiscovery,
	}, sink, &discovery.ComboboxPlugin{})

	exec := executor.New(drv, disc, cache, executor.Config{
		ScreenshotDir:    cfg.Artifacts.ScreenshotDir,
		ReadinessWait:    durationMs(cfg.Browser.ReadinessWaitMs),
		SPAReadinessWait: durationMs(cfg.Browser.SPAReadinessWaitMs),
		SPAMarkers:       cfg.Browser.SPAMarkers,
		ActionTimeout:    cfg.ActionTimeout(),
	}, sink)

	heal := healer.New(drv, cache, exec, healer.Config{
		MaxHealRounds: cfg.Healing.MaxHealRounds,
	}, sink)

	bridge := hitl.New(hitl.Config{
		Timeout:      cfg.HITLTimeout(),
		PollInterval: durationMs(cfg.HITL.PollIntervalMs),
		EnvVar:       cfg.HITL.EnvVar,
		ContentFile:  cfg.HITL.ContentFile,
		PresenceFile: cfg.HITL.PresenceFile,
	}, sink)

	coord := run.New(run.Config{
		MaxHealRounds:    cfg.Healing.MaxHealRounds,
		SessionStatePath: cfg.Browser.SessionStatePath,
		ArtifactDir:      cfg.Artifacts.Dir,
		HITLTimeout:      cfg.HITLTimeout(),
	}, run.Deps{
		Driver:   drv,
		Executor: exec,
		Healer:   heal,
		HITL:     bridge,
		Blocked: discovery.NewSignatureDetector(
			cfg.Discovery.BlockedURLSubstrings,
			cfg.Discovery.BlockedDOMSelectors),
		Store: db,
		Sink:  sink,
	})

	return coord.Run(ctx, req.Scenario, url, intents)
}
