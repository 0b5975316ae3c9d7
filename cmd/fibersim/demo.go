package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/NavarchProject/tickfiber/pkg/clock"
	"github.com/NavarchProject/tickfiber/pkg/config"
	"github.com/NavarchProject/tickfiber/pkg/fiber"
	"github.com/NavarchProject/tickfiber/pkg/metrics"
	"github.com/NavarchProject/tickfiber/pkg/timer"
)

var (
	demoDuration time.Duration
	metricsAddr  string
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run blinking fibers on the wall clock",
	Long: `Run two blinking LED fibers and a heartbeat on a real tick clock.

The clock is driven from wall time at the configured resolution. With
--metrics-addr (or metrics.enabled in the config) the scheduler is exported
for Prometheus on /metrics.`,
	Args: cobra.NoArgs,
	RunE: runDemo,
}

func init() {
	demoCmd.Flags().DurationVar(&demoDuration, "duration", 3*time.Second, "How long to run (0 = until interrupted)")
	demoCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve metrics on this address")
}

func runDemo(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !verbose && !debug && configPath == "" {
		verbose = true
	}
	logger := setupLogger(cfg)

	ctx, cancel := signalContext(logger)
	defer cancel()
	if demoDuration > 0 {
		ctx, cancel = context.WithTimeout(ctx, demoDuration)
		defer cancel()
	}

	clk := clock.NewWithResolution(cfg.Clock.Resolution.Duration())
	driver := clock.NewDriver(clk, cfg.Clock.DriverInterval.Duration())
	driver.Start(ctx)
	defer driver.Stop()

	sched := fiber.NewScheduler(clk, fiber.WithLogger(logger))
	defer sched.Close()

	pm := metrics.NewPrometheusMetrics(sched, clk)
	reg := prometheus.NewRegistry()
	if err := reg.Register(pm); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	if err := spawnDemoFibers(sched, clk, pm, cfg, logger); err != nil {
		return err
	}

	addr := metricsAddr
	if addr == "" && cfg.Metrics.Enabled {
		addr = cfg.Metrics.Address
	}
	if addr != "" {
		srv := &http.Server{
			Addr:    addr,
			Handler: h2c.NewHandler(newMetricsMux(reg), &http2.Server{}),
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", slog.String("error", err.Error()))
				cancel()
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("error shutting down metrics server", slog.String("error", err.Error()))
			}
		}()
		logger.Info("serving metrics", slog.String("addr", addr))
	}

	err = sched.Run(ctx)
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
	case err != nil:
		return err
	}

	st := sched.Stats()
	logger.Info("demo done",
		slog.Uint64("turns", st.Turns),
		slog.Uint64("uptime_ticks", clk.Uptime()),
	)
	return nil
}

func spawnDemoFibers(sched *fiber.Scheduler, clk *clock.Clock, pm *metrics.PrometheusMetrics, cfg *config.Config, logger *slog.Logger) error {
	blink := func(name string, period time.Duration) func() {
		return func() {
			on := false
			for {
				on = !on
				logger.Info("led toggled", slog.String("led", name), slog.Bool("on", on))
				pm.RecordTimerFiring(name, 1)
				sched.Sleep(period)
			}
		}
	}

	leds := []struct {
		name   string
		period time.Duration
	}{
		{"led-green", 500 * time.Millisecond},
		{"led-red", 1200 * time.Millisecond},
	}
	for _, led := range leds {
		if _, err := sched.Spawn(led.name, fiber.MakeStack(cfg.Scheduler.StackWords), blink(led.name, led.period)); err != nil {
			return err
		}
	}

	heartbeat := func() {
		p := timer.NewPeriodicTimer(clk, time.Second)
		for {
			var n uint32
			sched.WaitUntil(func() bool {
				n = p.Poll()
				return n > 0
			})
			pm.RecordTimerFiring("heartbeat", n)
			logger.Info("heartbeat tick",
				slog.Duration("uptime", clock.Duration(clk, int64(clk.Uptime()))),
				slog.Uint64("turns", sched.Turns()),
			)
		}
	}
	_, err := sched.Spawn("heartbeat", fiber.MakeStack(cfg.Scheduler.StackWords), heartbeat)
	return err
}

func newMetricsMux(reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", healthzHandler)
	return mux
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
