package main

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/NavarchProject/tickfiber/pkg/clock"
	"github.com/NavarchProject/tickfiber/pkg/fiber"
	"github.com/NavarchProject/tickfiber/pkg/metrics"
	"github.com/NavarchProject/tickfiber/pkg/simulator"
)

func TestMetricsMux(t *testing.T) {
	clk := clock.NewFake()
	sched := fiber.NewScheduler(clk)
	defer sched.Close()

	pm := metrics.NewPrometheusMetrics(sched, clk)
	reg := prometheus.NewRegistry()
	if err := reg.Register(pm); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	pm.RecordTimerFiring("led", 1)

	mux := newMetricsMux(reg)

	t.Run("healthz_returns_ok", func(t *testing.T) {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
		if w.Code != http.StatusOK {
			t.Errorf("Expected status 200, got %d", w.Code)
		}
		if w.Body.String() != "ok" {
			t.Errorf("Expected body 'ok', got '%s'", w.Body.String())
		}
	})

	t.Run("metrics_exposes_firings", func(t *testing.T) {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", w.Code)
		}
		if !strings.Contains(w.Body.String(), `tickfiber_timer_firings_total{timer="led"} 1`) {
			t.Errorf("metrics output missing led firing:\n%s", w.Body.String())
		}
	})
}

func TestWriteHistoryTable(t *testing.T) {
	var buf bytes.Buffer
	err := writeHistoryTable(&buf, []simulator.HistoryEntry{
		{RunID: "run-1", Scenario: "blink", Seed: 7, StartedAt: time.Now(), SimulatedTime: time.Second, Turns: 100, Passed: true},
		{RunID: "run-2", Scenario: "overflow", Error: "stack overflow"},
	})
	if err != nil {
		t.Fatalf("writeHistoryTable() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{"run-1", "blink", "PASS", "run-2", "FAIL", "stack overflow"} {
		if !strings.Contains(out, want) {
			t.Errorf("table does not contain %q:\n%s", want, out)
		}
	}
}

func TestConsoleHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewConsoleHandler(&buf, slog.LevelInfo)).With(slog.String("component", "scheduler"))

	logger.Debug("hidden")
	logger.Info("fiber done", slog.String("fiber", "led"), slog.Duration("after", 250*time.Millisecond), slog.String("empty", ""))
	logger.WithGroup("stack").Warn("overflow", slog.Int("used", 64), slog.String("reason", "reserve past guard"))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug record written at info level:\n%s", out)
	}
	for _, want := range []string{
		"✅ fiber done (component=scheduler, fiber=led, after=250ms)",
		`stack.used=64`,
		`stack.reason="reserve past guard"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output does not contain %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "empty=") {
		t.Errorf("empty string attribute was written:\n%s", out)
	}
}

func TestTeeHandler(t *testing.T) {
	var info, dbg bytes.Buffer
	logger := slog.New(newTeeHandler(
		NewConsoleHandler(&info, slog.LevelInfo),
		slog.NewTextHandler(&dbg, &slog.HandlerOptions{Level: slog.LevelDebug}),
	)).With(slog.String("component", "simulator"))

	logger.Debug("executing event", slog.String("action", "stall"))
	logger.Info("scenario completed")

	if strings.Contains(info.String(), "executing event") {
		t.Errorf("info handler received a debug record:\n%s", info.String())
	}
	if !strings.Contains(info.String(), "scenario completed") {
		t.Errorf("info handler missing record:\n%s", info.String())
	}
	for _, want := range []string{"executing event", "action=stall", "scenario completed", "component=simulator"} {
		if !strings.Contains(dbg.String(), want) {
			t.Errorf("debug handler output does not contain %q:\n%s", want, dbg.String())
		}
	}
}
