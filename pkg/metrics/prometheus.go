// Package metrics exports scheduler and clock statistics to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/NavarchProject/tickfiber/pkg/fiber"
)

// StatsSource provides scheduler snapshots. *fiber.Scheduler implements it.
type StatsSource interface {
	Stats() fiber.Stats
}

// UptimeSource provides the extended tick count. *clock.Clock implements it.
type UptimeSource interface {
	Uptime() uint64
}

// PrometheusMetrics is a prometheus.Collector over a running scheduler.
// Scheduler state is sampled on every scrape.
type PrometheusMetrics struct {
	stats  StatsSource
	uptime UptimeSource

	turnsDesc       *prometheus.Desc
	idlesDesc       *prometheus.Desc
	completionsDesc *prometheus.Desc
	switchesDesc    *prometheus.Desc
	uptimeDesc      *prometheus.Desc

	fibersTotal *prometheus.GaugeVec
	fiberState  *prometheus.GaugeVec
	stackUsed   *prometheus.GaugeVec
	stackSize   *prometheus.GaugeVec

	timerFirings  *prometheus.CounterVec
	missedPeriods *prometheus.CounterVec
}

// NewPrometheusMetrics creates a collector for stats. uptime may be nil.
func NewPrometheusMetrics(stats StatsSource, uptime UptimeSource) *PrometheusMetrics {
	return &PrometheusMetrics{
		stats:  stats,
		uptime: uptime,
		turnsDesc: prometheus.NewDesc(
			"tickfiber_scheduler_turns_total",
			"Total number of scheduling turns taken",
			nil, nil,
		),
		idlesDesc: prometheus.NewDesc(
			"tickfiber_scheduler_idle_total",
			"Total number of steps that found no ready fiber",
			nil, nil,
		),
		completionsDesc: prometheus.NewDesc(
			"tickfiber_scheduler_completions_total",
			"Total number of fibers that finished",
			nil, nil,
		),
		switchesDesc: prometheus.NewDesc(
			"tickfiber_fiber_switches_total",
			"Total number of times each fiber was resumed",
			[]string{"fiber"}, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"tickfiber_clock_uptime_ticks",
			"Ticks since the clock was created, including counter wraps",
			nil, nil,
		),
		fibersTotal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tickfiber_fibers",
				Help: "Number of fibers by state",
			},
			[]string{"state"},
		),
		fiberState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tickfiber_fiber_state",
				Help: "Current state of each fiber (1 for the active state)",
			},
			[]string{"fiber", "state"},
		),
		stackUsed: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tickfiber_fiber_stack_used_words",
				Help: "Stack high watermark of each stackful fiber in words",
			},
			[]string{"fiber"},
		),
		stackSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tickfiber_fiber_stack_size_words",
				Help: "Stack size of each stackful fiber in words",
			},
			[]string{"fiber"},
		),
		timerFirings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickfiber_timer_firings_total",
				Help: "Total number of periodic timer firings by timer",
			},
			[]string{"timer"},
		),
		missedPeriods: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickfiber_timer_missed_periods_total",
				Help: "Total number of periods skipped because a timer was polled late",
			},
			[]string{"timer"},
		),
	}
}

// Describe implements prometheus.Collector.
func (pm *PrometheusMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- pm.turnsDesc
	ch <- pm.idlesDesc
	ch <- pm.completionsDesc
	ch <- pm.switchesDesc
	if pm.uptime != nil {
		ch <- pm.uptimeDesc
	}
	pm.fibersTotal.Describe(ch)
	pm.fiberState.Describe(ch)
	pm.stackUsed.Describe(ch)
	pm.stackSize.Describe(ch)
	pm.timerFirings.Describe(ch)
	pm.missedPeriods.Describe(ch)
}

// Collect implements prometheus.Collector and samples the scheduler.
func (pm *PrometheusMetrics) Collect(ch chan<- prometheus.Metric) {
	st := pm.stats.Stats()

	ch <- prometheus.MustNewConstMetric(pm.turnsDesc, prometheus.CounterValue, float64(st.Turns))
	ch <- prometheus.MustNewConstMetric(pm.idlesDesc, prometheus.CounterValue, float64(st.Idles))
	ch <- prometheus.MustNewConstMetric(pm.completionsDesc, prometheus.CounterValue, float64(st.Completions))
	for _, f := range st.Fibers {
		ch <- prometheus.MustNewConstMetric(pm.switchesDesc, prometheus.CounterValue, float64(f.Switches), f.Name)
	}
	if pm.uptime != nil {
		ch <- prometheus.MustNewConstMetric(pm.uptimeDesc, prometheus.CounterValue, float64(pm.uptime.Uptime()))
	}

	pm.collectFiberMetrics(st)

	pm.fibersTotal.Collect(ch)
	pm.fiberState.Collect(ch)
	pm.stackUsed.Collect(ch)
	pm.stackSize.Collect(ch)
	pm.timerFirings.Collect(ch)
	pm.missedPeriods.Collect(ch)
}

func (pm *PrometheusMetrics) collectFiberMetrics(st fiber.Stats) {
	pm.fibersTotal.Reset()
	pm.fibersTotal.WithLabelValues(fiber.Ready.String()).Set(float64(st.Ready))
	pm.fibersTotal.WithLabelValues(fiber.Blocked.String()).Set(float64(st.Blocked))
	pm.fibersTotal.WithLabelValues(fiber.Done.String()).Set(float64(st.Done))

	pm.fiberState.Reset()
	pm.stackUsed.Reset()
	pm.stackSize.Reset()
	for _, f := range st.Fibers {
		pm.fiberState.WithLabelValues(f.Name, f.State.String()).Set(1)
		if f.Stackless {
			continue
		}
		pm.stackUsed.WithLabelValues(f.Name).Set(float64(f.StackUsed))
		pm.stackSize.WithLabelValues(f.Name).Set(float64(f.StackSize))
	}
}

// RecordTimerFiring counts one firing of a periodic timer that accounted for
// periods elapsed periods.
func (pm *PrometheusMetrics) RecordTimerFiring(timer string, periods uint32) {
	pm.timerFirings.WithLabelValues(timer).Inc()
	if periods > 1 {
		pm.missedPeriods.WithLabelValues(timer).Add(float64(periods - 1))
	}
}
