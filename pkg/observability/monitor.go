package observability

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// Monitor runs the health checker's probes on a schedule and publishes the
// results to the DependencyUp gauge, so readiness scrapes and dashboards
// read recent state instead of fanning out to every dependency.
type Monitor struct {
	checker *HealthChecker
	metrics *Metrics
	logger  *Logger
	cron    *cron.Cron
	timeout time.Duration
}

// NewMonitor creates a monitor over the given checker. Schedule is a cron
// expression; an empty string defaults to every minute.
func NewMonitor(checker *HealthChecker, metrics *Metrics, logger *Logger, schedule string) (*Monitor, error) {
	if schedule == "" {
		schedule = "@every 1m"
	}

	m := &Monitor{
		checker: checker,
		metrics: metrics,
		logger:  logger.WithComponent("monitor"),
		cron:    cron.New(),
		timeout: 10 * time.Second,
	}

	if _, err := m.cron.AddFunc(schedule, m.runOnce); err != nil {
		return nil, err
	}

	return m, nil
}

// Start begins scheduled probing. An immediate first pass runs so the
// gauges are populated before the first cron tick.
func (m *Monitor) Start() {
	go m.runOnce()
	m.cron.Start()
}

// Stop halts scheduled probing, waiting for an in-flight run to finish.
func (m *Monitor) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
}

func (m *Monitor) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	status := m.checker.Check(ctx)
	for name, dep := range status.Dependencies {
		up := 0.0
		if dep.Status == StatusHealthy {
			up = 1.0
		} else {
			m.logger.WithField("dependency", name).Warnf("dependency unhealthy: %s", dep.Message)
		}
		m.metrics.DependencyUp.WithLabelValues(name).Set(up)
	}
}
