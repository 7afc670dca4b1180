package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCronMetricsRecordRunsAndCycles(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronMetrics(reg)
	job := "escrow-reconcile"

	m.ObserveRun(job, 250*time.Millisecond, nil)
	m.ObserveRun(job, time.Second, errors.New("ledger drift"))
	m.ObserveCycle(CycleRan)
	m.ObserveCycle(CycleSkipped)
	m.ObserveCycle(CycleSkipped)

	if got := sample(t, reg, "noretmy_cron_job_runs_total", map[string]string{"job": job, "outcome": OutcomeSuccess}).GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected one success, got %v", got)
	}
	if got := sample(t, reg, "noretmy_cron_job_runs_total", map[string]string{"job": job, "outcome": OutcomeFailure}).GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected one failure, got %v", got)
	}
	h := sample(t, reg, "noretmy_cron_job_duration_seconds", map[string]string{"job": job}).GetHistogram()
	if h.GetSampleCount() != 2 || h.GetSampleSum() < 1.25 {
		t.Fatalf("unexpected duration histogram %+v", h)
	}
	if ts := sample(t, reg, "noretmy_cron_job_last_success_timestamp_seconds", map[string]string{"job": job}).GetGauge().GetValue(); ts <= 0 {
		t.Fatalf("expected last success timestamp, got %v", ts)
	}
	if got := sample(t, reg, "noretmy_cron_cycles_total", map[string]string{"result": CycleSkipped}).GetCounter().GetValue(); got != 2 {
		t.Fatalf("expected two skipped cycles, got %v", got)
	}
}

func TestNilCronMetricsAreNoops(t *testing.T) {
	var m *CronMetrics
	m.ObserveRun("escrow-reconcile", time.Second, nil)
	m.ObserveCycle(CycleRan)

	if NewCronMetrics(nil) != nil {
		t.Fatalf("expected nil metrics without a registerer")
	}
}

func TestEmptyLabelsRecordAsUnknown(t *testing.T) {
	reg := prometheus.NewRegistry()
	cron := NewCronMetrics(reg)
	escrow := NewEscrowMetrics(reg)

	cron.ObserveRun("", time.Millisecond, nil)
	escrow.ObserveCapture("", OutcomeSuccess)

	if got := sample(t, reg, "noretmy_cron_job_runs_total", map[string]string{"job": "unknown"}).GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected unnamed job as unknown, got %v", got)
	}
	if got := sample(t, reg, "noretmy_milestone_captures_total", map[string]string{"stage": "unknown"}).GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected unnamed stage as unknown, got %v", got)
	}
}
