package cron

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/forestcarbon-backend/pkg/logger"
	"github.com/angelmondragon/forestcarbon-backend/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

type fakeLock struct {
	held       bool
	acquireErr error
	releases   int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.acquireErr != nil {
		return false, f.acquireErr
	}
	if f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.held = false
	f.releases++
	return nil
}

type testJob struct {
	name string
	err  error
	runs int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	return t.err
}

type fakeRecorder struct {
	runs map[string]time.Time
}

func (f *fakeRecorder) RecordRun(_ context.Context, job string, at time.Time) error {
	if f.runs == nil {
		f.runs = map[string]time.Time{}
	}
	f.runs[job] = at
	return nil
}

func (f *fakeRecorder) LastRun(_ context.Context, job string) (time.Time, bool, error) {
	at, ok := f.runs[job]
	return at, ok, nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard})
}

func TestRunOnceRunsAllJobsEvenOnFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	success := &testJob{name: "success"}
	failure := &testJob{name: "fail", err: errors.New("boom")}
	lock := &fakeLock{}
	recorder := &fakeRecorder{}
	service, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: NewRegistry(success, failure),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(reg),
		Recorder: recorder,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	fixed := time.Date(2025, time.June, 1, 2, 0, 0, 0, time.UTC)
	service.now = func() time.Time { return fixed }

	if err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if success.runs != 1 || failure.runs != 1 {
		t.Fatalf("expected each job to run once, got success=%d fail=%d", success.runs, failure.runs)
	}
	if lock.held || lock.releases != 1 {
		t.Fatalf("expected lock released once, held=%v releases=%d", lock.held, lock.releases)
	}
	if at, ok := recorder.runs["success"]; !ok || !at.Equal(fixed) {
		t.Fatalf("expected success run recorded at %s, got %v", fixed, recorder.runs)
	}
	if _, ok := recorder.runs["fail"]; ok {
		t.Fatalf("failed job must not be recorded")
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if got := counterValue(mfs, "cron_job_runs_total", map[string]string{"job": "fail", "result": "failure"}); got != 1 {
		t.Fatalf("expected one failure, got %f", got)
	}
	if got := counterValue(mfs, "cron_job_runs_total", map[string]string{"job": "success", "result": "success"}); got != 1 {
		t.Fatalf("expected one success, got %f", got)
	}
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	job := &testJob{name: "sweep"}
	service, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: NewRegistry(job),
		Lock:     &fakeLock{held: true},
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if job.runs != 0 {
		t.Fatalf("expected no runs while another worker holds the lock, got %d", job.runs)
	}
}

func TestRunOnceReturnsLockErrors(t *testing.T) {
	service, err := NewService(ServiceParams{
		Logger: testLogger(),
		Lock:   &fakeLock{acquireErr: errors.New("redis down")},
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if err := service.RunOnce(context.Background()); err == nil {
		t.Fatal("expected lock error")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	job := &testJob{name: "sweep"}
	service, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: NewRegistry(job),
		Lock:     &fakeLock{},
		Interval: time.Hour,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := service.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if job.runs != 1 {
		t.Fatalf("expected the initial cycle to run once, got %d", job.runs)
	}
}

func TestNewServiceRequiresLoggerAndLock(t *testing.T) {
	if _, err := NewService(ServiceParams{Lock: &fakeLock{}}); err == nil {
		t.Fatal("expected logger error")
	}
	if _, err := NewService(ServiceParams{Logger: testLogger()}); err == nil {
		t.Fatal("expected lock error")
	}
}

func counterValue(mfs []*dto.MetricFamily, name string, labels map[string]string) float64 {
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if hasLabels(metric.GetLabel(), labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func hasLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	matched := 0
	for _, pair := range pairs {
		if value, ok := want[pair.GetName()]; ok && value == pair.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}

func TestRunJobLogsPreviousRun(t *testing.T) {
	var buf bytes.Buffer
	job := &testJob{name: "credit-expiry"}
	recorder := &fakeRecorder{}
	service, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "cron-test", Format: logger.FormatJSON, Output: &buf}),
		Registry: NewRegistry(job),
		Lock:     &fakeLock{},
		Recorder: recorder,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	first := time.Date(2025, time.June, 1, 2, 0, 0, 0, time.UTC)
	service.now = func() time.Time { return first }
	if err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if strings.Contains(buf.String(), "last_run_at") {
		t.Fatalf("first run has no previous run to report: %s", buf.String())
	}

	buf.Reset()
	service.now = func() time.Time { return first.Add(24 * time.Hour) }
	if err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !strings.Contains(buf.String(), `"last_run_at":"2025-06-01T02:00:00Z"`) {
		t.Fatalf("expected previous run in job log, got %s", buf.String())
	}
	if at := recorder.runs["credit-expiry"]; !at.Equal(first.Add(24 * time.Hour)) {
		t.Fatalf("expected run recorded at next cycle, got %s", at)
	}
}
