package db

import (
	"context"
	"errors"
	"testing"
)

func TestRunChecks_AllHealthy(t *testing.T) {
	checks := []Check{
		{Name: "redis", Ping: func(context.Context) error { return nil }},
	}
	if failures := RunChecks(context.Background(), checks); len(failures) != 0 {
		t.Errorf("expected no failures, got %v", failures)
	}
}

func TestRunChecks_ReportsFailures(t *testing.T) {
	checks := []Check{
		{Name: "redis", Ping: func(context.Context) error { return errors.New("connection refused") }},
		{Name: "other", Ping: func(context.Context) error { return nil }},
	}
	failures := RunChecks(context.Background(), checks)
	if len(failures) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(failures))
	}
	if failures["redis"] != "connection refused" {
		t.Errorf("unexpected failure message: %q", failures["redis"])
	}
}

func TestPoolStats_UnhealthyState(t *testing.T) {
	stats := &PoolStats{MaxConns: 20, AcquireDuration: "0s"}
	if stats.Healthy {
		t.Error("expected zero-value stats to be unhealthy")
	}
}
