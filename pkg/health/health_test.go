package health

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"erpmigrate/internal/connection"
	"erpmigrate/pkg/circuitbreaker"
)

type staticChecker struct {
	name string
	err  error
}

func (c staticChecker) Name() string { return c.name }

func (c staticChecker) Check(context.Context) error { return c.err }

type staticConnections connection.HealthReport

func (s staticConnections) HealthCheck(context.Context) connection.HealthReport {
	return connection.HealthReport(s)
}

func TestRegistryStatus(t *testing.T) {
	tests := []struct {
		name     string
		checkers []Checker
		want     Status
	}{
		{"all healthy", []Checker{staticChecker{name: "a"}, staticChecker{name: "b"}}, StatusHealthy},
		{"one degraded", []Checker{staticChecker{name: "a"}, staticChecker{name: "b", err: Degraded("slow")}}, StatusDegraded},
		{"unhealthy wins", []Checker{
			staticChecker{name: "a", err: Degraded("slow")},
			staticChecker{name: "b", err: fmt.Errorf("down")},
		}, StatusUnhealthy},
		{"empty", nil, StatusHealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewCheckerRegistry()
			for _, c := range tt.checkers {
				reg.Register(c)
			}
			h := reg.Check(context.Background())
			assert.Equal(t, tt.want, h.Status)
			assert.Len(t, h.Checks, len(tt.checkers))
		})
	}
}

func TestConnectionsChecker(t *testing.T) {
	reg := NewCheckerRegistry()
	reg.Register(NewConnectionsChecker(staticConnections{Overall: connection.OverallDegraded, Reachable: 1, Total: 2}))
	h := reg.Check(context.Background())
	assert.Equal(t, StatusDegraded, h.Status)
	assert.Equal(t, "1 of 2 connections reachable", h.Checks["erp_connections"].Message)

	down := NewConnectionsChecker(staticConnections{Overall: connection.OverallDown, Total: 3})
	assert.EqualError(t, down.Check(context.Background()), "no connection reachable (3 configured)")

	none := NewConnectionsChecker(staticConnections{Overall: connection.OverallNoConnections})
	assert.NoError(t, none.Check(context.Background()))
}

func TestBreakerChecker(t *testing.T) {
	b := circuitbreaker.New(circuitbreaker.Config{Name: "rfc-prod", FailureThreshold: 1})
	checker := NewBreakerChecker(b)
	assert.NoError(t, checker.Check(context.Background()))

	_, _ = b.Execute(context.Background(), func(context.Context) (interface{}, error) {
		return nil, fmt.Errorf("boom")
	})
	err := checker.Check(context.Background())
	var degraded *DegradedError
	assert.ErrorAs(t, err, &degraded)
	assert.Contains(t, degraded.Reason, "rfc-prod")
}
