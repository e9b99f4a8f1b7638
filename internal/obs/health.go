package obs

import (
	"context"

	"github.com/dria-labs/hnswdb/internal/kv"
)

// CheckResult is the outcome of a single named health check.
type CheckResult struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message"`
}

// HealthStatus is the aggregate result returned by HealthChecker.Check.
type HealthStatus struct {
	Status string                  `json:"status"`
	Checks map[string]*CheckResult `json:"checks"`
}

// HealthChecker probes the underlying KV store, the one dependency
// whose unavailability should fail health checks: every other failure
// the Engine can produce is a validation error, not an outage.
type HealthChecker struct {
	store kv.Store
}

// NewHealthChecker builds a HealthChecker over store.
func NewHealthChecker(store kv.Store) *HealthChecker {
	return &HealthChecker{store: store}
}

// Check verifies the KV store answers a trivial read.
func (hc *HealthChecker) Check(ctx context.Context) (*HealthStatus, error) {
	_, _, err := hc.store.Get(ctx, []byte("__hnswdb_health__"))
	if err != nil {
		return &HealthStatus{
			Status: "unhealthy",
			Checks: map[string]*CheckResult{
				"kv": {Healthy: false, Message: err.Error()},
			},
		}, nil
	}
	return &HealthStatus{
		Status: "healthy",
		Checks: map[string]*CheckResult{
			"kv": {Healthy: true, Message: "storage reachable"},
		},
	}, nil
}
