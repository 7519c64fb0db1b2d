// Package platform defines the container-platform collaborators the
// monitoring pipeline depends on. Implementations live in subpackages;
// the default adapter talks to a local Docker engine.
package platform

import (
	"context"

	"github.com/stackwatch/stackwatch-ai/internal/models"
)

// Metric types tracked per container.
const (
	MetricCPUPercent    = "cpu_percent"
	MetricMemoryPercent = "memory_percent"
	MetricRestartCount  = "restart_count"
)

// Health states reported by the platform.
const (
	HealthHealthy   = "healthy"
	HealthUnhealthy = "unhealthy"
	HealthStarting  = "starting"
)

// Resource is a container as seen during a monitoring cycle.
type Resource struct {
	EndpointID   int    `json:"endpoint_id"`
	ID           string `json:"id"`
	Name         string `json:"name"`
	Image        string `json:"image"`
	State        string `json:"state"`  // running, exited, restarting, ...
	Status       string `json:"status"` // human-readable, e.g. "Up 3 hours (healthy)"
	Health       string `json:"health"` // healthy, unhealthy, starting; empty without a healthcheck
	RestartCount int    `json:"restart_count"`
	OOMKilled    bool   `json:"oom_killed"`
	ExitCode     int    `json:"exit_code"`
}

// SampleSource provides metric samples and rolling statistics per resource.
type SampleSource interface {
	// ListResources enumerates the containers to evaluate this cycle.
	ListResources(ctx context.Context) ([]Resource, error)

	// Observe takes a fresh reading for a resource and appends it to the
	// rolling window of each tracked metric type.
	Observe(ctx context.Context, res Resource) error

	// LatestMetrics returns up to limit of the most recent samples for a
	// resource metric, oldest first. Unknown resources yield an empty slice.
	LatestMetrics(ctx context.Context, resourceID, metricType string, limit int) ([]models.MetricSample, error)

	// MovingAverage returns mean, standard deviation, and sample count over
	// the trailing window. Returns nil when no samples exist for the
	// resource and metric.
	MovingAverage(ctx context.Context, resourceID, metricType string, window int) (*models.MetricStats, error)
}

// LogSource fetches recent log output for evidence gathering.
type LogSource interface {
	// RecentLogs returns up to tailLines of recent output for a resource.
	RecentLogs(ctx context.Context, resourceID string, tailLines int) (string, error)
}

// ContainerOps executes remediation operations against the platform.
type ContainerOps interface {
	RestartContainer(ctx context.Context, endpointID int, resourceID string) error
	StopContainer(ctx context.Context, endpointID int, resourceID string) error
	StartContainer(ctx context.Context, endpointID int, resourceID string) error
}
