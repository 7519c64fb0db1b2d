// Package dockeradapter implements the platform interfaces against a
// Docker engine. It collects container metrics into in-memory rolling
// windows, exposes log tails, and performs lifecycle operations.
package dockeradapter

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"go.uber.org/zap"

	"github.com/stackwatch/stackwatch-ai/internal/models"
	"github.com/stackwatch/stackwatch-ai/internal/platform"
)

const (
	defaultWindowCapacity = 240
	defaultTimeout        = 15 * time.Second
)

// Config holds the adapter settings.
type Config struct {
	// EndpointID identifies this engine in action requests.
	EndpointID int
	// Host overrides the engine address. Empty means environment
	// discovery (DOCKER_HOST or the default socket).
	Host string
	// RequestTimeout bounds each engine API call.
	RequestTimeout time.Duration
	// WindowCapacity is the number of samples retained per resource
	// and metric type.
	WindowCapacity int
}

// Adapter talks to a single Docker engine. It implements
// platform.SampleSource, platform.LogSource, and platform.ContainerOps.
type Adapter struct {
	cli        *client.Client
	endpointID int
	timeout    time.Duration
	samples    *sampleStore
	logger     *zap.Logger
}

// New connects to the Docker engine and negotiates the API version.
func New(cfg Config, logger *zap.Logger) (*Adapter, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	capacity := cfg.WindowCapacity
	if capacity <= 0 {
		capacity = defaultWindowCapacity
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Adapter{
		cli:        cli,
		endpointID: cfg.EndpointID,
		timeout:    timeout,
		samples:    newSampleStore(capacity),
		logger:     logger,
	}, nil
}

// Ping verifies the engine is reachable.
func (a *Adapter) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if _, err := a.cli.Ping(ctx); err != nil {
		return fmt.Errorf("ping docker engine: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (a *Adapter) Close() error {
	return a.cli.Close()
}

// ─────────────────────────── sample source ───────────────────────────

// ListResources enumerates all containers, enriched with health and
// restart state from inspect. Series for containers that no longer
// exist are dropped.
func (a *Adapter) ListResources(ctx context.Context) ([]platform.Resource, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	containers, err := a.cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	resources := make([]platform.Resource, 0, len(containers))
	active := make(map[string]bool, len(containers))
	for _, c := range containers {
		res := platform.Resource{
			EndpointID: a.endpointID,
			ID:         c.ID,
			Image:      c.Image,
			State:      c.State,
			Status:     c.Status,
		}
		if len(c.Names) > 0 {
			res.Name = strings.TrimPrefix(c.Names[0], "/")
		}

		// Health, restart count, and OOM state only appear on inspect.
		inspect, ierr := a.cli.ContainerInspect(ctx, c.ID)
		if ierr != nil {
			a.logger.Warn("container inspect failed",
				zap.String("container_id", c.ID),
				zap.Error(ierr))
		} else {
			res.RestartCount = inspect.RestartCount
			if inspect.State != nil {
				res.OOMKilled = inspect.State.OOMKilled
				res.ExitCode = inspect.State.ExitCode
				if inspect.State.Health != nil {
					res.Health = inspect.State.Health.Status
				}
			}
		}

		active[c.ID] = true
		resources = append(resources, res)
	}

	a.samples.prune(active)
	return resources, nil
}

// Observe takes a one-shot stats reading for the resource and appends
// cpu, memory, and restart-count samples to its rolling windows.
func (a *Adapter) Observe(ctx context.Context, res platform.Resource) error {
	now := time.Now().UTC()
	a.samples.add(res.ID, platform.MetricRestartCount, float64(res.RestartCount), now)

	// Stats are only meaningful for running containers.
	if res.State != "running" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	stats, err := a.cli.ContainerStats(ctx, res.ID, false)
	if err != nil {
		return fmt.Errorf("container stats %s: %w", res.ID, err)
	}
	defer stats.Body.Close()

	var v container.StatsResponse
	if err := json.NewDecoder(stats.Body).Decode(&v); err != nil {
		return fmt.Errorf("decode stats %s: %w", res.ID, err)
	}

	a.samples.add(res.ID, platform.MetricCPUPercent, cpuPercent(&v), now)
	if v.MemoryStats.Limit > 0 {
		memPct := float64(v.MemoryStats.Usage) / float64(v.MemoryStats.Limit) * 100.0
		a.samples.add(res.ID, platform.MetricMemoryPercent, memPct, now)
	}
	return nil
}

// LatestMetrics returns up to limit of the newest samples, oldest first.
func (a *Adapter) LatestMetrics(ctx context.Context, resourceID, metricType string, limit int) ([]models.MetricSample, error) {
	return a.samples.latest(resourceID, metricType, limit), nil
}

// MovingAverage returns mean and standard deviation over the trailing
// window, or nil when no samples exist.
func (a *Adapter) MovingAverage(ctx context.Context, resourceID, metricType string, window int) (*models.MetricStats, error) {
	return a.samples.stats(resourceID, metricType, window), nil
}

// cpuPercent follows the docker stats formula: usage delta over system
// delta, scaled by the CPU count.
func cpuPercent(v *container.StatsResponse) float64 {
	cpuDelta := float64(v.CPUStats.CPUUsage.TotalUsage) - float64(v.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(v.CPUStats.SystemUsage) - float64(v.PreCPUStats.SystemUsage)

	numCPU := float64(v.CPUStats.OnlineCPUs)
	if numCPU == 0 {
		numCPU = float64(len(v.CPUStats.CPUUsage.PercpuUsage))
	}

	if systemDelta > 0 && cpuDelta > 0 {
		return (cpuDelta / systemDelta) * numCPU * 100.0
	}
	return 0.0
}

// ──────────────────────────── log source ─────────────────────────────

// RecentLogs fetches the last tailLines lines of stdout and stderr.
func (a *Adapter) RecentLogs(ctx context.Context, resourceID string, tailLines int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	rc, err := a.cli.ContainerLogs(ctx, resourceID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Timestamps: true,
		Tail:       strconv.Itoa(tailLines),
	})
	if err != nil {
		return "", fmt.Errorf("container logs %s: %w", resourceID, err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("read logs %s: %w", resourceID, err)
	}
	return string(demuxLogStream(raw)), nil
}

// demuxLogStream strips the 8-byte frame headers the engine prepends
// when the container runs without a TTY. Output that does not start
// with a valid header is returned verbatim.
func demuxLogStream(raw []byte) []byte {
	var out bytes.Buffer
	rest := raw
	for len(rest) >= 8 {
		// header: [stream type, 0, 0, 0, len uint32 big endian]
		if rest[0] > 2 || rest[1] != 0 || rest[2] != 0 || rest[3] != 0 {
			// Not multiplexed (TTY container); keep the raw bytes.
			return raw
		}
		frameLen := int(binary.BigEndian.Uint32(rest[4:8]))
		rest = rest[8:]
		if frameLen > len(rest) {
			frameLen = len(rest)
		}
		out.Write(rest[:frameLen])
		rest = rest[frameLen:]
	}
	out.Write(rest)
	return out.Bytes()
}

// ─────────────────────────── container ops ───────────────────────────

func (a *Adapter) checkEndpoint(endpointID int) error {
	if endpointID != a.endpointID {
		return fmt.Errorf("unknown endpoint %d", endpointID)
	}
	return nil
}

// RestartContainer restarts the container with the engine default
// stop timeout.
func (a *Adapter) RestartContainer(ctx context.Context, endpointID int, resourceID string) error {
	if err := a.checkEndpoint(endpointID); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if err := a.cli.ContainerRestart(ctx, resourceID, container.StopOptions{}); err != nil {
		return fmt.Errorf("restart container %s: %w", resourceID, err)
	}
	return nil
}

// StopContainer stops the container.
func (a *Adapter) StopContainer(ctx context.Context, endpointID int, resourceID string) error {
	if err := a.checkEndpoint(endpointID); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if err := a.cli.ContainerStop(ctx, resourceID, container.StopOptions{}); err != nil {
		return fmt.Errorf("stop container %s: %w", resourceID, err)
	}
	return nil
}

// StartContainer starts a stopped container.
func (a *Adapter) StartContainer(ctx context.Context, endpointID int, resourceID string) error {
	if err := a.checkEndpoint(endpointID); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if err := a.cli.ContainerStart(ctx, resourceID, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container %s: %w", resourceID, err)
	}
	return nil
}
