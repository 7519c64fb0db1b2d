package dockeradapter

import (
	"math"
	"strings"
	"sync"
	"time"

	"github.com/stackwatch/stackwatch-ai/internal/models"
)

// sampleRing is a fixed-capacity circular buffer of metric samples.
type sampleRing struct {
	data     []models.MetricSample
	head     int
	size     int
	capacity int
}

func newSampleRing(capacity int) *sampleRing {
	return &sampleRing{
		data:     make([]models.MetricSample, capacity),
		capacity: capacity,
	}
}

func (rb *sampleRing) push(s models.MetricSample) {
	idx := (rb.head + rb.size) % rb.capacity
	rb.data[idx] = s
	if rb.size < rb.capacity {
		rb.size++
	} else {
		rb.head = (rb.head + 1) % rb.capacity
	}
}

// tail returns up to limit of the newest samples in chronological order.
// limit <= 0 returns everything.
func (rb *sampleRing) tail(limit int) []models.MetricSample {
	n := rb.size
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.MetricSample, n)
	start := rb.size - n
	for i := 0; i < n; i++ {
		out[i] = rb.data[(rb.head+start+i)%rb.capacity]
	}
	return out
}

// sampleStore keeps rolling metric windows per resource and metric type.
type sampleStore struct {
	mu sync.RWMutex
	// key = resourceID + ":" + metricType
	series   map[string]*sampleRing
	capacity int
}

func newSampleStore(capacity int) *sampleStore {
	return &sampleStore{
		series:   make(map[string]*sampleRing),
		capacity: capacity,
	}
}

func key(resourceID, metricType string) string {
	return resourceID + ":" + metricType
}

func (s *sampleStore) add(resourceID, metricType string, value float64, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(resourceID, metricType)
	rb, ok := s.series[k]
	if !ok {
		rb = newSampleRing(s.capacity)
		s.series[k] = rb
	}
	rb.push(models.MetricSample{
		ResourceID: resourceID,
		MetricType: metricType,
		Value:      value,
		Timestamp:  ts,
	})
}

func (s *sampleStore) latest(resourceID, metricType string, limit int) []models.MetricSample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rb, ok := s.series[key(resourceID, metricType)]
	if !ok {
		return nil
	}
	return rb.tail(limit)
}

// stats computes mean and population standard deviation over the trailing
// window. Returns nil when no samples exist for the resource and metric.
func (s *sampleStore) stats(resourceID, metricType string, window int) *models.MetricStats {
	s.mu.RLock()
	rb, ok := s.series[key(resourceID, metricType)]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	samples := rb.tail(window)
	if len(samples) == 0 {
		return nil
	}

	sum := 0.0
	for _, sm := range samples {
		sum += sm.Value
	}
	mean := sum / float64(len(samples))

	variance := 0.0
	for _, sm := range samples {
		variance += (sm.Value - mean) * (sm.Value - mean)
	}
	variance /= float64(len(samples))

	return &models.MetricStats{
		Mean:        mean,
		StdDev:      math.Sqrt(variance),
		SampleCount: len(samples),
	}
}

// prune drops series for resources no longer present on the platform.
func (s *sampleStore) prune(active map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.series {
		resourceID := k
		if i := strings.LastIndex(k, ":"); i >= 0 {
			resourceID = k[:i]
		}
		if !active[resourceID] {
			delete(s.series, k)
		}
	}
}
