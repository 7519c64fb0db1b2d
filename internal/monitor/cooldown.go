package monitor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// redis key namespace for cooldown entries
const cooldownKeyPrefix = "stackwatch:cooldown:"

// CooldownEntry is one live suppression, exposed for diagnostics.
type CooldownEntry struct {
	ResourceID   string    `json:"resource_id"`
	Kind         string    `json:"kind"`
	LastEmission time.Time `json:"last_emission"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// CooldownStore tracks the last emission per (resource, anomaly kind) so
// the emitter can suppress repeats inside the cooldown window.
//
// ShouldEmit and RecordEmission are separate calls; the scheduler
// guarantees a single writer per key (one goroutine owns a resource's
// evaluations within a cycle, and cycles never overlap).
type CooldownStore interface {
	// ShouldEmit reports whether the pair is outside its suppression window.
	ShouldEmit(ctx context.Context, resourceID, kind string) (bool, error)

	// RecordEmission marks now as the pair's last emission.
	RecordEmission(ctx context.Context, resourceID, kind string) error

	// Entries returns the live suppressions, ordered by resource then kind.
	Entries(ctx context.Context) ([]CooldownEntry, error)

	// Sweep drops entries whose window has fully elapsed and returns the
	// number removed.
	Sweep(ctx context.Context) (int, error)

	// Reset clears all suppression state.
	Reset(ctx context.Context) error
}

// ─── In-memory store ──────────────────────────────────────────────────────────

type cooldownKey struct {
	resourceID string
	kind       string
}

// MemoryCooldown is the default single-instance store: a mutex-guarded
// map of last emission times.
type MemoryCooldown struct {
	window time.Duration

	mu   sync.Mutex
	last map[cooldownKey]time.Time

	now func() time.Time
}

// NewMemoryCooldown builds an in-memory store with the given window.
func NewMemoryCooldown(window time.Duration) *MemoryCooldown {
	return &MemoryCooldown{
		window: window,
		last:   make(map[cooldownKey]time.Time),
		now:    time.Now,
	}
}

func (s *MemoryCooldown) ShouldEmit(ctx context.Context, resourceID, kind string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	last, ok := s.last[cooldownKey{resourceID, kind}]
	if !ok {
		return true, nil
	}
	return s.now().Sub(last) >= s.window, nil
}

func (s *MemoryCooldown) RecordEmission(ctx context.Context, resourceID, kind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.last[cooldownKey{resourceID, kind}] = s.now()
	return nil
}

func (s *MemoryCooldown) Entries(ctx context.Context) ([]CooldownEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]CooldownEntry, 0, len(s.last))
	for k, t := range s.last {
		entries = append(entries, CooldownEntry{
			ResourceID:   k.resourceID,
			Kind:         k.kind,
			LastEmission: t,
			ExpiresAt:    t.Add(s.window),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ResourceID != entries[j].ResourceID {
			return entries[i].ResourceID < entries[j].ResourceID
		}
		return entries[i].Kind < entries[j].Kind
	})
	return entries, nil
}

func (s *MemoryCooldown) Sweep(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.window)
	removed := 0
	for k, t := range s.last {
		if t.Before(cutoff) {
			delete(s.last, k)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryCooldown) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.last = make(map[cooldownKey]time.Time)
	return nil
}

// ─── Redis store ──────────────────────────────────────────────────────────────

// RedisCooldown shares suppression state across replicas. Each emission
// SETs a key with the window as TTL, so expiry is Redis's job and Sweep
// is a no-op.
type RedisCooldown struct {
	client *redis.Client
	window time.Duration
}

// DialCooldownRedis connects and pings a Redis instance for cooldown use.
func DialCooldownRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewRedisCooldown builds a Redis-backed store with the given window.
func NewRedisCooldown(client *redis.Client, window time.Duration) *RedisCooldown {
	return &RedisCooldown{client: client, window: window}
}

func redisCooldownKey(resourceID, kind string) string {
	return cooldownKeyPrefix + resourceID + ":" + kind
}

func (s *RedisCooldown) ShouldEmit(ctx context.Context, resourceID, kind string) (bool, error) {
	n, err := s.client.Exists(ctx, redisCooldownKey(resourceID, kind)).Result()
	if err != nil {
		return false, fmt.Errorf("cooldown exists: %w", err)
	}
	return n == 0, nil
}

func (s *RedisCooldown) RecordEmission(ctx context.Context, resourceID, kind string) error {
	key := redisCooldownKey(resourceID, kind)
	stamp := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.client.Set(ctx, key, stamp, s.window).Err(); err != nil {
		return fmt.Errorf("cooldown set: %w", err)
	}
	return nil
}

func (s *RedisCooldown) Entries(ctx context.Context) ([]CooldownEntry, error) {
	var entries []CooldownEntry

	iter := s.client.Scan(ctx, 0, cooldownKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		stamp, err := s.client.Get(ctx, key).Result()
		if err == redis.Nil {
			continue // expired between scan and get
		}
		if err != nil {
			return nil, fmt.Errorf("cooldown get: %w", err)
		}
		last, err := time.Parse(time.RFC3339Nano, stamp)
		if err != nil {
			continue
		}

		resourceID, kind, ok := strings.Cut(strings.TrimPrefix(key, cooldownKeyPrefix), ":")
		if !ok {
			continue
		}
		entries = append(entries, CooldownEntry{
			ResourceID:   resourceID,
			Kind:         kind,
			LastEmission: last,
			ExpiresAt:    last.Add(s.window),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("cooldown scan: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ResourceID != entries[j].ResourceID {
			return entries[i].ResourceID < entries[j].ResourceID
		}
		return entries[i].Kind < entries[j].Kind
	})
	return entries, nil
}

// Sweep is a no-op: key TTLs expire entries server-side.
func (s *RedisCooldown) Sweep(ctx context.Context) (int, error) {
	return 0, nil
}

func (s *RedisCooldown) Reset(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, cooldownKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("cooldown del: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cooldown scan: %w", err)
	}
	return nil
}
