// Package conn tracks remote-connection liveness in Redis. Each heartbeat
// SETs conn:{id} with a TTL of three heartbeat periods, so a dead client
// simply ages out; nothing on the backend has to notice it dying.
package conn

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/pentagent/pentagent/internal/metrics"
	"github.com/pentagent/pentagent/pkg/types"
	"github.com/redis/go-redis/v9"
)

const (
	// HeartbeatPeriod is how often remote clients send liveness signals.
	HeartbeatPeriod = 10 * time.Second
	// LivenessWindow is how long a connection stays alive without a
	// heartbeat: three missed beats.
	LivenessWindow = 3 * HeartbeatPeriod

	keyPrefix = "conn:"
	pubsubCh  = "connections:heartbeat"
)

// livenessPayload is the JSON stored under conn:{id}.
type livenessPayload struct {
	ConnectionID string    `json:"connection_id"`
	UserID       string    `json:"user_id"`
	Name         string    `json:"name"`
	Mode         string    `json:"mode"`
	BeatAt       time.Time `json:"beat_at"`
}

// Registry is the Redis-backed liveness view of remote connections.
type Registry struct {
	rdb *redis.Client
}

// NewRegistry connects to Redis and returns a liveness registry.
func NewRegistry(redisURL string) (*Registry, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Registry{rdb: rdb}, nil
}

// MarkAlive refreshes a connection's liveness key and publishes the beat
// for anything watching in real time.
func (r *Registry) MarkAlive(ctx context.Context, conn types.RemoteConnection) error {
	payload, err := json.Marshal(livenessPayload{
		ConnectionID: conn.ID,
		UserID:       conn.UserID,
		Name:         conn.Name,
		Mode:         string(conn.Mode),
		BeatAt:       time.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshal liveness payload: %w", err)
	}

	key := keyPrefix + conn.ID
	if err := r.rdb.Set(ctx, key, payload, LivenessWindow).Err(); err != nil {
		return fmt.Errorf("set liveness key: %w", err)
	}
	if err := r.rdb.Publish(ctx, pubsubCh, payload).Err(); err != nil {
		log.Printf("conn: heartbeat publish failed: %v", err)
	}
	return nil
}

// IsAlive reports whether a connection heartbeated within the window.
func (r *Registry) IsAlive(ctx context.Context, connectionID string) (bool, error) {
	n, err := r.rdb.Exists(ctx, keyPrefix+connectionID).Result()
	if err != nil {
		return false, fmt.Errorf("check liveness key: %w", err)
	}
	return n > 0, nil
}

// Drop removes a connection's liveness key on explicit disconnect so the
// backend sees it gone immediately instead of after TTL expiry.
func (r *Registry) Drop(ctx context.Context, connectionID string) {
	if err := r.rdb.Del(ctx, keyPrefix+connectionID).Err(); err != nil {
		log.Printf("conn: drop liveness key %s failed: %v", connectionID, err)
	}
}

// CountAlive returns the number of live connections.
func (r *Registry) CountAlive(ctx context.Context) (int, error) {
	var (
		cursor uint64
		count  int
	)
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return 0, fmt.Errorf("scan liveness keys: %w", err)
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			return count, nil
		}
	}
}

// Close closes the Redis connection.
func (r *Registry) Close() {
	r.rdb.Close()
}

// StaleSweeper periodically deletes persisted connections whose heartbeat
// is past the liveness window and refreshes the active-connections gauge.
type StaleSweeper struct {
	registry *Registry
	store    ConnectionStore
	stop     chan struct{}
}

// ConnectionStore is the persistence surface the sweeper needs.
type ConnectionStore interface {
	SweepStaleConnections(ctx context.Context, window time.Duration) ([]string, error)
}

// NewStaleSweeper creates a sweeper over the given registry and store.
func NewStaleSweeper(registry *Registry, store ConnectionStore) *StaleSweeper {
	return &StaleSweeper{registry: registry, store: store, stop: make(chan struct{})}
}

// Start runs the sweep loop until Stop is called.
func (s *StaleSweeper) Start() {
	go func() {
		ticker := time.NewTicker(LivenessWindow)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.stop:
				return
			}
		}
	}()
}

func (s *StaleSweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ids, err := s.store.SweepStaleConnections(ctx, LivenessWindow)
	if err != nil {
		log.Printf("conn: stale sweep failed: %v", err)
		return
	}
	for _, id := range ids {
		s.registry.Drop(ctx, id)
		log.Printf("conn: removed stale connection %s", id)
	}

	if alive, err := s.registry.CountAlive(ctx); err == nil {
		metrics.ConnectionsActive.Set(float64(alive))
	}
}

// Stop stops the sweep loop.
func (s *StaleSweeper) Stop() {
	close(s.stop)
}
