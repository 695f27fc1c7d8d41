package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/helm-guardian/pkg/contracts"
)

// MemoryRegistry keeps response states in process.
type MemoryRegistry struct {
	mu     sync.RWMutex
	states map[string]map[string]contracts.GuardianResponseState
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{states: make(map[string]map[string]contracts.GuardianResponseState)}
}

func (r *MemoryRegistry) ResponseState(_ context.Context, emergencyID, guardianID string) (contracts.GuardianResponseState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if st, ok := r.states[emergencyID][guardianID]; ok {
		return st, nil
	}
	return contracts.ResponseUnknown, nil
}

func (r *MemoryRegistry) SetResponseState(_ context.Context, emergencyID, guardianID string, state contracts.GuardianResponseState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.states[emergencyID]
	if !ok {
		m = make(map[string]contracts.GuardianResponseState)
		r.states[emergencyID] = m
	}
	m[guardianID] = state
	return nil
}

// Forget drops every state recorded for an emergency.
func (r *MemoryRegistry) Forget(emergencyID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, emergencyID)
}

// RedisRegistry keeps response states in a Redis hash per emergency so that
// acknowledgement handlers in other processes can update them.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRegistry creates a registry backed by Redis.
func NewRedisRegistry(addr, password string, db int) *RedisRegistry {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisRegistry{client: rdb, ttl: 48 * time.Hour}
}

// Ping checks connectivity.
func (r *RedisRegistry) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the client.
func (r *RedisRegistry) Close() error {
	return r.client.Close()
}

func responseKey(emergencyID string) string {
	return fmt.Sprintf("guardian:responses:%s", emergencyID)
}

func (r *RedisRegistry) ResponseState(ctx context.Context, emergencyID, guardianID string) (contracts.GuardianResponseState, error) {
	v, err := r.client.HGet(ctx, responseKey(emergencyID), guardianID).Result()
	if err == redis.Nil {
		return contracts.ResponseUnknown, nil
	}
	if err != nil {
		return contracts.ResponseUnknown, fmt.Errorf("redis hget failed: %w", err)
	}
	return contracts.ParseResponseState(v), nil
}

func (r *RedisRegistry) SetResponseState(ctx context.Context, emergencyID, guardianID string, state contracts.GuardianResponseState) error {
	key := responseKey(emergencyID)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, guardianID, string(state))
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis hset failed: %w", err)
	}
	return nil
}
