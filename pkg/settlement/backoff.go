package settlement

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// BackoffPolicy bounds confirmation polling.
type BackoffPolicy struct {
	BaseMs      int64 `yaml:"base_ms"`
	MaxMs       int64 `yaml:"max_ms"`
	MaxJitterMs int64 `yaml:"max_jitter_ms"`
	MaxAttempts int   `yaml:"max_attempts"`
}

// DefaultBackoffPolicy polls up to 10 times starting at one second.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{BaseMs: 1000, MaxMs: 30_000, MaxJitterMs: 250, MaxAttempts: 10}
}

// ComputeBackoff returns the delay before attempt n (0-based) for a receipt.
// Jitter is derived from the receipt id, so the schedule is reproducible.
func ComputeBackoff(receiptID string, attempt int, policy BackoffPolicy) time.Duration {
	factor := int64(1)
	if attempt > 0 {
		if attempt > 30 {
			factor = 1 << 30
		} else {
			factor = 1 << attempt
		}
	}
	delay := policy.BaseMs * factor
	if policy.MaxMs > 0 && delay > policy.MaxMs {
		delay = policy.MaxMs
	}
	return time.Duration(delay+jitter(receiptID, attempt, policy.MaxJitterMs)) * time.Millisecond
}

func jitter(receiptID string, attempt int, maxJitterMs int64) int64 {
	if maxJitterMs <= 0 {
		return 0
	}
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", receiptID, attempt)))
	return int64(binary.BigEndian.Uint64(hash[:8]) % uint64(maxJitterMs)) //nolint:gosec // maxJitterMs > 0
}
