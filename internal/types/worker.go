package types

import "time"

// WorkerMetrics contains health counters reported by each worker
type WorkerMetrics struct {
	Iterations uint64    `json:"iterations"`
	Errors     uint64    `json:"errors"`
	Dropped    uint64    `json:"dropped"`
	Published  uint64    `json:"published"`
	LastSeenAt time.Time `json:"last_seen_at"`
	Running    bool      `json:"running"`
}
