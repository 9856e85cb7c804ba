package model

import "time"

// PoolStats represents worker pool statistics
type PoolStats struct {
	Workers      int       `json:"workers"`
	Busy         int       `json:"busy"`
	Processed    int64     `json:"processed"`
	Failed       int64     `json:"failed"`
	LastJobAt    time.Time `json:"last_job_at,omitempty"`
	LastTenantID string    `json:"last_tenant_id,omitempty"`
}
