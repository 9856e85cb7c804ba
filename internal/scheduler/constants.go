package scheduler

import "time"

const (
	// StreamName is the JetStream work queue holding tenant jobs
	StreamName = "EVALUATIONS"
	// Subject receives one message per tenant per tick
	Subject = "evaluate.tenant"
	// ConsumerName is the durable pull consumer shared by every worker pool
	ConsumerName = "tenant-evaluators"

	streamMaxAge     = time.Hour
	streamMaxMsgs    = -1
	duplicateWindow  = 2 * time.Minute
	operationTimeout = 30 * time.Second

	// tick IDs have second resolution so replicas ticking together dedup
	tickIDLayout = "20060102T150405Z"
)
