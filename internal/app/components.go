package app

import (
	"github.com/stacklok/reviews-etl/internal/etl"
	"github.com/stacklok/reviews-etl/internal/orchestrator"
)

// AppComponents groups all application components
//
//nolint:revive // This name is fine
type AppComponents struct {
	// Orchestrator runs the work unit on schedule and on demand
	Orchestrator orchestrator.Orchestrator

	// Runner is the work unit shared by the schedule and the manual trigger
	Runner etl.Runner

	// cleanup releases resources held by the runner, such as the BigQuery client
	cleanup func()
}
