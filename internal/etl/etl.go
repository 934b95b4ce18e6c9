// Package etl contains the unit of work executed by the orchestrator: a single
// extract, transform and load pass that moves airline reviews from the source
// API into BigQuery.
package etl

import (
	"context"
)

//go:generate mockgen -destination=mocks/mock_runner.go -package=mocks -source=etl.go Runner,Loader

// Runner executes one ETL pass. Implementations must be safe for concurrent
// use: the scheduled loop and manual triggers may call Run at the same time.
type Runner interface {
	Run(ctx context.Context) (*Result, error)
}

// RunnerFunc adapts a plain function to the Runner interface
type RunnerFunc func(ctx context.Context) (*Result, error)

// Run calls f(ctx)
func (f RunnerFunc) Run(ctx context.Context) (*Result, error) {
	return f(ctx)
}

// Loader writes transformed reviews to the destination and returns the number of rows accepted
type Loader interface {
	Load(ctx context.Context, reviews []Review) (int, error)
}

// Result summarizes one ETL pass
type Result struct {
	// Pages is the number of source pages read, including the terminating empty page
	Pages int `json:"pages"`

	// Extracted is the number of raw records read from the source
	Extracted int `json:"extracted"`

	// Loaded is the number of rows accepted by the destination
	Loaded int `json:"loaded"`

	// Skipped is the number of records dropped because they could not be transformed
	Skipped int `json:"skipped"`
}
