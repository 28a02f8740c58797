// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/tally-reconcile/internal/model"
)

// Storage defines the contract for our persistence layer.
type Storage interface {
	// Run operations
	SaveRun(ctx context.Context, run *model.Run) error
	FinishRun(ctx context.Context, runID string, status model.RunStatus) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	GetLatestRun(ctx context.Context) (*model.Run, error)
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)

	// Box operations
	SaveBox(ctx context.Context, runID string, box *model.BoxResult) error
	SaveExclusion(ctx context.Context, runID string, excluded model.ExcludedBox) error
	GetRecord(ctx context.Context, runID, boxID string) (*model.BallotBoxRecord, error)
	GetResolvedTallies(ctx context.Context, runID, boxID string) ([]model.ResolvedTally, error)
	GetDiscrepancies(ctx context.Context, runID string) ([]model.Discrepancy, error)

	// Audit operations
	AppendAuditEntry(ctx context.Context, runID string, entry model.AuditEntry) error
	GetAuditTrail(ctx context.Context, runID, boxID string) ([]model.AuditEntry, error)

	// Report operations
	SaveReport(ctx context.Context, runID string, report *model.AggregateReport) error
	GetReport(ctx context.Context, runID string) (*model.AggregateReport, error)

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}

// BoxWriter is the subset of Storage the pipeline writes results through.
type BoxWriter interface {
	SaveBox(ctx context.Context, runID string, box *model.BoxResult) error
	SaveExclusion(ctx context.Context, runID string, excluded model.ExcludedBox) error
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
