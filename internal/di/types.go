// Package di provides dependency injection type definitions and wiring.
package di

import (
	"github.com/aristath/gstdesign/internal/database"
	"github.com/aristath/gstdesign/internal/modules/runs"
	"github.com/aristath/gstdesign/internal/modules/selection"
	"github.com/aristath/gstdesign/internal/scheduler"
	"github.com/aristath/gstdesign/internal/workers"
)

// Container holds all dependencies for the application.
// It is created by Wire() and passed to the server.
type Container struct {
	// RunsDB stores finished selection runs
	RunsDB *database.DB

	// Repositories
	RunRepo *runs.Repository

	// Services
	WorkerPool       *workers.WorkerPool
	SelectionService *selection.Service

	// Background jobs
	Scheduler *scheduler.Scheduler
}

// JobInstances holds the registered maintenance jobs so they can be
// triggered manually.
type JobInstances struct {
	RunRetention   *scheduler.RunRetentionJob
	WALCheckpoints *scheduler.CheckWALCheckpointsJob
}

// Close releases the container's resources
func (c *Container) Close() error {
	if c.RunsDB == nil {
		return nil
	}
	return c.RunsDB.Close()
}
