package di

import (
	"fmt"

	"github.com/aristath/gstdesign/internal/config"
	"github.com/aristath/gstdesign/internal/scheduler"
	"github.com/rs/zerolog"
)

// walCheckSchedule runs the WAL check every 30 minutes
const walCheckSchedule = "0 */30 * * * *"

// RegisterJobs creates the scheduler and registers maintenance jobs. The
// scheduler is not started.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	container.Scheduler = scheduler.New(log)

	jobs := &JobInstances{
		RunRetention:   scheduler.NewRunRetentionJob(container.RunRepo, cfg.RunRetention(), log),
		WALCheckpoints: scheduler.NewCheckWALCheckpointsJob(container.RunsDB, log),
	}

	// Without a retention window the job stays triggerable but never fires.
	retentionSchedule := cfg.RetentionSchedule
	if cfg.RunRetentionDays <= 0 {
		retentionSchedule = ""
	}
	if err := container.Scheduler.AddJob(retentionSchedule, jobs.RunRetention); err != nil {
		return nil, fmt.Errorf("failed to register run retention job: %w", err)
	}
	if err := container.Scheduler.AddJob(walCheckSchedule, jobs.WALCheckpoints); err != nil {
		return nil, fmt.Errorf("failed to register WAL checkpoint job: %w", err)
	}

	return jobs, nil
}
