package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// RunPruner deletes stored runs older than a cutoff.
type RunPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// RunRetentionJob removes selection runs older than the retention window.
type RunRetentionJob struct {
	runs      RunPruner
	retention time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

// NewRunRetentionJob creates a new run retention job
func NewRunRetentionJob(runs RunPruner, retention time.Duration, log zerolog.Logger) *RunRetentionJob {
	return &RunRetentionJob{
		runs:      runs,
		retention: retention,
		now:       time.Now,
		log:       log.With().Str("job", "run_retention").Logger(),
	}
}

// Name returns the job name
func (j *RunRetentionJob) Name() string {
	return "run_retention"
}

// Run deletes every run created before now minus the retention window.
func (j *RunRetentionJob) Run() error {
	if j.retention <= 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := j.now().Add(-j.retention)
	deleted, err := j.runs.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		j.log.Error().Err(err).Msg("Failed to delete old runs")
		return err
	}

	if deleted > 0 {
		j.log.Info().
			Int64("deleted", deleted).
			Time("cutoff", cutoff).
			Msg("Pruned old selection runs")
	}
	return nil
}
