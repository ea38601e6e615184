package di

import (
	"github.com/aristath/gstdesign/internal/config"
	"github.com/aristath/gstdesign/internal/modules/runs"
	"github.com/aristath/gstdesign/internal/modules/selection"
	"github.com/aristath/gstdesign/internal/workers"
	"github.com/rs/zerolog"
)

// InitializeRepositories creates the data access layer
func InitializeRepositories(container *Container, log zerolog.Logger) {
	container.RunRepo = runs.NewRepository(container.RunsDB.Conn(), log)
}

// InitializeServices creates the worker pool and the selection service
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) {
	container.WorkerPool = workers.NewWorkerPool(cfg.Workers)
	container.SelectionService = selection.NewService(container.WorkerPool, log)

	log.Info().Int("workers", container.WorkerPool.Size()).Msg("Selection service ready")
}
