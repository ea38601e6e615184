package di

import (
	"fmt"

	"github.com/aristath/gstdesign/internal/config"
	"github.com/aristath/gstdesign/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens and migrates the run database
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	runsDB, err := database.New(database.Config{
		Path:    cfg.DatabasePath(),
		Profile: database.ProfileStandard,
		Name:    "runs",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open runs database: %w", err)
	}

	if err := runsDB.Migrate(); err != nil {
		_ = runsDB.Close()
		return nil, fmt.Errorf("failed to migrate runs database: %w", err)
	}

	log.Info().
		Str("path", runsDB.Path()).
		Str("profile", string(runsDB.Profile())).
		Msg("Runs database ready")

	return &Container{RunsDB: runsDB}, nil
}
