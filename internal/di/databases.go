package di

import (
	"fmt"

	"github.com/aristath/gapfill/internal/config"
	"github.com/aristath/gapfill/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens the market database and applies its schema.
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	marketDB, err := database.New(database.Config{
		Path:    cfg.DatabasePath(),
		Profile: database.ProfileLedger, // retry state must survive power loss
		Name:    "market",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize market database: %w", err)
	}

	if err := marketDB.Migrate(); err != nil {
		marketDB.Close()
		return nil, fmt.Errorf("failed to migrate market database: %w", err)
	}

	log.Info().Str("path", marketDB.Path()).Msg("Market database ready")
	return &Container{MarketDB: marketDB}, nil
}
