package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/pihome/internal/shared"
)

// SetupInit writes config.toml from the template when it is missing, migrates the database and seeds
// the chat model catalog.
func (r *Runner) SetupInit(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		r.logger.Info("config file not found, creating from template", "path", configPath)
		if err := shared.CreateConfigFile(configPath); err != nil {
			return err
		}
		config, err := shared.LoadConfig(configPath)
		if err != nil {
			return err
		}
		if err := config.ApplyEnv(cmd.String("env")); err != nil {
			return err
		}
		r.config = config
		r.configPath = configPath
		r.writePlain("✓ Config written to %s\n", configPath)
	}

	if err := r.migrate(); err != nil {
		return err
	}

	if err := r.connect(ctx); err != nil {
		return err
	}
	return r.SetupSeed(ctx, cmd)
}

// SetupMigrate applies pending migrations and prints the applied versions.
func (r *Runner) SetupMigrate(ctx context.Context, cmd *cli.Command) error {
	if err := r.migrate(); err != nil {
		return err
	}

	applied, err := shared.MigrationStatus(r.db)
	if err != nil {
		return err
	}

	r.writePlain("Applied migrations:\n")
	for _, m := range applied {
		r.writePlain("  %03d  %s\n", m.Version, m.AppliedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return nil
}

func (r *Runner) migrate() error {
	r.logger.Info("initializing database", "path", r.config.Database.Path)
	db, err := r.openDatabase()
	if err != nil {
		return err
	}

	r.logger.Info("running database migrations")
	if err := shared.RunMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	r.writePlain("✓ Database ready: %s\n", r.config.Database.Path)
	return nil
}

// SetupRollback reverts the most recently applied migration.
func (r *Runner) SetupRollback(ctx context.Context, cmd *cli.Command) error {
	db, err := r.openDatabase()
	if err != nil {
		return err
	}

	if err := shared.RollbackMigration(db); err != nil {
		return fmt.Errorf("failed to roll back migration: %w", err)
	}
	return r.writePlain("✓ Rolled back the latest migration\n")
}

// SetupSeed installs the chat models that are missing from the catalog.
func (r *Runner) SetupSeed(ctx context.Context, cmd *cli.Command) error {
	added, err := r.services.ChatModels.SeedChatModels(ctx)
	if err != nil {
		return fmt.Errorf("failed to seed chat models: %w", err)
	}
	return r.writePlain("✓ Seeded %d chat models\n", added)
}
