// Command anonboard runs the anonymous board API and its operator tasks.
//
//	@title						Anonymous Board API
//	@version					1.0
//	@description				Pseudonymous posting with personal-data scrubbing, moderation, and topic groups.
//	@BasePath					/v1
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/tbourn/go-anon-backend/internal/config"
	"github.com/tbourn/go-anon-backend/internal/repo"
	"github.com/tbourn/go-anon-backend/internal/sysutil"
)

// version is stamped at link time with -ldflags "-X main.version=...".
var version = "dev"

// app carries state resolved once by the root command for every subcommand.
type app struct {
	envFile string
	cfg     config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "anonboard",
		Short:         "Anonymous board API server",
		Long:          "anonboard serves the anonymous posting API and carries schema and group maintenance commands.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotenv(a.envFile); err != nil {
				return fmt.Errorf("load %s: %w", a.envFile, err)
			}
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			a.cfg = cfg
			sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty, cmd.ErrOrStderr())
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before the environment is read (missing is fine)")

	root.AddCommand(newServeCmd(a), newMigrateCmd(a), newGroupsCmd(a))
	return root
}

// openDB connects to the configured store and brings the schema up to date.
func (a *app) openDB() (*gorm.DB, func(), error) {
	db, err := repo.Open(a.cfg.DB)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", a.cfg.DB.Driver, err)
	}
	closeDB := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if err := repo.AutoMigrate(db); err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return db, closeDB, nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("anonboard failed")
		cancel()
		os.Exit(1)
	}
}
