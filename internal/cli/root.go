package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/collabboard/collabboard-server/internal/app"
	"github.com/collabboard/collabboard-server/internal/config"
	applog "github.com/collabboard/collabboard-server/internal/log"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Addr       string
	LogLevel   string
}

// NewRootCommand creates the collabboard command. Without a subcommand it serves.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "collabboard",
		Short:         "Realtime collaborative whiteboard server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to config.yaml (created with defaults when missing)")
	cmd.PersistentFlags().StringVar(&opts.Addr, "addr", "", "HTTP listen address, overrides the config file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level, overrides the config file")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))

	return cmd
}

func newServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func newMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(opts)
			if err != nil {
				return err
			}
			st, err := app.OpenStore(cmd.Context(), &cfg)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			logger.Info().Str("driver", cfg.DatabaseDriver).Msg("schema applied")
			return st.Close()
		},
	}
}

// loadConfig resolves the configuration and builds the logger it asks for.
func loadConfig(opts *RootOptions) (config.Config, *zerolog.Logger, error) {
	bootLog := applog.New("info", true)
	cfg, path, err := config.Load(bootLog, opts.ConfigPath)
	if err != nil {
		return cfg, nil, fmt.Errorf("load config %s: %w", path, err)
	}
	cfg.UpdateFrom(config.Config{Addr: opts.Addr, LogLevel: opts.LogLevel})

	logger := applog.New(cfg.LogLevel, cfg.LogConsole)
	logger.Debug().Str("path", path).Msg("config loaded")
	return cfg, logger, nil
}

func runServe(ctx context.Context, opts *RootOptions) error {
	cfg, logger, err := loadConfig(opts)
	if err != nil {
		return err
	}

	application, err := app.New(ctx, &cfg, logger)
	if err != nil {
		return err
	}

	logger.Info().Str("addr", cfg.Addr).Msg("starting collabboard server")
	if err := application.Run(ctx); err != nil {
		return fmt.Errorf("server exited with error: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
