// Package cli implements the lumimind command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/lumimind/internal/app"
	"github.com/hyperjump/lumimind/internal/config"
	"github.com/hyperjump/lumimind/pkg/utils"
)

// DefaultConfigPath is used when --config is not given.
const DefaultConfigPath = "/usr/local/etc/lumimind/config.yaml"

var (
	version    = "dev"
	configPath string
	debugFlag  bool
)

var rootCmd = &cobra.Command{
	Use:   "lumimind",
	Short: "Mental-health and communication assistant",
	Long: `LumiMind runs a supportive mental-health companion and a communication coach.
Every turn passes a crisis check first; conversations are grounded in per-domain knowledge bases.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", DefaultConfigPath, "config file path")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")
}

// Execute runs the root command.
func Execute(v string) error {
	if v != "" {
		version = v
	}
	return rootCmd.Execute()
}

// loadConfig loads config from path. When path is the default and ./config.yaml exists, that
// file is used instead, so running from a project directory picks up the project's config.
func loadConfig(path string) (*config.Config, string, error) {
	if path == DefaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				path = fallback
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// session bundles what a command needs after start-up.
type session struct {
	cfg    *config.Config
	path   string
	logger *zap.Logger
	c      *app.Components
}

func (s *session) close() {
	if s.c != nil {
		if err := s.c.Close(); err != nil {
			s.logger.Warn("shutdown", zap.Error(err))
		}
	}
	_ = s.logger.Sync()
}

// open loads the config, builds the logger and initializes every component.
func open(ctx context.Context) (*session, error) {
	cfg, path, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	debug := cfg.Debug || debugFlag
	logger, err := utils.NewLogger(debug)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("config_path", path), zap.Bool("debug", debug))
	c, err := app.Initialize(ctx, cfg, logger, version)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}
	return &session{cfg: cfg, path: path, logger: logger, c: c}, nil
}
