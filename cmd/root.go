package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/ananyot-damnoenkiat/wallstreet-data-ops/config"
	"github.com/ananyot-damnoenkiat/wallstreet-data-ops/logger"
	"github.com/ananyot-damnoenkiat/wallstreet-data-ops/pipeline"
	"github.com/ananyot-damnoenkiat/wallstreet-data-ops/secrets"
	"github.com/ananyot-damnoenkiat/wallstreet-data-ops/utils"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "wallstreet",
	Short:        "Daily stock price pipeline: extract, upload to object storage, load into the warehouse",
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newExtractCmd())
	rootCmd.AddCommand(newUploadCmd())
	rootCmd.AddCommand(newLoadCmd())
	rootCmd.AddCommand(newScheduleCmd())
	rootCmd.AddCommand(newRunsCmd())
}

func isRunningOnGitHubActions() bool {
	return os.Getenv("GITHUB_ACTIONS") == "true"
}

func initializeConfigAndLogger(ctx context.Context) (*config.Config, *slog.Logger, error) {
	log := logger.NewLogger()
	if !isRunningOnGitHubActions() {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Error("Error loading .env file")
			return nil, nil, err
		}
	}

	baseConfigFile, err := os.Open("config.base.yaml")
	if err != nil {
		log.Error(fmt.Sprintf("Error opening base config file: %v", err))
		return nil, nil, err
	}
	defer baseConfigFile.Close()

	env := os.Getenv("APP_ENV")
	var envConfigFile *os.File
	envConfigFilename := fmt.Sprintf("config.%s.yaml", env)
	if _, err := os.Stat(envConfigFilename); err == nil {
		envConfigFile, err = os.Open(envConfigFilename)
		if err != nil {
			log.Error(fmt.Sprintf("Error opening environment config file: %v", err))
			return nil, nil, err
		}
		defer envConfigFile.Close()
	}

	var cfg *config.Config
	if envConfigFile != nil {
		cfg, err = config.NewConfig(baseConfigFile, envConfigFile, env)
	} else {
		cfg, err = config.NewConfig(baseConfigFile, nil, env)
	}
	if err != nil {
		log.Error(fmt.Sprintf("Error reading config: %v", err))
		return nil, nil, err
	}

	log, err = logger.New(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("error creating logger: %w", err)
	}

	if secrets.Required(cfg) {
		resolver, err := secrets.NewResolver(ctx, cfg.Storage.Region, log)
		if err != nil {
			return nil, nil, err
		}
		if err := secrets.Apply(ctx, cfg, resolver); err != nil {
			log.Error(fmt.Sprintf("Error resolving secrets: %v", err))
			return nil, nil, err
		}
	}

	return cfg, log, nil
}

func initializePipeline(ctx context.Context) (*pipeline.Pipeline, *config.Config, *slog.Logger, error) {
	cfg, log, err := initializeConfigAndLogger(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	p, err := pipeline.NewPipeline(ctx, cfg, log, utils.RealTimeProvider{})
	if err != nil {
		log.Error(fmt.Sprintf("Error creating pipeline: %v", err))
		return nil, nil, nil, err
	}
	return p, cfg, log, nil
}
