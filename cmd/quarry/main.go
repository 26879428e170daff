package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ternarybob/quarry/internal/app"
	"github.com/ternarybob/quarry/internal/common"
	"github.com/ternarybob/quarry/internal/server"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles configPaths
	serverPort  = flag.Int("port", 0, "Server port (overrides config)")
	serverHost  = flag.String("host", "", "Server host (overrides config)")
	envFile     = flag.String("env", ".env", "Environment file loaded before configuration")
	showVersion = flag.Bool("version", false, "Print version information")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("Quarry version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	// Startup sequence:
	// 1. .env (never overrides variables already set)
	// 2. config: defaults -> file1 -> file2 -> ... -> env
	// 3. CLI overrides
	// 4. logger, banner
	envLoaded := false
	if *envFile != "" {
		if err := godotenv.Load(*envFile); err == nil {
			envLoaded = true
		} else if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load %s: %v\n", *envFile, err)
		}
	}

	if len(configFiles) == 0 {
		if _, err := os.Stat("quarry.toml"); err == nil {
			configFiles = append(configFiles, "quarry.toml")
		} else if _, err := os.Stat("deployments/local/quarry.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/quarry.toml")
		}
	}

	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		common.GetLogger().Fatal().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	common.ApplyFlagOverrides(config, *serverPort, *serverHost)

	logger := common.InitLogger(config)
	common.PrintBanner(config, logger)

	logger.Info().
		Strs("config_files", configFiles).
		Bool("env_file_loaded", envLoaded).
		Str("log_level", config.Logging.Level).
		Str("badger_path", config.Storage.Badger.Path).
		Msg("Application configuration loaded")

	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
		os.Exit(1)
	}

	srv := server.New(application)
	serverErr := make(chan error, 1)
	common.SafeGo(logger, "http-server", func() {
		serverErr <- srv.Start()
	})

	logger.Info().
		Str("url", fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)).
		Msg("Server ready - Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Interrupt signal received")
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("HTTP server stopped unexpectedly")
			exitCode = 1
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
	}
	if err := application.Close(); err != nil {
		logger.Error().Err(err).Msg("Application shutdown failed")
		exitCode = 1
	}

	logger.Info().Msg("Server stopped")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
