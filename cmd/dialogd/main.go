package main

import (
	"context"
	"log"
	"os"

	"github.com/joho/godotenv"

	"dialogd/internal/app"
	"dialogd/internal/retention"
	"dialogd/pkg/config"
	"dialogd/pkg/logger"
	"dialogd/pkg/shutdown"
)

// build metadata, set via ldflags during release
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	_ = godotenv.Load(".env")
	addrVal, dbVal, cfgVal, setFlags := config.ParseCommandFlags()

	cfgPath := config.ResolveConfigPath(cfgVal, setFlags["config"])
	cfg, _, err := config.LoadEffective(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// flags win over env/config when explicitly set
	addr := cfg.Addr()
	if setFlags["addr"] {
		addr = addrVal
	}
	if setFlags["db"] || cfg.Storage.DBPath == "" {
		cfg.Storage.DBPath = dbVal
	}

	logger.InitWithLevel(cfg.Logging.Level)

	a, err := app.New(cfg, addr, version, commit, buildDate)
	if err != nil {
		logger.Error("startup_failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	stopRetention, err := retention.Start(ctx, cfg, a.Store())
	if err != nil {
		logger.Error("retention_start_failed", "error", err)
		_ = a.Close()
		os.Exit(1)
	}

	runErr := a.Run(ctx)
	stopRetention()
	if err := a.Close(); err != nil {
		logger.Error("store_close_failed", "error", err)
	}
	if runErr != nil {
		logger.Error("server_exit", "error", runErr)
		os.Exit(1)
	}
	logger.Info("server_stopped")
}
