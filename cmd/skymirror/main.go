package main

import (
	"context"
	"log"
	"os"

	"github.com/joho/godotenv"

	"skymirror/internal/app"
	"skymirror/pkg/banner"
	"skymirror/pkg/config"
	"skymirror/pkg/logger"
	"skymirror/pkg/shutdown"
)

func main() {
	// build metadata - set via ldflags during build/release
	var version = "dev"

	_ = godotenv.Load(".env")
	flags := config.ParseCommandFlags()

	cfg, err := config.LoadEffective(flags)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger.InitWithLevel(cfg.Logging.Level)

	a, err := app.New(cfg, version)
	if err != nil {
		shutdown.Abort("startup failed", err, cfg.Server.DBPath, 0)
	}

	banner.Print(cfg.Addr(), cfg.Server.DBPath, cfg.Account.Identity, version)

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	if err := a.Run(ctx); err != nil {
		logger.Error("skymirror_exit", "err", err)
		os.Exit(1)
	}
}
