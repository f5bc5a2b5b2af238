// Command imagemill runs the image-processing job pipeline. The SERVICES
// environment variable selects which service modes the process hosts:
// http, worker, reconciler, or any comma-separated combination.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/imagemill/imagemill/internal/bootstrap"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}
	logger := bootstrap.InitLogger(cfg.IsDev)
	logger.Info("starting imagemill", "services", cfg.Services, "dev", cfg.IsDev)

	ctx := context.Background()
	services, err := bootstrap.NewServices(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer services.Close()

	return services.Run(ctx)
}
