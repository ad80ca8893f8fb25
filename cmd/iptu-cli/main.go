package main

import (
	"context"
	"iptu-backend/cmd/iptu-cli/commands"
	"iptu-backend/internal/telemetry"
	"iptu-backend/lib/serviceutil"
	"log/slog"
	"time"
)

func main() {
	ctx, cancel := serviceutil.SignalContext()

	tel, err := telemetry.SetupFromEnv(ctx, "iptu-cli")
	if err != nil {
		slog.Warn("failed to setup telemetry", "err", err)
	}

	err = commands.ExecuteContext(ctx)
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if shutdownErr := tel.Shutdown(shutdownCtx); shutdownErr != nil {
		slog.Warn("failed to flush telemetry", "err", shutdownErr)
	}

	if err != nil {
		stop()
		serviceutil.Fatal("iptu-cli failed", err)
	}
}
