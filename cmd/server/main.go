package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"

	"roomrelay/internal/app"
)

func main() {
	configPath := flag.String("config", os.Getenv("ROOMRELAY_CONFIG"), "path to a YAML config file (optional)")
	flag.Parse()

	cfg, err := app.LoadServerConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "roomrelay: %v\n", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger()

	handle, err := app.RunServer(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("start server", "error", err)
		os.Exit(1)
	}

	// waits for SIGINT/SIGTERM, then runs the operations with the timeout
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.Timeouts.Shutdown,
		map[string]gfshutdown.Operation{
			"relay": func(ctx context.Context) error {
				logger.Info("graceful shutdown initiated")
				if err := handle.Stop(ctx); err != nil {
					return err
				}
				return handle.Wait()
			},
		},
	)

	exitCode := <-wait
	logger.Info("server exited", "code", exitCode)
	os.Exit(exitCode)
}
