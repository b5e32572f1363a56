// main package for the voiceclone-service
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/logger"
	"github.com/book-expert/voiceclone-service/internal/app"
	"github.com/book-expert/voiceclone-service/internal/config"
	"github.com/book-expert/voiceclone-service/internal/objectstore"
	"github.com/book-expert/voiceclone-service/internal/worker"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), "voiceclone-service-bootstrap.log")
	if err != nil {
		// If bootstrap logger fails, we can only print to stderr
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() { _ = bootstrapLog.Close() }()

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// 3. Initialize the final logger based on the loaded configuration
	log, err := setupLogger(cfg.Paths.BaseLogsDir, "voiceclone-service.log")
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return err
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Connect transport and storage
	natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name("voiceclone-service"))
	if err != nil {
		log.Error("Failed to connect to NATS at %s: %v", cfg.NATS.URL, err)

		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer natsConnection.Close()

	js, err := jetstream.New(natsConnection)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	store, err := objectstore.New(ctx, js, cfg.NATS.ObjectStoreBucket)
	if err != nil {
		log.Error("Failed to open object store: %v", err)

		return err
	}

	// 5. Assemble the conversion pipeline
	components, err := app.Assemble(cfg, log)
	if err != nil {
		log.Error("Failed to assemble components: %v", err)

		return err
	}

	healthErr := components.Inference.HealthCheck(ctx)
	if healthErr != nil {
		// Models load lazily, so the sidecar may still be starting.
		log.Warn("Inference service not reachable yet: %v", healthErr)
	}

	// 6. Serve until interrupted
	natsWorker := worker.NewNatsWorker(natsConnection, store, components.Pipeline, worker.Options{
		Subject:        cfg.NATS.ConversionRequestedSubject,
		MaxConcurrent:  cfg.Worker.MaxConcurrent,
		RequestTimeout: cfg.RequestTimeout(),
	}, log)

	log.System("Voiceclone-Service initialized. Listening for requests on subject: %s",
		cfg.NATS.ConversionRequestedSubject)

	err = natsWorker.Run(ctx)
	if err != nil {
		log.Error("Worker stopped with error: %v", err)

		return err
	}

	log.System("Voiceclone-Service stopped.")

	return nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
