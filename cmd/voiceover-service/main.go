// main package for the voiceover-service
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/logger"
	"github.com/book-expert/voiceover-service/internal/config"
	"github.com/book-expert/voiceover-service/internal/core"
	"github.com/book-expert/voiceover-service/internal/gemini"
	"github.com/book-expert/voiceover-service/internal/objectstore"
	"github.com/book-expert/voiceover-service/internal/pipeline"
	"github.com/book-expert/voiceover-service/internal/project"
	"github.com/book-expert/voiceover-service/internal/worker"
	"github.com/nats-io/nats.go"
)

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "voiceover-service.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		// If bootstrap logger fails, we can only print to stderr
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	bootstrapLog.Info("Bootstrap logger created.")

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	// 3. Initialize the final logger based on the loaded configuration
	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	// 4. Connect to NATS and bind the artifact store
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		finalLog.Error("Failed to connect to NATS at %s: %v", cfg.NATS.URL, err)

		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer natsConnection.Close()

	artifacts, err := setupArtifacts(natsConnection, cfg, finalLog)
	if err != nil {
		return err
	}

	// 5. Wire the pipeline
	credentials := config.NewCredentials(cfg.Gemini.APIKey, cfg.Paths.StateDir)

	orchestrator, err := pipeline.New(pipeline.Options{
		Store:       project.NewStore(project.NewEventBus(cfg.Pipeline.EventHistory)),
		Client:      gemini.New(cfg.Gemini.ScriptModel, cfg.Gemini.SpeechModel, finalLog),
		Artifacts:   artifacts,
		Credentials: credentials,
		Log:         finalLog,
		SampleRate:  cfg.Pipeline.SampleRate,
		Timeout:     cfg.Timeout(),
	})
	if err != nil {
		finalLog.Error("Failed to create orchestrator: %v", err)

		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	defer orchestrator.Close()

	natsWorker, err := worker.NewNatsWorker(
		natsConnection, cfg.NATS.CommandSubject, cfg.NATS.EventSubject, orchestrator, credentials, finalLog,
	)
	if err != nil {
		finalLog.Error("Failed to create worker: %v", err)

		return fmt.Errorf("failed to create worker: %w", err)
	}

	_, credErr := credentials.APIKey()
	if credErr != nil {
		finalLog.Warn("No API key configured yet; projects will fail until one is set: %v", credErr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 6. Log confirmation message and serve
	logMessage := "Voiceover-Service successfully initialized. Listening for commands on subject: %s.*"
	finalLog.System(logMessage, cfg.NATS.CommandSubject)

	err = natsWorker.Run(ctx)
	if err != nil {
		finalLog.Error("Worker stopped with error: %v", err)

		return fmt.Errorf("worker stopped: %w", err)
	}

	finalLog.System("Voiceover-Service shut down.")

	return nil
}

// setupArtifacts binds the JetStream object store, or keeps audio in memory when no
// bucket is configured.
func setupArtifacts(natsConnection *nats.Conn, cfg *config.Config, log *logger.Logger) (core.ObjectStore, error) {
	if cfg.NATS.AudioObjectStoreBucket == "" {
		log.Warn("No audio object store bucket configured; rendered audio is kept in memory only")

		return objectstore.NewMemoryStore(), nil
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		log.Error("Failed to create JetStream context: %v", err)

		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	store, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		log.Error("Failed to bind object store: %v", err)

		return nil, fmt.Errorf("failed to bind object store: %w", err)
	}

	return store, nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
