package main

import (
	"context"
	"errors"
	"os"

	"txcat/internal/amqp"
	"txcat/internal/cli"
	logpkg "txcat/internal/log"
	"txcat/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(logpkg.ComponentWorker)
	cfg := cli.LoadAndValidateConfig(logger)

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the worker")
		os.Exit(1)
	}

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	p := cli.InitPredictor(ctx, logger, cfg)
	defer p.Close()

	amqpClient, err := amqp.NewClient(ctx, cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRequestQueue, cfg.AMQPResultQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", logpkg.FieldError, err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	w := worker.NewCategorizeWorker(p, amqpClient, cfg.TopCategories)

	logger.Info("Starting txcat worker",
		"request_queue", cfg.AMQPRequestQueue,
		"result_queue", cfg.AMQPResultQueue,
		logpkg.FieldModelVersion, p.ModelVersion(),
		"state", p.State().String())

	// Blocks until the context is cancelled by a shutdown signal.
	if err := amqpClient.ConsumeRequests(ctx, w.HandleRequest); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Message consumption failed", logpkg.FieldError, err)
		os.Exit(1)
	}

	logger.Info("Worker shutdown complete")
}
