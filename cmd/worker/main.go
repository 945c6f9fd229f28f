package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/go-toy-activation/internal/aws"
	"github.com/imrishuroy/go-toy-activation/internal/config"
	"github.com/imrishuroy/go-toy-activation/internal/logger"
)

func main() {
	cfg, err := config.Load(os.Getenv("TOYS_CONFIG_FILE"))
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}).With("component", "worker")
	slog.SetDefault(log)

	if cfg.Events.Table == "" || cfg.Ownership.Table == "" {
		log.Error("invalid config", "error", errors.New("events.table and ownership.table are required"))
		os.Exit(1)
	}

	clients, err := aws.NewAWSClients(context.Background(), aws.Settings{
		Region:           cfg.AWS.Region,
		EndpointOverride: cfg.AWS.EndpointOverride,
	})
	if err != nil {
		log.Error("failed to init aws clients", "error", err)
		os.Exit(1)
	}

	p := NewProcessor(clients, cfg.Events.Table, cfg.Ownership.Table, cfg.Metrics.Namespace, log)

	// If RUN_LOCAL=true, process a single simulated SQS event and exit.
	if os.Getenv("RUN_LOCAL") == "true" {
		testBody := os.Getenv("LOCAL_SQS_BODY")
		if testBody == "" {
			testBody = `{"event_id":"local-event-1","item_id":"nfc_midas_pepe_1","redeemed_by":"local-user"}`
		}
		event := events.SQSEvent{
			Records: []events.SQSMessage{
				{MessageId: "local-1", Body: testBody},
			},
		}
		resp, err := p.Handle(context.Background(), event)
		if err != nil || len(resp.BatchItemFailures) > 0 {
			log.Error("local handler error", "error", err, "failures", len(resp.BatchItemFailures))
			os.Exit(1)
		}
		return
	}

	lambda.Start(p.Handle)
}
