package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-toy-activation/internal/aws"
	"github.com/imrishuroy/go-toy-activation/internal/config"
	"github.com/imrishuroy/go-toy-activation/internal/handlers"
	"github.com/imrishuroy/go-toy-activation/internal/ledger"
	"github.com/imrishuroy/go-toy-activation/internal/logger"
	"github.com/imrishuroy/go-toy-activation/internal/metrics"
	"github.com/imrishuroy/go-toy-activation/internal/ownership"
	"github.com/imrishuroy/go-toy-activation/internal/redemption"
	"github.com/imrishuroy/go-toy-activation/internal/token"
)

func setupRouter(cfg handlers.HandlerConfig, reg *metrics.Registry) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), reg.Middleware())

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", reg.Handler())

	handlers.RegisterRoutes(r, cfg)

	return r
}

// needsAWS reports whether any configured component talks to AWS.
func needsAWS(cfg *config.Config) bool {
	return cfg.Ledger.Backend == config.BackendDynamoDB ||
		cfg.Events.QueueURL != "" ||
		cfg.Ownership.Table != ""
}

func main() {
	configPath := flag.String("config", os.Getenv("TOYS_CONFIG_FILE"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	slog.SetDefault(log)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	var clients *aws.AWSClients
	if needsAWS(cfg) {
		clients, err = aws.NewAWSClients(ctx, aws.Settings{
			Region:           cfg.AWS.Region,
			EndpointOverride: cfg.AWS.EndpointOverride,
		})
		if err != nil {
			log.Error("failed to init aws clients", "error", err)
			os.Exit(1)
		}
	}

	var dynamo aws.DynamoDBAPI
	if clients != nil {
		dynamo = clients.DynamoDB
	}
	store, closeLedger, err := ledger.Open(ctx, cfg.Ledger, dynamo)
	if err != nil {
		log.Error("failed to open ledger", "backend", cfg.Ledger.Backend, "error", err)
		os.Exit(1)
	}
	defer closeLedger()

	codec, err := token.NewCodec(cfg.Token.Secret, token.WithRetiredSecrets(cfg.Token.RetiredSecrets...))
	if err != nil {
		log.Error("failed to init token codec", "error", err)
		os.Exit(1)
	}

	reg := metrics.NewRegistry(cfg.Metrics.Namespace)
	opts := []redemption.Option{redemption.WithMetrics(reg)}
	if cfg.Events.QueueURL != "" {
		opts = append(opts, redemption.WithPublisher(aws.NewPublisher(clients.SQS, cfg.Events.QueueURL)))
	}

	hcfg := handlers.HandlerConfig{
		Activations:   redemption.NewCoordinator(codec, store, opts...),
		AdminAPIKey:   cfg.Admin.APIKey,
		Logger:        log,
		LedgerTimeout: cfg.Ledger.Timeout,
	}
	if clients != nil && cfg.Ownership.Table != "" {
		hcfg.Owners = ownership.NewStore(clients.DynamoDB, cfg.Ownership.Table)
	}
	if cfg.Admin.APIKey == "" {
		log.Warn("admin.api_key is empty; issuance routes are disabled")
	}

	r := setupRouter(hcfg, reg)

	// if environment variable RUN_LOCAL is set to "true", run local HTTP server for development.
	if os.Getenv("RUN_LOCAL") == "true" {
		log.Info("running local server", "address", cfg.HTTP.Address, "ledger", cfg.Ledger.Backend)
		if err := r.Run(cfg.HTTP.Address); err != nil {
			log.Error("failed to run local server", "error", err)
			os.Exit(1)
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
