package main

import (
	"context"
	"encoding/base64"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mansoorceksport/storefront/internal/config"
	"github.com/mansoorceksport/storefront/internal/domain"
	"github.com/mansoorceksport/storefront/internal/infrastructure/kafka"
	"github.com/mansoorceksport/storefront/internal/logging"
	"github.com/mansoorceksport/storefront/internal/repository"
	"github.com/mansoorceksport/storefront/internal/server"
	"github.com/mansoorceksport/storefront/internal/service"
	"github.com/mansoorceksport/storefront/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	logging.Setup(cfg.Log.Level, cfg.Log.Pretty)
	log.Info().Msg("starting storefront service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// OTLP collectors such as Grafana Cloud expect Basic auth with instanceId:token
	authEncoded := base64.StdEncoding.EncodeToString([]byte(cfg.OTEL.InstanceID + ":" + cfg.OTEL.Token))

	otelProvider, err := telemetry.Initialize(ctx, telemetry.Config{
		ServiceName:    cfg.OTEL.ServiceName,
		ServiceVersion: cfg.OTEL.ServiceVersion,
		Environment:    cfg.OTEL.Environment,
		OTLPEndpoint:   cfg.OTEL.Endpoint,
		OTLPHeaders: map[string]string{
			"Authorization": "Basic " + authEncoded,
		},
		Enabled: cfg.OTEL.Enabled,
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to initialize OpenTelemetry")
	}
	if otelProvider != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelProvider.Shutdown(shutdownCtx)
		}()
	}

	// Connect to MongoDB with OpenTelemetry instrumentation
	ctxMongo, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	mongoOpts := options.Client().ApplyURI(cfg.MongoDB.URI)
	if cfg.OTEL.Enabled {
		mongoOpts.SetMonitor(otelmongo.NewMonitor())
	}

	mongoClient, err := mongo.Connect(ctxMongo, mongoOpts)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to MongoDB")
	}
	defer func() {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			log.Error().Err(err).Msg("error disconnecting from MongoDB")
		}
	}()

	if err := mongoClient.Ping(ctxMongo, nil); err != nil {
		log.Fatal().Err(err).Msg("failed to ping MongoDB")
	}
	log.Info().Str("database", cfg.MongoDB.Database).Msg("MongoDB connected")

	mongoDB := mongoClient.Database(cfg.MongoDB.Database)

	if err := repository.NewMongoSequenceRepository(mongoDB).Ensure(ctx, domain.InvoiceNumberSequence); err != nil {
		log.Fatal().Err(err).Msg("failed to seed invoice number counter")
	}

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	log.Info().Str("addr", cfg.Redis.Addr).Msg("Redis connected")

	deps := server.AppDependencies{
		Config:      cfg,
		MongoDB:     mongoDB,
		RedisClient: redisClient,
		Gateway:     service.NewPaymentGateway(cfg.Gateway),
	}

	// Receipt archive and settlement events are optional
	if cfg.S3.Endpoint != "" {
		archive, err := repository.NewS3ReceiptArchive(ctx, cfg.S3)
		if err != nil {
			log.Warn().Err(err).Msg("receipt archive disabled")
		} else {
			deps.ReceiptArchive = archive
			log.Info().Str("bucket", cfg.S3.Bucket).Msg("receipt archive enabled")
		}
	}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher := kafka.NewSettlementPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer publisher.Close()
		deps.Publisher = publisher
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("settlement events enabled")
	}

	app := server.NewApp(deps)

	sweeper := server.NewSweeper(deps)
	go sweeper.Run(ctx, cfg.Checkout.SweepInterval)

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down gracefully")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error().Err(err).Msg("server shutdown failed")
		}
	}()

	log.Info().Str("port", cfg.Server.Port).Msg("server starting")
	if err := app.Listen(":" + cfg.Server.Port); err != nil {
		log.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
}
