package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"photogallery/internal/aggregator"
	"photogallery/internal/auth"
	"photogallery/internal/gallery"
	"photogallery/internal/logger"
	"photogallery/internal/models"
	"photogallery/internal/objectstore"
	"photogallery/internal/pipeline"
	"photogallery/internal/proxy"
	"photogallery/internal/publisher"
	"photogallery/internal/queue"
	"photogallery/internal/server"
	"photogallery/internal/storage"
	"photogallery/internal/upload"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := models.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := auth.ValidateSecret(cfg.JWTSecret); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	lg := logger.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, lg)
	if err != nil {
		lg.Fatal().Err(err).Msg("failed to init storage")
	}
	defer closeStore()

	objects, local, err := openObjects(ctx, cfg, lg)
	if err != nil {
		lg.Fatal().Err(err).Msg("failed to init object storage")
	}

	broker, closeBroker, err := openBroker(ctx, cfg, lg)
	if err != nil {
		lg.Fatal().Err(err).Msg("failed to init event broker")
	}
	defer closeBroker()

	events := publisher.New(broker, lg)
	agg := aggregator.New(store, events, lg)
	runner := pipeline.New(store, objects, events, agg, cfg.Processing, lg)

	producer := queue.NewProducer(queue.NewKafkaWriter(cfg.Kafka), lg)
	defer producer.Close()
	consumer := queue.NewConsumer(queue.NewKafkaReader(cfg.Kafka), runner,
		queue.PolicyFromConfig(cfg.Processing), cfg.Kafka.Workers, cfg.Processing.TaskTimeout, lg)
	defer consumer.Close()

	srv := server.NewServer(cfg, server.Deps{
		Uploads: upload.New(store, objects, producer, events, lg),
		Gallery: gallery.New(store, objects, events, agg, producer, lg),
		Proxy:   proxy.New(store, objects, lg),
		Hub:     publisher.NewHub(broker, lg),
		Local:   local,
	}, lg)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := consumer.Run(ctx); err != nil {
			lg.Error().Err(err).Msg("consumer stopped")
			stop()
		}
	}()
	go func() {
		defer wg.Done()
		if err := srv.Start(); err != nil {
			lg.Error().Err(err).Msg("http server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	lg.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		lg.Error().Err(err).Msg("http server shutdown")
	}
	wg.Wait()
}

// openStore connects to Postgres, or keeps records in memory when no
// database URL is configured.
func openStore(ctx context.Context, cfg *models.Config, lg zerolog.Logger) (storage.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		lg.Warn().Msg("DATABASE_URL is not set, using in-memory records")
		return storage.NewMemory(), func() {}, nil
	}
	db, err := storage.NewStorage(ctx, cfg.DatabaseURL, lg)
	if err != nil {
		return nil, nil, err
	}
	return db, db.Close, nil
}

func openObjects(ctx context.Context, cfg *models.Config, lg zerolog.Logger) (objectstore.Store, *objectstore.Local, error) {
	if cfg.Storage.Backend == "local" {
		local, err := objectstore.NewLocal(cfg.Storage, cfg.JWTSecret, lg)
		if err != nil {
			return nil, nil, err
		}
		return local, local, nil
	}
	s3, err := objectstore.NewS3(ctx, cfg.Storage, lg)
	if err != nil {
		return nil, nil, err
	}
	return s3, nil, nil
}

// openBroker uses Redis pub/sub when configured so every replica's
// websocket clients see events, and an in-process broker otherwise.
func openBroker(ctx context.Context, cfg *models.Config, lg zerolog.Logger) (publisher.Broker, func(), error) {
	if cfg.RedisURL == "" {
		lg.Warn().Msg("REDIS_URL is not set, live events stay in-process")
		return publisher.NewMemoryBroker(), func() {}, nil
	}
	client, err := publisher.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return publisher.NewRedisBroker(client, lg), func() { client.Close() }, nil
}
