package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/vision-pipeline/internal/auth"
	"github.com/example/vision-pipeline/internal/config"
	"github.com/example/vision-pipeline/internal/gcs"
	"github.com/example/vision-pipeline/internal/handlers"
	"github.com/example/vision-pipeline/internal/imaging"
	"github.com/example/vision-pipeline/internal/logging"
	"github.com/example/vision-pipeline/internal/notify"
	"github.com/example/vision-pipeline/internal/server"
	"github.com/example/vision-pipeline/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck
	logger = logger.With(zap.String("service", "preprocess"))

	if err := cfg.ValidatePreprocess(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx := context.Background()

	store, err := gcs.NewStore(ctx, logger, cfg.StorageOptions()...)
	if err != nil {
		logger.Fatal("failed to create storage client", zap.Error(err))
	}
	defer store.Close()

	var publisher notify.Publisher
	if cfg.PreprocessedTopic != "" {
		client, err := notify.NewClient(ctx, cfg.ProjectID, cfg.GoogleOptions()...)
		if err != nil {
			logger.Fatal("failed to create pubsub client", zap.Error(err))
		}
		defer client.Close()

		topic := notify.NewTopicPublisher(client, cfg.PreprocessedTopic, cfg.PublishTimeout, logger)
		defer topic.Stop()
		publisher = topic
		logger.Info("publishing notifications", zap.String("topic", cfg.PreprocessedTopic), zap.Duration("timeout", cfg.PublishTimeout))
	}

	uc := usecase.NewPreprocessUseCase(store, publisher, cfg.Bucket, imaging.Square(cfg.TargetSize, cfg.JPEGQuality), logger)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), logging.GinMiddleware(logger))
	r.MaxMultipartMemory = handlers.MaxUploadSize

	handlers.RegisterPreprocessRoutes(r, uc, auth.Bearer(cfg.JWTSecret, cfg.JWTAudience))

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("preprocess service listening",
		zap.String("addr", srv.Addr),
		zap.String("bucket", cfg.Bucket),
		zap.Int("target_size", cfg.TargetSize),
		zap.Bool("publishes", uc.Publishes()),
	)
	if err := server.Serve(srv, cfg.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}
