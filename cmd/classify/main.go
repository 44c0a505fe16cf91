package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/vision-pipeline/internal/auth"
	"github.com/example/vision-pipeline/internal/config"
	"github.com/example/vision-pipeline/internal/gcs"
	"github.com/example/vision-pipeline/internal/handlers"
	"github.com/example/vision-pipeline/internal/logging"
	"github.com/example/vision-pipeline/internal/model"
	"github.com/example/vision-pipeline/internal/notify"
	"github.com/example/vision-pipeline/internal/repository"
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
	logger = logger.With(zap.String("service", "classify"))

	if err := cfg.ValidateClassify(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx := context.Background()

	modelServer, err := model.NewServer(cfg.ModelPath, cfg.ModelMetadataPath, cfg.ONNXRuntimeLib)
	if err != nil {
		logger.Fatal("failed to load model", zap.Error(err), zap.String("model_path", cfg.ModelPath))
	}
	defer modelServer.Close()
	logger.Info("model loaded",
		zap.String("model_path", cfg.ModelPath),
		zap.Int("classes", len(modelServer.Metadata.Classes)),
		zap.Int("image_size", modelServer.Metadata.ImageSize),
	)

	store, err := gcs.NewStore(ctx, logger, cfg.StorageOptions()...)
	if err != nil {
		logger.Fatal("failed to create storage client", zap.Error(err))
	}
	defer store.Close()

	opts := []usecase.ClassifyOption{}

	if cfg.ClassifiedTopic != "" {
		client, err := notify.NewClient(ctx, cfg.ProjectID, cfg.GoogleOptions()...)
		if err != nil {
			logger.Fatal("failed to create pubsub client", zap.Error(err))
		}
		defer client.Close()

		topic := notify.NewTopicPublisher(client, cfg.ClassifiedTopic, cfg.PublishTimeout, logger)
		defer topic.Stop()
		opts = append(opts, usecase.WithPublisher(topic))
	}

	if cfg.RedisAddr != "" {
		redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
		redisClient := initRedis(redisCtx, cfg.RedisAddr, logger)
		redisCancel()
		defer redisClient.Close()
		opts = append(opts, usecase.WithCache(usecase.NewRedisCache(redisClient, cfg.CacheNamespace), cfg.CacheTTL))
	}

	if cfg.DatabaseDSN != "" {
		dbCtx, dbCancel := context.WithTimeout(ctx, 15*time.Second)
		db := initDatabase(dbCtx, cfg.DatabaseDSN, logger)
		repo := repository.NewPredictionRepository(db, logger)
		if err := repo.AutoMigrate(dbCtx); err != nil {
			logger.Fatal("auto migrate failed", zap.Error(err))
		}
		dbCancel()
		opts = append(opts, usecase.WithRepository(repo))
	}

	uc := usecase.NewClassifyUseCase(store, modelServer, logger, opts...)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), logging.GinMiddleware(logger))

	handlers.RegisterClassifyRoutes(r, uc, auth.Bearer(cfg.JWTSecret, cfg.JWTAudience))

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("classify service listening", zap.String("addr", srv.Addr))
	if err := server.Serve(srv, cfg.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initDatabase(ctx context.Context, dsn string, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}
