package usecase

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/example/vision-pipeline/internal/gcs"
	"github.com/example/vision-pipeline/internal/imaging"
	"github.com/example/vision-pipeline/internal/logging"
	"github.com/example/vision-pipeline/internal/model"
	"github.com/example/vision-pipeline/internal/notify"
	"github.com/example/vision-pipeline/internal/repository"
	"github.com/example/vision-pipeline/internal/retry"
)

// PredictionRepository defines the persistence operations needed by the use case.
type PredictionRepository interface {
	SaveLog(ctx context.Context, log *repository.PredictionLog) error
	FindByRequestID(ctx context.Context, requestID string) (*repository.PredictionLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// ClassifyUseCase downloads stored images and runs them through the model.
type ClassifyUseCase struct {
	store      gcs.ObjectStore
	classifier model.Classifier
	publisher  notify.Publisher
	cache      Cache
	repo       PredictionRepository
	cacheTTL   time.Duration
	policy     retry.Policy
	logger     *zap.Logger
}

// ClassifyOption configures the optional collaborators of ClassifyUseCase.
type ClassifyOption func(*ClassifyUseCase)

// WithPublisher republishes queue-triggered results.
func WithPublisher(p notify.Publisher) ClassifyOption {
	return func(uc *ClassifyUseCase) { uc.publisher = p }
}

// WithCache caches predictions per object path for ttl.
func WithCache(c Cache, ttl time.Duration) ClassifyOption {
	return func(uc *ClassifyUseCase) {
		uc.cache = c
		uc.cacheTTL = ttl
	}
}

// WithRepository records every prediction.
func WithRepository(r PredictionRepository) ClassifyOption {
	return func(uc *ClassifyUseCase) { uc.repo = r }
}

// WithRetryPolicy overrides the backoff used for cache calls.
func WithRetryPolicy(p retry.Policy) ClassifyOption {
	return func(uc *ClassifyUseCase) { uc.policy = p }
}

type cachedPrediction struct {
	Label      string    `json:"label"`
	Confidence float32   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewClassifyUseCase constructs a new use case instance.
func NewClassifyUseCase(store gcs.ObjectStore, classifier model.Classifier, logger *zap.Logger, opts ...ClassifyOption) *ClassifyUseCase {
	uc := &ClassifyUseCase{
		store:      store,
		classifier: classifier,
		cacheTTL:   10 * time.Minute,
		policy:     retry.Default,
		logger:     logger.Named("classify_usecase"),
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// Classify predicts the class of the image stored at rawPath.
func (uc *ClassifyUseCase) Classify(ctx context.Context, requestID, rawPath string) (*model.Prediction, error) {
	return uc.classify(ctx, requestID, rawPath, repository.SourceHTTP)
}

// ClassifyAndPublish classifies a queue-delivered path and republishes the
// result when a publisher is configured.
func (uc *ClassifyUseCase) ClassifyAndPublish(ctx context.Context, requestID, rawPath string) (*model.Prediction, string, error) {
	pred, err := uc.classify(ctx, requestID, rawPath, repository.SourcePubSub)
	if err != nil {
		return nil, "", err
	}
	if uc.publisher == nil {
		return pred, "", nil
	}

	msg := notify.ClassifiedMessage{GCSPath: rawPath, Label: pred.Label, Confidence: pred.Confidence}
	id, err := uc.publisher.Publish(ctx, msg, map[string]string{"request_id": requestID})
	if err != nil {
		logging.WithOperation(uc.logger, "usecase.classify_and_publish", requestID).
			Error("failed to publish prediction", zap.Error(err), zap.String("gcs_path", rawPath))
		return pred, "", logging.NewOperationError("notify.publish", requestID, err)
	}
	return pred, id, nil
}

func (uc *ClassifyUseCase) classify(ctx context.Context, requestID, rawPath, source string) (*model.Prediction, error) {
	start := time.Now()
	opLogger := logging.WithOperation(uc.logger, "usecase.classify", requestID)

	path, err := gcs.ParsePath(rawPath)
	if err != nil {
		opLogger.Warn("rejected gcs path", zap.String("gcs_path", rawPath), zap.Error(err))
		return nil, logging.NewOperationError("gcs.parse_path", requestID, err)
	}

	if pred, ok := uc.cached(ctx, requestID, path); ok {
		uc.record(ctx, requestID, path, pred, source, true, start)
		return pred, nil
	}

	data, err := uc.store.Get(ctx, path)
	if err != nil {
		opLogger.Warn("failed to download image", zap.String("gcs_path", path.String()), zap.Error(err))
		return nil, logging.NewOperationError("gcs.get", requestID, err)
	}

	img, err := imaging.Decode(data)
	if err != nil {
		opLogger.Warn("stored object is not an image", zap.String("gcs_path", path.String()), zap.Error(err))
		return nil, logging.NewOperationError("imaging.decode", requestID, err)
	}

	pred, err := uc.classifier.Classify(ctx, img)
	if err != nil {
		opLogger.Error("inference failed", zap.String("gcs_path", path.String()), zap.Error(err))
		return nil, logging.NewOperationError("model.classify", requestID, err)
	}

	uc.remember(ctx, requestID, path, pred)
	uc.record(ctx, requestID, path, pred, source, false, start)

	opLogger.Info("image classified",
		zap.String("gcs_path", path.String()),
		zap.String("label", pred.Label),
		zap.Float32("confidence", pred.Confidence),
		zap.Duration("elapsed", time.Since(start)),
	)
	return pred, nil
}

func (uc *ClassifyUseCase) cached(ctx context.Context, requestID string, path gcs.Path) (*model.Prediction, bool) {
	if uc.cache == nil {
		return nil, false
	}
	var raw []byte
	err := retry.Do(ctx, uc.policy, uc.logger, "cache.get.prediction", requestID, func() error {
		value, err := uc.cache.Get(ctx, predictionCacheKey(path.String()))
		if err != nil {
			return err
		}
		raw = value
		return nil
	})
	if err != nil {
		if !IsCacheMiss(err) {
			logging.WithOperation(uc.logger, "cache.get.prediction", requestID).Warn("failed to read cache", zap.Error(err))
		}
		return nil, false
	}

	var payload cachedPrediction
	if err := json.Unmarshal(raw, &payload); err != nil {
		logging.WithOperation(uc.logger, "cache.get.prediction", requestID).Warn("failed to decode cached prediction", zap.Error(err))
		return nil, false
	}
	return &model.Prediction{Label: payload.Label, Confidence: payload.Confidence, ClassIndex: -1}, true
}

func (uc *ClassifyUseCase) remember(ctx context.Context, requestID string, path gcs.Path, pred *model.Prediction) {
	if uc.cache == nil {
		return
	}
	serialized, err := json.Marshal(cachedPrediction{Label: pred.Label, Confidence: pred.Confidence, CreatedAt: time.Now().UTC()})
	if err != nil {
		return
	}
	err = retry.Do(ctx, uc.policy, uc.logger, "cache.set.prediction", requestID, func() error {
		return uc.cache.Set(ctx, predictionCacheKey(path.String()), serialized, uc.cacheTTL)
	})
	if err != nil {
		logging.WithOperation(uc.logger, "cache.set.prediction", requestID).Warn("failed to cache prediction", zap.Error(err))
	}
}

func (uc *ClassifyUseCase) record(ctx context.Context, requestID string, path gcs.Path, pred *model.Prediction, source string, cached bool, start time.Time) {
	if uc.repo == nil {
		return
	}
	log := &repository.PredictionLog{
		RequestID:  requestID,
		GCSPath:    path.String(),
		Label:      pred.Label,
		Confidence: pred.Confidence,
		Source:     source,
		Cached:     cached,
		LatencyMs:  time.Since(start).Milliseconds(),
		CreatedAt:  time.Now().UTC(),
	}
	if err := uc.repo.SaveLog(ctx, log); err != nil {
		logging.WithOperation(uc.logger, "repository.save_log", requestID).Warn("failed to persist prediction log", zap.Error(err))
	}
}
