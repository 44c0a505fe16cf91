package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/vision-pipeline/internal/gcs"
	"github.com/example/vision-pipeline/internal/imaging"
	"github.com/example/vision-pipeline/internal/logging"
	"github.com/example/vision-pipeline/internal/notify"
)

// PreprocessResult describes a stored image.
type PreprocessResult struct {
	GCSPath   string
	MessageID string
}

// PreprocessUseCase normalises uploads, stores them and announces them.
type PreprocessUseCase struct {
	store     gcs.ObjectStore
	publisher notify.Publisher
	bucket    string
	options   imaging.Options
	logger    *zap.Logger
	newKey    func() string
}

// NewPreprocessUseCase builds the use case. A nil publisher disables the
// notification step.
func NewPreprocessUseCase(store gcs.ObjectStore, publisher notify.Publisher, bucket string, options imaging.Options, logger *zap.Logger) *PreprocessUseCase {
	return &PreprocessUseCase{
		store:     store,
		publisher: publisher,
		bucket:    bucket,
		options:   options,
		logger:    logger.Named("preprocess_usecase"),
		newKey:    func() string { return uuid.NewString() + ".jpg" },
	}
}

// Publishes reports whether stored images are announced on a topic.
func (uc *PreprocessUseCase) Publishes() bool {
	return uc.publisher != nil
}

// Preprocess stores a normalised copy of data. When publishing fails the
// returned result still carries the stored path.
func (uc *PreprocessUseCase) Preprocess(ctx context.Context, requestID string, data []byte) (*PreprocessResult, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.preprocess", requestID)
	start := time.Now()

	encoded, err := imaging.Normalize(data, uc.options)
	if err != nil {
		opLogger.Warn("normalize failed", zap.Error(err), zap.Int("input_bytes", len(data)))
		return nil, logging.NewOperationError("imaging.normalize", requestID, err)
	}

	path := gcs.Path{Bucket: uc.bucket, Object: uc.newKey()}
	if err := uc.store.Put(ctx, path, encoded, "image/jpeg"); err != nil {
		opLogger.Error("failed to store image", zap.Error(err), zap.String("gcs_path", path.String()))
		return nil, logging.NewOperationError("gcs.put", requestID, err)
	}

	result := &PreprocessResult{GCSPath: path.String()}

	if uc.publisher != nil {
		id, err := uc.publisher.Publish(ctx, notify.PreprocessedMessage{GCSPath: result.GCSPath}, map[string]string{"request_id": requestID})
		if err != nil {
			opLogger.Error("failed to publish notification", zap.Error(err), zap.String("gcs_path", result.GCSPath))
			return result, logging.NewOperationError("notify.publish", requestID, err)
		}
		result.MessageID = id
	}

	opLogger.Info("image preprocessed",
		zap.String("gcs_path", result.GCSPath),
		zap.Int("input_bytes", len(data)),
		zap.Int("output_bytes", len(encoded)),
		zap.String("message_id", result.MessageID),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}
