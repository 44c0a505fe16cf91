package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/vision-pipeline/internal/retry"
)

// Prediction sources.
const (
	SourceHTTP   = "http"
	SourcePubSub = "pubsub"
)

// ErrLogNotFound is returned when no log matches a request id.
var ErrLogNotFound = errors.New("prediction log not found")

// PredictionLog records one classification.
type PredictionLog struct {
	ID         uint      `gorm:"primaryKey"`
	RequestID  string    `gorm:"column:request_id;uniqueIndex;size:64"`
	GCSPath    string    `gorm:"column:gcs_path;index;size:1024"`
	Label      string    `gorm:"column:label;index;size:255"`
	Confidence float32   `gorm:"column:confidence"`
	Source     string    `gorm:"column:source;size:16"`
	Cached     bool      `gorm:"column:cached"`
	LatencyMs  int64     `gorm:"column:latency_ms"`
	CreatedAt  time.Time `gorm:"column:created_at;index"`
}

// TableName overrides the default table name.
func (PredictionLog) TableName() string {
	return "prediction_logs"
}

// LabelCount is the number of predictions made for one label.
type LabelCount struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}

// MetricsAggregation holds raw aggregates over prediction_logs.
type MetricsAggregation struct {
	TotalCount        int64
	CachedCount       int64
	PubSubCount       int64
	AverageConfidence float64
	AverageLatencyMs  float64
	TopLabels         []LabelCount
}

// PredictionRepository persists prediction logs with gorm.
type PredictionRepository struct {
	db     *gorm.DB
	logger *zap.Logger
	policy retry.Policy
}

// NewPredictionRepository creates a new repository instance.
func NewPredictionRepository(db *gorm.DB, logger *zap.Logger) *PredictionRepository {
	return &PredictionRepository{
		db:     db,
		logger: logger.Named("prediction_repository"),
		policy: retry.Default,
	}
}

// AutoMigrate ensures the schema is available.
func (r *PredictionRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&PredictionLog{})
}

// SaveLog persists a prediction log entry.
func (r *PredictionRepository) SaveLog(ctx context.Context, log *PredictionLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByRequestID loads the log written for requestID.
func (r *PredictionRepository) FindByRequestID(ctx context.Context, requestID string) (*PredictionLog, error) {
	var log PredictionLog
	err := r.executeWithRetry(ctx, "repository.find_by_request_id", requestID, func() error {
		return r.db.WithContext(ctx).First(&log, "request_id = ?", requestID).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrLogNotFound
	}
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// AggregateMetrics summarises every stored prediction.
func (r *PredictionRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var row struct {
		TotalCount        int64
		CachedCount       int64
		PubSubCount       int64
		AverageConfidence float64
		AverageLatencyMs  float64
	}
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).Model(&PredictionLog{}).
			Select(`COUNT(*) AS total_count,
				COALESCE(SUM(CASE WHEN cached THEN 1 ELSE 0 END), 0) AS cached_count,
				COALESCE(SUM(CASE WHEN source = ? THEN 1 ELSE 0 END), 0) AS pub_sub_count,
				COALESCE(AVG(confidence), 0) AS average_confidence,
				COALESCE(AVG(latency_ms), 0) AS average_latency_ms`, SourcePubSub).
			Scan(&row).Error
	})
	if err != nil {
		return nil, err
	}

	var labels []LabelCount
	err = r.executeWithRetry(ctx, "repository.top_labels", "", func() error {
		return r.db.WithContext(ctx).Model(&PredictionLog{}).
			Select("label, COUNT(*) AS count").
			Group("label").
			Order("count DESC").
			Limit(10).
			Scan(&labels).Error
	})
	if err != nil {
		return nil, err
	}

	return &MetricsAggregation{
		TotalCount:        row.TotalCount,
		CachedCount:       row.CachedCount,
		PubSubCount:       row.PubSubCount,
		AverageConfidence: row.AverageConfidence,
		AverageLatencyMs:  row.AverageLatencyMs,
		TopLabels:         labels,
	}, nil
}

func (r *PredictionRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	return retry.Do(ctx, r.policy, r.logger, operation, requestID, fn)
}
