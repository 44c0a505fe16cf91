package usecase

import (
	"context"
	"errors"

	"github.com/example/vision-pipeline/internal/repository"
)

// ErrPersistenceDisabled is returned when no prediction repository is configured.
var ErrPersistenceDisabled = errors.New("prediction persistence is disabled")

// MetricsSummary represents aggregated prediction insights.
type MetricsSummary struct {
	TotalPredictions  int64                   `json:"total_predictions"`
	CachedPredictions int64                   `json:"cached_predictions"`
	PubSubPredictions int64                   `json:"pubsub_predictions"`
	CacheHitRate      float64                 `json:"cache_hit_rate"`
	AverageConfidence float64                 `json:"average_confidence"`
	AverageLatencyMs  float64                 `json:"average_latency_ms"`
	TopLabels         []repository.LabelCount `json:"top_labels"`
}

// GetMetricsSummary aggregates prediction metrics from persisted logs.
func (uc *ClassifyUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	if uc.repo == nil {
		return nil, ErrPersistenceDisabled
	}
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalPredictions:  aggregation.TotalCount,
		CachedPredictions: aggregation.CachedCount,
		PubSubPredictions: aggregation.PubSubCount,
		AverageConfidence: aggregation.AverageConfidence,
		AverageLatencyMs:  aggregation.AverageLatencyMs,
		TopLabels:         aggregation.TopLabels,
	}
	if summary.TopLabels == nil {
		summary.TopLabels = []repository.LabelCount{}
	}

	if aggregation.TotalCount > 0 {
		summary.CacheHitRate = float64(aggregation.CachedCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}

// GetPrediction loads the prediction logged for requestID.
func (uc *ClassifyUseCase) GetPrediction(ctx context.Context, requestID string) (*repository.PredictionLog, error) {
	if uc.repo == nil {
		return nil, ErrPersistenceDisabled
	}
	return uc.repo.FindByRequestID(ctx, requestID)
}
