package usecase

import "context"

// MetricsSummary represents aggregated verification insights.
type MetricsSummary struct {
	TotalRequests              int64            `json:"total_requests"`
	VerifiedRequests           int64            `json:"verified_requests"`
	VerificationRate           float64          `json:"verification_rate"`
	AverageScore               float64          `json:"average_score"`
	AverageProcessingLatencyMs float64          `json:"average_processing_latency_ms"`
	StatusCounts               map[string]int64 `json:"status_counts"`
}

// GetMetricsSummary aggregates verification metrics from persisted logs.
func (uc *VerificationUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalRequests:              aggregation.TotalCount,
		VerifiedRequests:           aggregation.SuccessCount,
		AverageScore:               aggregation.AverageScore,
		AverageProcessingLatencyMs: aggregation.AverageProcessingLatencyMs,
		StatusCounts:               aggregation.StatusCounts,
	}
	if summary.StatusCounts == nil {
		summary.StatusCounts = map[string]int64{}
	}

	if aggregation.TotalCount > 0 {
		summary.VerificationRate = float64(aggregation.SuccessCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
