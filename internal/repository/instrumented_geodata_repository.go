package repository

import (
	"context"
	"log/slog"
	"time"

	"MachineMap-App/internal/domain/model"
	"MachineMap-App/internal/domain/repository"
	"MachineMap-App/internal/metrics"
)

// InstrumentedGeodataRepository 呼び出し回数・失敗・所要時間・件数を記録するデコレータ
type InstrumentedGeodataRepository struct {
	next    repository.GeodataRepository
	backend string
	logger  *slog.Logger
}

// NewInstrumentedGeodataRepository backend はメトリクスのラベル（supabase / postgres / firestore）
func NewInstrumentedGeodataRepository(next repository.GeodataRepository, backend string, logger *slog.Logger) repository.GeodataRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &InstrumentedGeodataRepository{
		next:    next,
		backend: backend,
		logger:  logger.With("backend", backend),
	}
}

func (r *InstrumentedGeodataRepository) FetchInBounds(ctx context.Context, bounds model.BoundingBox, limit int) ([]model.POI, error) {
	metrics.GeodataRequestsTotal.WithLabelValues(r.backend).Inc()
	start := time.Now()

	pois, err := r.next.FetchInBounds(ctx, bounds, limit)

	elapsed := time.Since(start)
	metrics.GeodataDurationMs.WithLabelValues(r.backend).Observe(float64(elapsed.Milliseconds()))
	if err != nil {
		metrics.GeodataFailTotal.WithLabelValues(r.backend).Inc()
		r.logger.Warn("⚠️ ジオデータ取得エラー", "bounds", bounds.String(), "elapsed", elapsed, "error", err)
		return nil, err
	}

	metrics.GeodataPointsReturned.WithLabelValues(r.backend).Observe(float64(len(pois)))
	if len(pois) >= limit {
		r.logger.Debug("取得件数が上限に達しました", "bounds", bounds.String(), "limit", limit)
	}
	return pois, nil
}
