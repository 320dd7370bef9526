package repository

import (
	"context"

	"MachineMap-App/internal/domain/model"
)

// GeodataRepository 境界ボックス内のPOIを返す外部ジオデータサービス
// 1回の呼び出しで箱全体を取得し、件数は limit で打ち切る。リトライやバックオフは行わない。
type GeodataRepository interface {
	FetchInBounds(ctx context.Context, bounds model.BoundingBox, limit int) ([]model.POI, error)
}
