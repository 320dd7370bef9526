package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"MachineMap-App/internal/domain/model"
	"MachineMap-App/internal/domain/repository"
	"MachineMap-App/internal/infrastructure/database"
)

// SupabaseGeodataRepository PostgREST 経由で machines テーブルを範囲検索する
type SupabaseGeodataRepository struct {
	client *database.SupabaseClient
}

func NewSupabaseGeodataRepository(client *database.SupabaseClient) repository.GeodataRepository {
	return &SupabaseGeodataRepository{
		client: client,
	}
}

// FetchInBounds 緯度経度の範囲フィルタで最大 limit 件のマシンを取得
func (r *SupabaseGeodataRepository) FetchInBounds(ctx context.Context, bounds model.BoundingBox, limit int) ([]model.POI, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Gte/Lte は列名をキーに上書きするため、同じ列の上下限は and でまとめる
	data, _, err := r.client.GetClient().From(machinesTable).
		Select("*", "", false).
		And(boundsFilter(bounds), "").
		Limit(limit, "").
		Execute()
	if err != nil {
		return nil, fmt.Errorf("マシンデータの取得失敗: %w", err)
	}

	return decodeMachineRows(data)
}

// boundsFilter PostgREST の and=(...) に渡す緯度経度の範囲条件
func boundsFilter(bounds model.BoundingBox) string {
	return strings.Join([]string{
		"latitude.gte." + formatCoord(bounds.MinLat),
		"latitude.lte." + formatCoord(bounds.MaxLat),
		"longitude.gte." + formatCoord(bounds.MinLng),
		"longitude.lte." + formatCoord(bounds.MaxLng),
	}, ",")
}

func decodeMachineRows(data []byte) ([]model.POI, error) {
	var rows []MachineRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("マシンデータのJSONアンマーシャル失敗: %w", err)
	}

	pois := make([]model.POI, 0, len(rows))
	for i := range rows {
		pois = append(pois, rows[i].ToPOI())
	}
	return pois, nil
}
