package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"MachineMap-App/internal/domain/model"
	"MachineMap-App/internal/domain/repository"
	"MachineMap-App/internal/infrastructure/database"
)

type PostgresGeodataRepository struct {
	client *database.PostgreSQLClient
}

func NewPostgresGeodataRepository(client *database.PostgreSQLClient) repository.GeodataRepository {
	return &PostgresGeodataRepository{
		client: client,
	}
}

// MachineResult PostGIS クエリの結果を受け取るための構造体
type MachineResult struct {
	ID             string
	Name           string
	Location       string
	Categories     string
	Status         string
	LastVerifiedAt sql.NullTime
	URL            sql.NullString
}

// ToPOI MachineResultをmodel.POIに変換
func (mr *MachineResult) ToPOI() (*model.POI, error) {
	var location model.Geometry
	if err := json.Unmarshal([]byte(mr.Location), &location); err != nil {
		return nil, fmt.Errorf("location JSONBパースエラー: %w", err)
	}

	categories := []string{}
	if mr.Categories != "" {
		if err := json.Unmarshal([]byte(mr.Categories), &categories); err != nil {
			return nil, fmt.Errorf("categories JSONBパースエラー: %w", err)
		}
	}

	poi := &model.POI{
		ID:         mr.ID,
		Name:       mr.Name,
		Location:   &location,
		Categories: categories,
		Status:     mr.Status,
	}
	if mr.LastVerifiedAt.Valid {
		verifiedAt := mr.LastVerifiedAt.Time
		poi.LastVerifiedAt = &verifiedAt
	}
	if mr.URL.Valid {
		poi.SetURL(mr.URL.String)
	}

	return poi, nil
}

const fetchMachinesInBoundsQuery = `
	SELECT
		m.id, m.name,
		ST_AsGeoJSON(m.location)::jsonb AS location,
		COALESCE(m.categories, '[]'::jsonb) AS categories,
		m.status, m.last_verified_at, m.url
	FROM machines m
	WHERE ST_Intersects(m.location, ST_GeomFromText($1, 4326))
	LIMIT $2
`

// FetchInBounds PostGIS の ST_Intersects で境界ボックス内のマシンを取得
func (r *PostgresGeodataRepository) FetchInBounds(ctx context.Context, bounds model.BoundingBox, limit int) ([]model.POI, error) {
	rows, err := r.client.DB.QueryContext(ctx, fetchMachinesInBoundsQuery, BoundsToWKT(bounds), limit)
	if err != nil {
		return nil, fmt.Errorf("範囲内のマシンデータ取得失敗: %w", err)
	}
	defer rows.Close()

	pois := make([]model.POI, 0, limit)
	for rows.Next() {
		var result MachineResult
		if err := rows.Scan(&result.ID, &result.Name, &result.Location, &result.Categories,
			&result.Status, &result.LastVerifiedAt, &result.URL); err != nil {
			return nil, fmt.Errorf("マシンデータスキャンエラー: %w", err)
		}

		poi, err := result.ToPOI()
		if err != nil {
			return nil, err
		}
		pois = append(pois, *poi)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("マシンデータ読み込みエラー: %w", err)
	}

	return pois, nil
}
