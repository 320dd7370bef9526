package repository

import (
	"strconv"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"

	"MachineMap-App/internal/domain/model"
)

// machinesTable 各バックエンドで共通のテーブル/コレクション名
const machinesTable = "machines"

// BoundsToWKT 境界ボックスを PostGIS に渡す WKT の POLYGON に変換
func BoundsToWKT(bounds model.BoundingBox) string {
	return wkt.MarshalString(bounds.Bound().ToPolygon())
}

// formatCoord PostgREST のフィルタ値として座標を文字列化
func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// MachineRow Supabase (PostgREST) の machines テーブルの JSON 表現
type MachineRow struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Latitude       float64    `json:"latitude"`
	Longitude      float64    `json:"longitude"`
	Categories     []string   `json:"categories"`
	Status         string     `json:"status"`
	LastVerifiedAt *time.Time `json:"last_verified_at"`
	URL            *string    `json:"url"`
}

// ToPOI MachineRow を model.POI に変換
func (r *MachineRow) ToPOI() model.POI {
	point := orb.Point{r.Longitude, r.Latitude}
	poi := model.POI{
		ID:             r.ID,
		Name:           r.Name,
		Location:       model.NewPointGeometry(point.Lat(), point.Lon()),
		Categories:     r.Categories,
		Status:         r.Status,
		LastVerifiedAt: r.LastVerifiedAt,
	}
	if r.URL != nil {
		poi.SetURL(*r.URL)
	}
	if poi.Categories == nil {
		poi.Categories = []string{}
	}
	return poi
}

// inBounds orb で座標が境界ボックス内か判定（クエリ側で絞り切れないバックエンド用）
func inBounds(bound orb.Bound, lat, lng float64) bool {
	return bound.Contains(orb.Point{lng, lat})
}
