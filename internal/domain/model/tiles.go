package model

import (
	"fmt"
	"math"
	"time"
)

// TileKey タイルを一意に表す文字列（小数点以下3桁に切り捨てた "lat,lng"）
type TileKey string

// TileCoord タイルの格子インデックス（座標 × TileScale を切り捨てた整数）
type TileCoord struct {
	LatIndex int64
	LngIndex int64
}

// 浮動小数点誤差で 35.001 が 35.000 のセルに落ちないための補正
const tileIndexEpsilon = 1e-9

func tileIndex(v float64) int64 {
	return int64(math.Floor(v*TileScale + tileIndexEpsilon))
}

// TileCoordOf 座標が属するタイルを返す
// 負の座標でも同じ幅のセルになるよう、ゼロ方向ではなく floor で切り捨てる
func TileCoordOf(lat, lng float64) TileCoord {
	return TileCoord{LatIndex: tileIndex(lat), LngIndex: tileIndex(lng)}
}

// TileKeyOf 座標が属するタイルのキーを返す
func TileKeyOf(lat, lng float64) TileKey {
	return TileCoordOf(lat, lng).Key()
}

// Key タイルキーを生成
func (c TileCoord) Key() TileKey {
	return TileKey(fmt.Sprintf("%.*f,%.*f",
		TilePrecision, float64(c.LatIndex)/TileScale,
		TilePrecision, float64(c.LngIndex)/TileScale))
}

// Bounds タイルが覆う範囲
func (c TileCoord) Bounds() BoundingBox {
	return BoundingBox{
		MinLat: float64(c.LatIndex) / TileScale,
		MaxLat: float64(c.LatIndex+1) / TileScale,
		MinLng: float64(c.LngIndex) / TileScale,
		MaxLng: float64(c.LngIndex+1) / TileScale,
	}
}

// TileRange 境界ボックスに交差するタイルの格子範囲（両端を含む）
type TileRange struct {
	Min TileCoord
	Max TileCoord
}

// TileRangeOf 境界ボックスに交差するタイル範囲を返す
// 面積ゼロや不正な境界ボックスの場合は ok=false（タイルなし）
func TileRangeOf(b BoundingBox) (TileRange, bool) {
	if b.IsEmpty() {
		return TileRange{}, false
	}
	return TileRange{
		Min: TileCoordOf(b.MinLat, b.MinLng),
		Max: TileCoordOf(b.MaxLat, b.MaxLng),
	}, true
}

// Count 範囲に含まれるタイル数
func (r TileRange) Count() int64 {
	return (r.Max.LatIndex - r.Min.LatIndex + 1) * (r.Max.LngIndex - r.Min.LngIndex + 1)
}

// Contains タイルが範囲内かチェック
func (r TileRange) Contains(c TileCoord) bool {
	return c.LatIndex >= r.Min.LatIndex && c.LatIndex <= r.Max.LatIndex &&
		c.LngIndex >= r.Min.LngIndex && c.LngIndex <= r.Max.LngIndex
}

// Coords 範囲内のタイルを緯度→経度の順に列挙
func (r TileRange) Coords() []TileCoord {
	coords := make([]TileCoord, 0, r.Count())
	for lat := r.Min.LatIndex; lat <= r.Max.LatIndex; lat++ {
		for lng := r.Min.LngIndex; lng <= r.Max.LngIndex; lng++ {
			coords = append(coords, TileCoord{LatIndex: lat, LngIndex: lng})
		}
	}
	return coords
}

// CachedTile タイルごとにキャッシュされたPOIと取得時刻
// FetchedAt はタイル内の全POIで共通（部分的な鮮度は存在しない）
type CachedTile struct {
	Coord     TileCoord
	Points    []POI
	FetchedAt time.Time
}

// IsFresh now 時点で TTL 以内に取得されたタイルかチェック
func (t *CachedTile) IsFresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(t.FetchedAt) < ttl
}
