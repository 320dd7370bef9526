package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// BoundingBox 地図ビューポートやクエリ範囲を表す緯度経度の矩形（度単位）
type BoundingBox struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLng float64 `json:"max_lng"`
}

// BoundingBoxFromBound orb.Bound から BoundingBox に変換
func BoundingBoxFromBound(bound orb.Bound) BoundingBox {
	return BoundingBox{
		MinLat: bound.Min.Lat(),
		MaxLat: bound.Max.Lat(),
		MinLng: bound.Min.Lon(),
		MaxLng: bound.Max.Lon(),
	}
}

// Bound BoundingBox を orb.Bound に変換
func (b BoundingBox) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.MinLng, b.MinLat},
		Max: orb.Point{b.MaxLng, b.MaxLat},
	}
}

// IsValid 全ての座標が有限値で、min <= max を満たしているかチェック
func (b BoundingBox) IsValid() bool {
	for _, v := range []float64{b.MinLat, b.MaxLat, b.MinLng, b.MaxLng} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.MinLat <= b.MaxLat && b.MinLng <= b.MaxLng
}

// IsEmpty 面積がゼロ、または不正な境界ボックスかチェック
func (b BoundingBox) IsEmpty() bool {
	return !b.IsValid() || b.MinLat == b.MaxLat || b.MinLng == b.MaxLng
}

// LatSpan 緯度方向の幅
func (b BoundingBox) LatSpan() float64 { return b.MaxLat - b.MinLat }

// LngSpan 経度方向の幅
func (b BoundingBox) LngSpan() float64 { return b.MaxLng - b.MinLng }

// Contains 指定座標が境界ボックス内（境界上を含む）にあるかチェック
func (b BoundingBox) Contains(lat, lng float64) bool {
	return b.Bound().Contains(orb.Point{lng, lat})
}

// Intersects 2つの境界ボックスが重なっているかチェック
func (b BoundingBox) Intersects(other BoundingBox) bool {
	return b.Bound().Intersects(other.Bound())
}

// Expand 各辺に幅の ratio 倍のバッファを追加した境界ボックスを返す
// 緯度は ±90、経度は ±180 にクランプする
func (b BoundingBox) Expand(ratio float64) BoundingBox {
	latPad := b.LatSpan() * ratio
	lngPad := b.LngSpan() * ratio

	return BoundingBox{
		MinLat: math.Max(b.MinLat-latPad, -90),
		MaxLat: math.Min(b.MaxLat+latPad, 90),
		MinLng: math.Max(b.MinLng-lngPad, -180),
		MaxLng: math.Min(b.MaxLng+lngPad, 180),
	}
}

// String bbox クエリパラメータと同じ min_lng,min_lat,max_lng,max_lat 形式
func (b BoundingBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.MinLng, b.MinLat, b.MaxLng, b.MaxLat)
}

// ExtendsSignificantly next が last からどれだけはみ出しているかを軸ごとに計算し、
// どちらかの軸ではみ出し量の合計が last の幅の threshold 倍を超えたら true を返す
func ExtendsSignificantly(next, last BoundingBox, threshold float64) bool {
	latOverflow := math.Max(0, last.MinLat-next.MinLat) + math.Max(0, next.MaxLat-last.MaxLat)
	lngOverflow := math.Max(0, last.MinLng-next.MinLng) + math.Max(0, next.MaxLng-last.MaxLng)

	return overflowExceeds(latOverflow, last.LatSpan(), threshold) ||
		overflowExceeds(lngOverflow, last.LngSpan(), threshold)
}

func overflowExceeds(overflow, span, threshold float64) bool {
	if overflow <= 0 {
		return false
	}
	// 幅ゼロの前回範囲からのはみ出しは常に有意
	if span <= 0 {
		return true
	}
	return overflow/span > threshold
}

// ParseBBox "min_lng,min_lat,max_lng,max_lat" 形式の文字列を解析
func ParseBBox(raw string) (BoundingBox, error) {
	coords := strings.Split(raw, ",")
	if len(coords) != 4 {
		return BoundingBox{}, fmt.Errorf("%w: bbox must contain 4 coordinates: min_lng,min_lat,max_lng,max_lat", ErrInvalidBounds)
	}

	names := []string{"min_lng", "min_lat", "max_lng", "max_lat"}
	values := make([]float64, 4)
	for i, c := range coords {
		v, err := strconv.ParseFloat(strings.TrimSpace(c), 64)
		if err != nil {
			return BoundingBox{}, fmt.Errorf("%w: invalid %s value", ErrInvalidBounds, names[i])
		}
		values[i] = v
	}

	b := BoundingBox{MinLng: values[0], MinLat: values[1], MaxLng: values[2], MaxLat: values[3]}
	if err := b.Validate(); err != nil {
		return BoundingBox{}, err
	}
	return b, nil
}

// Validate 外部から受け取った境界ボックスを検証する（min <= max かつ緯度経度の有効範囲内）
func (b BoundingBox) Validate() error {
	if !b.IsValid() {
		return fmt.Errorf("%w: min値がmax値を超えています", ErrInvalidBounds)
	}
	if b.MinLng < -180 || b.MaxLng > 180 || b.MinLat < -90 || b.MaxLat > 90 {
		return fmt.Errorf("%w: 座標値が有効範囲外です", ErrInvalidBounds)
	}
	return nil
}
