package helper

import (
	"MachineMap-App/internal/domain/model"
)

// SelectVisible タイルを結合し、ID で重複を除去（後勝ち）し、正確な境界で絞り込んだ表示用スライスを返す
// タイル境界付近のPOIは複数タイルから到達しうるため、同じIDは最後に現れた値で上書きする。
// 並び順は最初に現れた位置を保つ。
func SelectVisible(tiles []*model.CachedTile, bounds model.BoundingBox) []model.POI {
	var merged []model.POI
	for _, tile := range tiles {
		if tile == nil {
			continue
		}
		merged = append(merged, tile.Points...)
	}
	return FilterInBounds(DedupeByID(merged), bounds)
}

// DedupeByID ID の重複を除去する（同じIDは後に現れた値を採用）
func DedupeByID(pois []model.POI) []model.POI {
	index := make(map[string]int, len(pois))
	result := make([]model.POI, 0, len(pois))

	for _, poi := range pois {
		if i, ok := index[poi.ID]; ok {
			result[i] = poi
			continue
		}
		index[poi.ID] = len(result)
		result = append(result, poi)
	}
	return result
}

// FilterInBounds 生の座標が境界ボックス内にあるPOIだけを抽出する
// タイルの所属判定は境界ボックスより粗いため、最後に必ずこの判定を通す
func FilterInBounds(pois []model.POI, bounds model.BoundingBox) []model.POI {
	filtered := make([]model.POI, 0, len(pois))
	for i := range pois {
		if !pois[i].HasLocation() {
			continue
		}
		ll := pois[i].ToLatLng()
		if bounds.Contains(ll.Lat, ll.Lng) {
			filtered = append(filtered, pois[i])
		}
	}
	return filtered
}

// HasDuplicateIDs スライスに同じIDのPOIが含まれているかチェック
func HasDuplicateIDs(pois []model.POI) bool {
	seen := make(map[string]struct{}, len(pois))
	for _, poi := range pois {
		if _, ok := seen[poi.ID]; ok {
			return true
		}
		seen[poi.ID] = struct{}{}
	}
	return false
}
