package model

import "time"

// LatLng 緯度経度を表す基本的な型
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// POI 地図上に表示するスポット（マシン）を表すモデル
// キャッシュ上では ID が同一性、位置は取得間で変化しないものとして扱う
type POI struct {
	ID             string     `json:"id" db:"id"`                                       // ユニークなスポットID
	Name           string     `json:"name" db:"name"`                                   // スポット名
	Location       *Geometry  `json:"location" db:"location"`                           // 位置情報（PostGIS GEOMETRY型）
	Categories     []string   `json:"categories" db:"categories"`                       // カテゴリ（複数対応）
	Status         string     `json:"status" db:"status"`                               // 稼働状況
	LastVerifiedAt *time.Time `json:"last_verified_at,omitempty" db:"last_verified_at"` // 最終確認日時（チェックインで更新）
	URL            *string    `json:"url,omitempty" db:"url"`                           // URL（NULLABLE）
}

// ToLatLng POIの位置情報をLatLng型に変換
func (p *POI) ToLatLng() LatLng {
	if p.Location != nil && len(p.Location.Coordinates) >= 2 {
		return LatLng{
			Lat: p.Location.Coordinates[1], // latitude
			Lng: p.Location.Coordinates[0], // longitude
		}
	}
	return LatLng{}
}

// HasLocation 位置情報を持っているかチェック
func (p *POI) HasLocation() bool {
	return p.Location != nil && len(p.Location.Coordinates) >= 2
}

// GetURL URLが存在する場合は値を、存在しない場合は空文字列を返す
func (p *POI) GetURL() string {
	if p.URL != nil {
		return *p.URL
	}
	return ""
}

// SetURL URLを設定する（空文字の場合はnilのまま保持）
func (p *POI) SetURL(url string) {
	if url != "" {
		p.URL = &url
	}
}

// Geometry PostGIS GEOMETRY型に対応する構造体
type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"` // [longitude, latitude]
}

// NewPointGeometry 緯度経度から Point ジオメトリを作成
func NewPointGeometry(lat, lng float64) *Geometry {
	return &Geometry{
		Type:        "Point",
		Coordinates: []float64{lng, lat},
	}
}

// MachineDocument Firestoreの machines コレクションのドキュメント
type MachineDocument struct {
	Name           string     `firestore:"name"`
	Latitude       float64    `firestore:"latitude"`
	Longitude      float64    `firestore:"longitude"`
	Categories     []string   `firestore:"categories"`
	Status         string     `firestore:"status"`
	LastVerifiedAt *time.Time `firestore:"last_verified_at"`
	URL            *string    `firestore:"url"`
}

// ToPOI ドキュメントIDを付与して POI に変換
func (d *MachineDocument) ToPOI(id string) POI {
	return POI{
		ID:             id,
		Name:           d.Name,
		Location:       NewPointGeometry(d.Latitude, d.Longitude),
		Categories:     d.Categories,
		Status:         d.Status,
		LastVerifiedAt: d.LastVerifiedAt,
		URL:            d.URL,
	}
}
