package model

import "time"

// CreateSessionResponse POST /api/map/sessions のレスポンス
type CreateSessionResponse struct {
	SessionID string    `json:"session_id"`
	ExpiresIn string    `json:"expires_in"`
	CreatedAt time.Time `json:"created_at"`
}

// MachinesResponse 表示中のマシンと読み込み状態
type MachinesResponse struct {
	SessionID  string       `json:"session_id"`
	Bounds     *BoundingBox `json:"bounds,omitempty"`
	Machines   []POI        `json:"machines"`
	Count      int          `json:"count"`
	IsFetching bool         `json:"is_fetching"`
	FetchError string       `json:"fetch_error,omitempty"`
	FetchedAt  *time.Time   `json:"fetched_at,omitempty"`
}
