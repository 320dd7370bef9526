package model

import "errors"

// エンジン全体で使うドメインエラー
var (
	ErrInvalidBounds      = errors.New("invalid bounding box")
	ErrViewportTooLarge   = errors.New("viewport covers too many tiles")
	ErrGeodataUnavailable = errors.New("geodata service unavailable")
	ErrSessionNotFound    = errors.New("map session not found")
	ErrSessionClosed      = errors.New("map session closed")
)
