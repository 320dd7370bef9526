package model

import "time"

// タイル分割の定数
const (
	// TilePrecision タイルキーの小数点以下の桁数（約111m四方）
	TilePrecision = 3
	// TileScale 座標をタイル格子インデックスに変換する倍率（10^TilePrecision）
	TileScale = 1000.0
)

// キャッシュの既定値
const (
	// DefaultTileTTL タイルを新鮮とみなす期間
	DefaultTileTTL = 5 * time.Minute
	// DefaultBufferRatio 先読みのため各辺に追加する幅の割合
	DefaultBufferRatio = 0.2
	// DefaultResultCap 1回のジオデータ取得で受け取る最大件数
	DefaultResultCap = 500
	// DefaultMaxTiles 保持するタイル数の上限（0 は無制限）
	DefaultMaxTiles = 50000
	// DefaultMaxTilesPerRefresh 1回の更新で列挙するタイル数の上限
	DefaultMaxTilesPerRefresh = 250000
)

// スケジューラの既定値
const (
	DefaultThrottleWindow = 300 * time.Millisecond
	DefaultDebounceWindow = 500 * time.Millisecond
)

// SignificantOverflowRatio 新しいビューポートが前回取得範囲から「有意に」はみ出したと判定する割合
// 再取得の省略判定とスロットル/デバウンス判定の両方でこの値だけを使う。
// 先読みバッファと同じ値なので、これ以下のパンは先読み済みの範囲に収まる。
const SignificantOverflowRatio = DefaultBufferRatio
