package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"MachineMap-App/internal/domain/helper"
	"MachineMap-App/internal/domain/model"
	"MachineMap-App/internal/domain/repository"
	"MachineMap-App/internal/metrics"
)

var tracer = otel.Tracer("MachineMap-App/internal/domain/service")

// TileCacheOptions タイルキャッシュの設定
type TileCacheOptions struct {
	TTL                time.Duration
	BufferRatio        float64
	ResultCap          int
	MaxTiles           int // 0 は無制限
	MaxTilesPerRefresh int
}

// DefaultTileCacheOptions 既定値の設定を返す
func DefaultTileCacheOptions() TileCacheOptions {
	return TileCacheOptions{
		TTL:                model.DefaultTileTTL,
		BufferRatio:        model.DefaultBufferRatio,
		ResultCap:          model.DefaultResultCap,
		MaxTiles:           model.DefaultMaxTiles,
		MaxTilesPerRefresh: model.DefaultMaxTilesPerRefresh,
	}
}

// RefreshResult RefreshForBounds の結果
// 失敗してもエラーとして返さず Success=false にする。キャッシュと表示スライスは直前の状態のまま。
type RefreshResult struct {
	Success   bool
	FromCache bool // ネットワーク呼び出しなしでキャッシュから応答した
	Discarded bool // より新しい取得が発行済みのため結果を捨てた
	Truncated bool // 応答が件数上限に達したため、点を受け取らなかったタイルは古いまま残した
	Points    []model.POI
	Err       error
}

// TileCacheStats キャッシュの状態
type TileCacheStats struct {
	Tiles      int
	Points     int
	InFlight   int
	Generation uint64
}

// TileCache 地表を固定サイズのタイルに分割してPOIをキャッシュする
// 地図セッションごとに1つ生成し、セッション終了とともに破棄する。
type TileCache struct {
	mu     sync.RWMutex
	repo   repository.GeodataRepository
	clock  Clock
	logger *slog.Logger
	opts   TileCacheOptions

	tiles map[model.TileKey]*model.CachedTile

	visible     []model.POI
	viewport    model.BoundingBox
	hasViewport bool

	generation    uint64
	inFlight      int
	fetchErr      error
	lastFetchedAt time.Time
}

// NewTileCache 空のタイルキャッシュを作成
func NewTileCache(repo repository.GeodataRepository, clock Clock, logger *slog.Logger, opts TileCacheOptions) *TileCache {
	if clock == nil {
		clock = SystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TTL <= 0 {
		opts.TTL = model.DefaultTileTTL
	}
	if opts.BufferRatio < 0 {
		opts.BufferRatio = 0
	}
	if opts.ResultCap <= 0 {
		opts.ResultCap = model.DefaultResultCap
	}
	if opts.MaxTilesPerRefresh <= 0 {
		opts.MaxTilesPerRefresh = model.DefaultMaxTilesPerRefresh
	}

	return &TileCache{
		repo:   repo,
		clock:  clock,
		logger: logger,
		opts:   opts,
		tiles:  make(map[model.TileKey]*model.CachedTile),
	}
}

// RefreshForBounds 拡張した範囲の古いタイルをまとめて取得し直し、表示スライスを更新する
//  1. 各辺に BufferRatio 分の余白を足した範囲を計算
//  2. 拡張範囲に交差するタイルを列挙し、新鮮/古いに分類
//  3. 古いタイルがなければネットワークを使わずキャッシュから応答
//  4. 古いタイルがあれば拡張範囲全体を1回で取得し、古いタイルを空にしてから振り分ける
//  5. 最新のビューポートで表示スライスを再計算して公開する
//
// 失敗時はキャッシュに触れず、FetchError を立てて Success=false を返す。
func (c *TileCache) RefreshForBounds(ctx context.Context, bounds model.BoundingBox) RefreshResult {
	return c.PrepareRefresh(ctx, bounds)()
}

// PrepareRefresh RefreshForBounds の前半（ビューポートの記録、古いタイルの判定、世代の採番）を同期的に行い、
// ネットワーク取得とマージを行う残りの処理を返す。
// 呼び出し順に世代が進むので、返された関数を別ゴルーチンで実行しても新しい要求が古い応答に上書きされない。
func (c *TileCache) PrepareRefresh(ctx context.Context, bounds model.BoundingBox) func() RefreshResult {
	ctx, span := tracer.Start(ctx, "TileCache.RefreshForBounds", trace.WithAttributes(
		attribute.String("bounds", bounds.String()),
	))
	resolved := func(result RefreshResult) func() RefreshResult {
		span.End()
		return func() RefreshResult { return result }
	}

	if !bounds.IsValid() {
		metrics.RefreshTotal.WithLabelValues("invalid").Inc()
		return resolved(RefreshResult{Err: fmt.Errorf("%w: %s", model.ErrInvalidBounds, bounds)})
	}

	expanded := bounds.Expand(c.opts.BufferRatio)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.viewport = bounds
	c.hasViewport = true

	rng, ok := model.TileRangeOf(expanded)
	if !ok {
		// 面積ゼロの範囲はタイルなしとして扱う
		c.visible = []model.POI{}
		metrics.RefreshTotal.WithLabelValues("cache").Inc()
		return resolved(RefreshResult{Success: true, FromCache: true, Points: []model.POI{}})
	}

	if rng.Count() > int64(c.opts.MaxTilesPerRefresh) {
		c.visible = c.pointsInBoundsLocked(bounds)
		metrics.RefreshTotal.WithLabelValues("too_large").Inc()
		c.logger.Warn("⚠️ ビューポートが広すぎるため取得をスキップ", "tiles", rng.Count(), "limit", c.opts.MaxTilesPerRefresh)
		return resolved(RefreshResult{Err: fmt.Errorf("%w: %d tiles", model.ErrViewportTooLarge, rng.Count())})
	}

	now := c.clock.Now()
	stale := make(map[model.TileKey]model.TileCoord)
	for _, coord := range rng.Coords() {
		key := coord.Key()
		if tile, exists := c.tiles[key]; !exists || !tile.IsFresh(now, c.opts.TTL) {
			stale[key] = coord
		}
	}

	if len(stale) == 0 {
		c.visible = c.pointsInBoundsLocked(bounds)
		points := slices.Clone(c.visible)
		metrics.RefreshTotal.WithLabelValues("cache").Inc()
		c.logger.Debug("キャッシュから応答", "bounds", bounds.String(), "points", len(points))
		return resolved(RefreshResult{Success: true, FromCache: true, Points: points})
	}

	c.generation++
	gen := c.generation
	c.inFlight++

	span.SetAttributes(attribute.Int("stale_tiles", len(stale)), attribute.Int64("generation", int64(gen)))
	c.logger.Debug("🌐 ジオデータ取得開始", "expanded", expanded.String(), "stale_tiles", len(stale), "generation", gen)

	return func() RefreshResult {
		defer span.End()
		fetched, err := c.repo.FetchInBounds(ctx, expanded, c.opts.ResultCap)
		return c.merge(gen, stale, fetched, err, span)
	}
}

// merge 取得結果を古いタイルに振り分け、表示スライスを公開する
func (c *TileCache) merge(gen uint64, stale map[model.TileKey]model.TileCoord, fetched []model.POI, err error, span trace.Span) RefreshResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight--

	if gen != c.generation {
		metrics.RefreshTotal.WithLabelValues("discarded").Inc()
		c.logger.Debug("新しい取得が発行済みのため結果を破棄", "generation", gen, "latest", c.generation)
		return RefreshResult{Discarded: true}
	}

	if err != nil {
		if !errors.Is(err, model.ErrGeodataUnavailable) {
			err = fmt.Errorf("%w: %w", model.ErrGeodataUnavailable, err)
		}
		c.fetchErr = err
		span.RecordError(err)
		span.SetStatus(codes.Error, "geodata fetch failed")
		metrics.RefreshTotal.WithLabelValues("failed").Inc()
		c.logger.Error("❌ ジオデータ取得失敗", "error", err, "generation", gen)
		return RefreshResult{Err: err}
	}

	fetchedAt := c.clock.Now()

	received := make(map[model.TileKey][]model.POI, len(stale))
	for _, poi := range fetched {
		if !poi.HasLocation() {
			continue
		}
		ll := poi.ToLatLng()
		key := model.TileKeyOf(ll.Lat, ll.Lng)
		// 新鮮なタイルと列挙範囲外のタイルには触れない
		if _, isStale := stale[key]; !isStale {
			continue
		}
		received[key] = append(received[key], poi)
	}

	// 上限で切られた応答では、点のないタイルが本当に空なのか分からない
	truncated := len(fetched) >= c.opts.ResultCap
	written := stale
	if truncated {
		written = make(map[model.TileKey]model.TileCoord, len(received))
		for key := range received {
			written[key] = stale[key]
		}
	}

	// 古いタイルは丸ごと置き換える（上流で消えたPOIを残さない）
	for key, coord := range written {
		points := received[key]
		if points == nil {
			points = []model.POI{}
		}
		c.tiles[key] = &model.CachedTile{Coord: coord, Points: points, FetchedAt: fetchedAt}
	}

	c.fetchErr = nil
	c.lastFetchedAt = fetchedAt
	c.evictLocked(written)

	c.visible = c.pointsInBoundsLocked(c.viewport)
	points := slices.Clone(c.visible)

	if truncated {
		metrics.RefreshTotal.WithLabelValues("truncated").Inc()
		c.logger.Warn("⚠️ 取得件数が上限に達したため一部のタイルは次回再取得", "fetched", len(fetched), "result_cap", c.opts.ResultCap, "stale_tiles", len(stale), "written_tiles", len(written))
	} else {
		metrics.RefreshTotal.WithLabelValues("network").Inc()
		c.logger.Info("✅ タイル更新完了", "fetched", len(fetched), "stale_tiles", len(stale), "visible", len(points), "tiles", len(c.tiles))
	}

	return RefreshResult{Success: true, Truncated: truncated, Points: points}
}

// PointsInBounds 現在のキャッシュ内容から境界ボックス内のPOIを返す（鮮度は見ない・副作用なし）
func (c *TileCache) PointsInBounds(bounds model.BoundingBox) []model.POI {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pointsInBoundsLocked(bounds)
}

// ServeFromCache ネットワークを使わずにキャッシュ内容で表示スライスを公開する
func (c *TileCache) ServeFromCache(bounds model.BoundingBox) []model.POI {
	if !bounds.IsValid() {
		return c.VisibleSlice()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.viewport = bounds
	c.hasViewport = true
	c.visible = c.pointsInBoundsLocked(bounds)
	return slices.Clone(c.visible)
}

// InvalidateAll 全タイルと表示スライスを破棄する
// 取得中の応答は世代を進めて破棄させる（無効化前の内容で上書きしないため）
func (c *TileCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tiles = make(map[model.TileKey]*model.CachedTile)
	c.visible = nil
	c.generation++
	c.logger.Info("🗑️ タイルキャッシュを全削除", "generation", c.generation)
}

// VisibleSlice 公開中の表示スライスのコピー
func (c *TileCache) VisibleSlice() []model.POI {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.visible)
}

// CurrentViewport 最後に要求されたビューポート
func (c *TileCache) CurrentViewport() (model.BoundingBox, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viewport, c.hasViewport
}

// IsFetching ジオデータ取得中かどうか
func (c *TileCache) IsFetching() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.inFlight > 0
}

// FetchError 直近の取得失敗（成功するまで保持される）
func (c *TileCache) FetchError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetchErr
}

// LastFetchedAt 最後に取得に成功した時刻
func (c *TileCache) LastFetchedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastFetchedAt
}

// Stats キャッシュの状態を返す
func (c *TileCache) Stats() TileCacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := TileCacheStats{
		Tiles:      len(c.tiles),
		InFlight:   c.inFlight,
		Generation: c.generation,
	}
	for _, tile := range c.tiles {
		stats.Points += len(tile.Points)
	}
	return stats
}

func (c *TileCache) pointsInBoundsLocked(bounds model.BoundingBox) []model.POI {
	return helper.SelectVisible(c.tilesIntersectingLocked(bounds), bounds)
}

// tilesIntersectingLocked 境界ボックスに交差するキャッシュ済みタイルを緯度→経度の順で返す
// 範囲のタイル数がキャッシュ件数より多い場合はキャッシュ側を走査する
func (c *TileCache) tilesIntersectingLocked(bounds model.BoundingBox) []*model.CachedTile {
	rng, ok := model.TileRangeOf(bounds)
	if !ok {
		return nil
	}

	var tiles []*model.CachedTile
	if rng.Count() <= int64(len(c.tiles)) {
		for _, coord := range rng.Coords() {
			if tile, exists := c.tiles[coord.Key()]; exists {
				tiles = append(tiles, tile)
			}
		}
		return tiles
	}

	for _, tile := range c.tiles {
		if rng.Contains(tile.Coord) {
			tiles = append(tiles, tile)
		}
	}
	sort.Slice(tiles, func(i, j int) bool {
		if tiles[i].Coord.LatIndex != tiles[j].Coord.LatIndex {
			return tiles[i].Coord.LatIndex < tiles[j].Coord.LatIndex
		}
		return tiles[i].Coord.LngIndex < tiles[j].Coord.LngIndex
	})
	return tiles
}

// evictLocked タイル数が上限を超えたら取得時刻の古い順に削除する（直前に書き込んだタイルは残す）
func (c *TileCache) evictLocked(keep map[model.TileKey]model.TileCoord) {
	if c.opts.MaxTiles <= 0 || len(c.tiles) <= c.opts.MaxTiles {
		return
	}

	candidates := make([]model.TileKey, 0, len(c.tiles))
	for key := range c.tiles {
		if _, ok := keep[key]; !ok {
			candidates = append(candidates, key)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return c.tiles[candidates[i]].FetchedAt.Before(c.tiles[candidates[j]].FetchedAt)
	})

	evicted := 0
	for _, key := range candidates {
		if len(c.tiles) <= c.opts.MaxTiles {
			break
		}
		delete(c.tiles, key)
		evicted++
	}

	metrics.EvictedTilesTotal.Add(float64(evicted))
	c.logger.Debug("古いタイルを削除", "evicted", evicted, "tiles", len(c.tiles))
}
