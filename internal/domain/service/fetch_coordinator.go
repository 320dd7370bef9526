package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"MachineMap-App/internal/domain/model"
	"MachineMap-App/internal/metrics"
)

// TileRefresher コーディネータが呼び出すキャッシュ側の操作
type TileRefresher interface {
	PrepareRefresh(ctx context.Context, bounds model.BoundingBox) func() RefreshResult
	ServeFromCache(bounds model.BoundingBox) []model.POI
}

// CoordinatorOptions スロットル/デバウンスの設定
type CoordinatorOptions struct {
	ThrottleWindow   time.Duration
	DebounceWindow   time.Duration
	SignificantRatio float64
}

// DefaultCoordinatorOptions 既定値の設定を返す
func DefaultCoordinatorOptions() CoordinatorOptions {
	return CoordinatorOptions{
		ThrottleWindow:   model.DefaultThrottleWindow,
		DebounceWindow:   model.DefaultDebounceWindow,
		SignificantRatio: model.SignificantOverflowRatio,
	}
}

// FetchCoordinator ビューポート変更イベントの連打を少数の取得に間引くスロットル+デバウンスのゲート
//
// スロットル窓を過ぎていて、かつ前回取得範囲から有意にはみ出していれば即時に取得する。
// それ以外はデバウンスタイマーを張り直し、発火時に最新の取得範囲と比べて再判定する。
// 取得はゴルーチンで実行するので BoundsChanged は呼び出し元をブロックしない。
type FetchCoordinator struct {
	mu     sync.Mutex
	ctx    context.Context
	store  TileRefresher
	clock  Clock
	logger *slog.Logger
	opts   CoordinatorOptions

	lastFetchAt       time.Time
	lastFetchedBounds model.BoundingBox
	hasFetched        bool

	timer    Timer
	timerSeq uint64
	pending  model.BoundingBox

	closed bool
	wg     sync.WaitGroup
}

// NewFetchCoordinator 新しいコーディネータを作成
// ctx は発行する取得に引き継がれる。Cleanup では取得中の呼び出しはキャンセルしない。
func NewFetchCoordinator(ctx context.Context, store TileRefresher, clock Clock, logger *slog.Logger, opts CoordinatorOptions) *FetchCoordinator {
	if clock == nil {
		clock = SystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ThrottleWindow <= 0 {
		opts.ThrottleWindow = model.DefaultThrottleWindow
	}
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = model.DefaultDebounceWindow
	}
	if opts.SignificantRatio <= 0 {
		opts.SignificantRatio = model.SignificantOverflowRatio
	}

	return &FetchCoordinator{
		ctx:    ctx,
		store:  store,
		clock:  clock,
		logger: logger,
		opts:   opts,
	}
}

// BoundsChanged ビューポートが落ち着くたびに呼ばれる
func (c *FetchCoordinator) BoundsChanged(bounds model.BoundingBox) {
	if !bounds.IsValid() {
		c.logger.Warn("⚠️ 不正なビューポートを無視", "bounds", bounds.String())
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	// 取得を待つ間もキャッシュ済みの範囲はすぐに表示する
	c.store.ServeFromCache(bounds)

	now := c.clock.Now()
	if c.throttleElapsedLocked(now) && c.extendsSignificantlyLocked(bounds) {
		c.stopTimerLocked()
		c.fireLocked(bounds, now)
		metrics.CoordinatorDecisionsTotal.WithLabelValues("immediate").Inc()
		return
	}

	c.stopTimerLocked()
	c.pending = bounds
	c.timerSeq++
	seq := c.timerSeq
	c.timer = c.clock.AfterFunc(c.opts.DebounceWindow, func() { c.onDebounce(seq) })
}

// ForceFetch スロットルとデバウンスを無視して即時に取得する（検索結果やディープリンクへのジャンプ用）
func (c *FetchCoordinator) ForceFetch(bounds model.BoundingBox) {
	if !bounds.IsValid() {
		c.logger.Warn("⚠️ 不正なビューポートへのジャンプを無視", "bounds", bounds.String())
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	c.stopTimerLocked()
	c.store.ServeFromCache(bounds)
	c.fireLocked(bounds, c.clock.Now())
	metrics.CoordinatorDecisionsTotal.WithLabelValues("forced").Inc()
}

// Reset 前回取得の記録を消し、次のイベントを必ず有意として扱わせる
func (c *FetchCoordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hasFetched = false
	c.lastFetchedBounds = model.BoundingBox{}
	c.lastFetchAt = time.Time{}
}

// Cleanup 保留中のデバウンスタイマーを止め、以降のイベントを無視する
// 地図画面を閉じるときに必ず呼ぶ
func (c *FetchCoordinator) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTimerLocked()
	c.closed = true
}

// Wait 発行済みの取得がすべて終わるまで待つ
func (c *FetchCoordinator) Wait() {
	c.wg.Wait()
}

// LastFetched 最後に取得を発行した範囲と時刻
func (c *FetchCoordinator) LastFetched() (model.BoundingBox, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastFetchedBounds, c.lastFetchAt, c.hasFetched
}

// HasPendingDebounce デバウンスタイマーが保留中か
func (c *FetchCoordinator) HasPendingDebounce() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer != nil
}

func (c *FetchCoordinator) onDebounce(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// 止めたタイマーのコールバックが既に走り出していた場合は何もしない
	if c.closed || seq != c.timerSeq || c.timer == nil {
		return
	}
	c.timer = nil

	bounds := c.pending
	if !c.extendsSignificantlyLocked(bounds) {
		metrics.CoordinatorDecisionsTotal.WithLabelValues("skipped").Inc()
		c.logger.Debug("前回取得範囲に収まるため取得を省略", "bounds", bounds.String())
		return
	}

	c.fireLocked(bounds, c.clock.Now())
	metrics.CoordinatorDecisionsTotal.WithLabelValues("debounced").Inc()
}

func (c *FetchCoordinator) throttleElapsedLocked(now time.Time) bool {
	return !c.hasFetched || now.Sub(c.lastFetchAt) >= c.opts.ThrottleWindow
}

func (c *FetchCoordinator) extendsSignificantlyLocked(bounds model.BoundingBox) bool {
	if !c.hasFetched {
		return true
	}
	return model.ExtendsSignificantly(bounds, c.lastFetchedBounds, c.opts.SignificantRatio)
}

func (c *FetchCoordinator) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *FetchCoordinator) fireLocked(bounds model.BoundingBox, now time.Time) {
	c.lastFetchAt = now
	c.lastFetchedBounds = bounds
	c.hasFetched = true

	// 世代の採番はロック中に済ませ、ネットワーク部分だけをゴルーチンで実行する
	run := c.store.PrepareRefresh(c.ctx, bounds)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		result := run()
		if result.Err != nil {
			c.logger.Warn("⚠️ タイル更新に失敗", "bounds", bounds.String(), "error", result.Err)
		}
	}()
}
