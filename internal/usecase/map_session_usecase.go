package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"MachineMap-App/internal/domain/model"
	"MachineMap-App/internal/domain/repository"
	"MachineMap-App/internal/domain/service"
)

// MapSession 1つの地図画面に対応するセッション
// 画面ごとにタイルキャッシュとフェッチコーディネータを所有し、Close で破棄する
type MapSession interface {
	// ID セッションID
	ID() string

	// OnViewportSettled 地図のパン/ズームが落ち着いたときに呼ぶ
	OnViewportSettled(bounds model.BoundingBox) error

	// JumpTo 検索結果の選択やディープリンクなど、待たせずに取得したい移動
	JumpTo(bounds model.BoundingBox) error

	// Retry 現在のビューポートを即時に取得し直す（取得失敗後のユーザー操作）
	Retry() error

	// Invalidate キャッシュを破棄して現在のビューポートを取得し直す（チェックインや状態修正の後）
	Invalidate() error

	// Snapshot 表示中のPOIと読み込み状態
	Snapshot() MapSnapshot

	// Wait 発行済みの取得がすべて終わるまで待つ
	Wait()

	// Close 保留中のタイマーを止め、以降の操作を拒否する
	Close()
}

// MapSnapshot 画面に渡す現在の状態
type MapSnapshot struct {
	SessionID  string
	Bounds     *model.BoundingBox
	Points     []model.POI
	IsFetching bool
	FetchError error
	FetchedAt  time.Time
	Stats      service.TileCacheStats
}

// MapSessionOptions セッションの設定
type MapSessionOptions struct {
	Cache       service.TileCacheOptions
	Coordinator service.CoordinatorOptions
	Clock       service.Clock
}

// DefaultMapSessionOptions 既定値の設定を返す
func DefaultMapSessionOptions() MapSessionOptions {
	return MapSessionOptions{
		Cache:       service.DefaultTileCacheOptions(),
		Coordinator: service.DefaultCoordinatorOptions(),
	}
}

// mapSessionImpl は MapSession の実装
type mapSessionImpl struct {
	id          string
	cache       *service.TileCache
	coordinator *service.FetchCoordinator
	logger      *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewMapSession 新しい地図セッションを作成
// ctx はセッション中に発行する全ての取得に引き継がれる
func NewMapSession(ctx context.Context, repo repository.GeodataRepository, logger *slog.Logger, opts MapSessionOptions) MapSession {
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = service.SystemClock()
	}

	id := uuid.NewString()
	logger = logger.With("session_id", id)

	cache := service.NewTileCache(repo, clock, logger, opts.Cache)
	coordinator := service.NewFetchCoordinator(ctx, cache, clock, logger, opts.Coordinator)

	logger.Info("🗺️ 地図セッション開始")
	return &mapSessionImpl{
		id:          id,
		cache:       cache,
		coordinator: coordinator,
		logger:      logger,
	}
}

func (s *mapSessionImpl) ID() string { return s.id }

func (s *mapSessionImpl) OnViewportSettled(bounds model.BoundingBox) error {
	if err := s.checkUsable(bounds); err != nil {
		return err
	}
	s.coordinator.BoundsChanged(bounds)
	return nil
}

func (s *mapSessionImpl) JumpTo(bounds model.BoundingBox) error {
	if err := s.checkUsable(bounds); err != nil {
		return err
	}
	s.logger.Info("📍 ビューポートへジャンプ", "bounds", bounds.String())
	s.coordinator.ForceFetch(bounds)
	return nil
}

func (s *mapSessionImpl) Retry() error {
	if s.isClosed() {
		return model.ErrSessionClosed
	}
	viewport, ok := s.cache.CurrentViewport()
	if !ok {
		return fmt.Errorf("%w: ビューポートが未設定です", model.ErrInvalidBounds)
	}
	s.logger.Info("🔄 取得を再試行", "bounds", viewport.String())
	s.coordinator.ForceFetch(viewport)
	return nil
}

func (s *mapSessionImpl) Invalidate() error {
	if s.isClosed() {
		return model.ErrSessionClosed
	}
	s.cache.InvalidateAll()
	s.coordinator.Reset()

	if viewport, ok := s.cache.CurrentViewport(); ok {
		s.coordinator.ForceFetch(viewport)
	}
	return nil
}

func (s *mapSessionImpl) Snapshot() MapSnapshot {
	snapshot := MapSnapshot{
		SessionID:  s.id,
		Points:     s.cache.VisibleSlice(),
		IsFetching: s.cache.IsFetching(),
		FetchError: s.cache.FetchError(),
		FetchedAt:  s.cache.LastFetchedAt(),
		Stats:      s.cache.Stats(),
	}
	if viewport, ok := s.cache.CurrentViewport(); ok {
		snapshot.Bounds = &viewport
	}
	if snapshot.Points == nil {
		snapshot.Points = []model.POI{}
	}
	return snapshot
}

func (s *mapSessionImpl) Wait() {
	s.coordinator.Wait()
}

func (s *mapSessionImpl) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.coordinator.Cleanup()
	s.logger.Info("👋 地図セッション終了")
}

func (s *mapSessionImpl) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *mapSessionImpl) checkUsable(bounds model.BoundingBox) error {
	if s.isClosed() {
		return model.ErrSessionClosed
	}
	if !bounds.IsValid() {
		return fmt.Errorf("%w: %s", model.ErrInvalidBounds, bounds)
	}
	return nil
}
