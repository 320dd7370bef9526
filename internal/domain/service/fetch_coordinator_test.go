package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"MachineMap-App/internal/domain/model"
)

// spyRefresher 呼び出された範囲を記録するだけの TileRefresher
type spyRefresher struct {
	mu        sync.Mutex
	refreshed []model.BoundingBox
	served    []model.BoundingBox
}

func (s *spyRefresher) PrepareRefresh(ctx context.Context, bounds model.BoundingBox) func() RefreshResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshed = append(s.refreshed, bounds)
	return func() RefreshResult { return RefreshResult{Success: true} }
}

func (s *spyRefresher) ServeFromCache(bounds model.BoundingBox) []model.POI {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.served = append(s.served, bounds)
	return nil
}

func (s *spyRefresher) refreshes() []model.BoundingBox {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.BoundingBox(nil), s.refreshed...)
}

func (s *spyRefresher) serves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.served)
}

func shift(b model.BoundingBox, dLat, dLng float64) model.BoundingBox {
	return model.BoundingBox{
		MinLat: b.MinLat + dLat,
		MaxLat: b.MaxLat + dLat,
		MinLng: b.MinLng + dLng,
		MaxLng: b.MaxLng + dLng,
	}
}

func newTestCoordinator(store TileRefresher, clock *fakeClock) *FetchCoordinator {
	return NewFetchCoordinator(context.Background(), store, clock, discardLogger(), DefaultCoordinatorOptions())
}

func TestFetchCoordinator_BoundsChanged(t *testing.T) {
	t.Run("最初のイベントは即時に取得する", func(t *testing.T) {
		spy := &spyRefresher{}
		clock := newFakeClock()
		coord := newTestCoordinator(spy, clock)

		coord.BoundsChanged(shibuyaBounds)
		coord.Wait()

		assert.Equal(t, []model.BoundingBox{shibuyaBounds}, spy.refreshes())
		assert.False(t, coord.HasPendingDebounce())

		last, at, ok := coord.LastFetched()
		assert.True(t, ok)
		assert.Equal(t, shibuyaBounds, last)
		assert.Equal(t, clock.Now(), at)
	})

	t.Run("スロットル窓内の2回目の有意な変更はデバウンスに回す", func(t *testing.T) {
		spy := &spyRefresher{}
		clock := newFakeClock()
		coord := newTestCoordinator(spy, clock)

		coord.BoundsChanged(shibuyaBounds)
		clock.Advance(100 * time.Millisecond)
		second := shift(shibuyaBounds, 0, 0.005)
		coord.BoundsChanged(second)
		coord.Wait()

		require.Len(t, spy.refreshes(), 1)
		assert.True(t, coord.HasPendingDebounce())

		clock.Advance(model.DefaultDebounceWindow)
		coord.Wait()

		assert.Equal(t, []model.BoundingBox{shibuyaBounds, second}, spy.refreshes())
	})

	t.Run("スロットル窓を過ぎた有意な変更は即時に取得する", func(t *testing.T) {
		spy := &spyRefresher{}
		clock := newFakeClock()
		coord := newTestCoordinator(spy, clock)

		coord.BoundsChanged(shibuyaBounds)
		clock.Advance(model.DefaultThrottleWindow)
		coord.BoundsChanged(shift(shibuyaBounds, 0.005, 0))
		coord.Wait()

		assert.Len(t, spy.refreshes(), 2)
		assert.False(t, coord.HasPendingDebounce())
	})

	t.Run("連続したイベントは最後の範囲で1回だけ取得する", func(t *testing.T) {
		spy := &spyRefresher{}
		clock := newFakeClock()
		coord := newTestCoordinator(spy, clock)

		coord.BoundsChanged(shibuyaBounds)
		var last model.BoundingBox
		for i := 1; i <= 5; i++ {
			clock.Advance(50 * time.Millisecond)
			last = shift(shibuyaBounds, 0, 0.005*float64(i))
			coord.BoundsChanged(last)
		}

		clock.Advance(model.DefaultDebounceWindow - time.Millisecond)
		coord.Wait()
		require.Len(t, spy.refreshes(), 1)

		clock.Advance(time.Millisecond)
		coord.Wait()
		refreshes := spy.refreshes()
		require.Len(t, refreshes, 2)
		assert.Equal(t, last, refreshes[1])

		clock.Advance(10 * time.Second)
		coord.Wait()
		assert.Len(t, spy.refreshes(), 2)
	})

	t.Run("前回取得範囲に収まる変更はデバウンス後も取得しない", func(t *testing.T) {
		spy := &spyRefresher{}
		clock := newFakeClock()
		coord := newTestCoordinator(spy, clock)

		coord.BoundsChanged(shibuyaBounds)
		clock.Advance(time.Second)
		coord.BoundsChanged(shift(shibuyaBounds, 0.001, 0.001))
		assert.True(t, coord.HasPendingDebounce())

		clock.Advance(model.DefaultDebounceWindow)
		coord.Wait()

		assert.Len(t, spy.refreshes(), 1)
		assert.False(t, coord.HasPendingDebounce())
	})

	t.Run("イベントごとにキャッシュから即時に表示する", func(t *testing.T) {
		spy := &spyRefresher{}
		clock := newFakeClock()
		coord := newTestCoordinator(spy, clock)

		for i := 0; i < 4; i++ {
			coord.BoundsChanged(shift(shibuyaBounds, 0, 0.001*float64(i)))
			clock.Advance(10 * time.Millisecond)
		}
		coord.Wait()

		assert.Equal(t, 4, spy.serves())
	})

	t.Run("不正な範囲は無視する", func(t *testing.T) {
		spy := &spyRefresher{}
		clock := newFakeClock()
		coord := newTestCoordinator(spy, clock)

		coord.BoundsChanged(model.BoundingBox{MinLat: 35.1, MaxLat: 35.0, MinLng: 139.0, MaxLng: 139.01})
		coord.Wait()

		assert.Empty(t, spy.refreshes())
		assert.Equal(t, 0, spy.serves())
		assert.Equal(t, 0, clock.pendingTimers())
	})
}

func TestFetchCoordinator_ForceFetch(t *testing.T) {
	t.Run("保留中のデバウンスを取り消して即時に取得する", func(t *testing.T) {
		spy := &spyRefresher{}
		clock := newFakeClock()
		coord := newTestCoordinator(spy, clock)

		coord.BoundsChanged(shibuyaBounds)
		clock.Advance(100 * time.Millisecond)
		coord.BoundsChanged(shift(shibuyaBounds, 0, 0.005))
		require.True(t, coord.HasPendingDebounce())

		jump := model.BoundingBox{MinLat: 34.69, MaxLat: 34.70, MinLng: 135.49, MaxLng: 135.50}
		coord.ForceFetch(jump)
		coord.Wait()

		assert.False(t, coord.HasPendingDebounce())
		assert.Equal(t, 0, clock.pendingTimers())

		clock.Advance(time.Second)
		coord.Wait()

		assert.Equal(t, []model.BoundingBox{shibuyaBounds, jump}, spy.refreshes())
	})

	t.Run("スロットル窓内でも即時に取得する", func(t *testing.T) {
		spy := &spyRefresher{}
		clock := newFakeClock()
		coord := newTestCoordinator(spy, clock)

		coord.ForceFetch(shibuyaBounds)
		clock.Advance(10 * time.Millisecond)
		coord.ForceFetch(shibuyaBounds)
		coord.Wait()

		assert.Len(t, spy.refreshes(), 2)
	})
}

func TestFetchCoordinator_Lifecycle(t *testing.T) {
	t.Run("Cleanup 後は保留中のタイマーも新しいイベントも取得しない", func(t *testing.T) {
		spy := &spyRefresher{}
		clock := newFakeClock()
		coord := newTestCoordinator(spy, clock)

		coord.BoundsChanged(shibuyaBounds)
		clock.Advance(100 * time.Millisecond)
		coord.BoundsChanged(shift(shibuyaBounds, 0, 0.005))

		coord.Cleanup()
		clock.Advance(time.Second)
		coord.BoundsChanged(shift(shibuyaBounds, 1, 1))
		coord.ForceFetch(shift(shibuyaBounds, 2, 2))
		coord.Wait()

		assert.Len(t, spy.refreshes(), 1)
		assert.Equal(t, 0, clock.pendingTimers())
	})

	t.Run("Reset 後は小さな変更でも取得する", func(t *testing.T) {
		spy := &spyRefresher{}
		clock := newFakeClock()
		coord := newTestCoordinator(spy, clock)

		coord.BoundsChanged(shibuyaBounds)
		coord.Reset()
		coord.BoundsChanged(shibuyaBounds)
		coord.Wait()

		assert.Len(t, spy.refreshes(), 2)
		_, _, ok := coord.LastFetched()
		assert.True(t, ok)
	})
}

func TestFetchCoordinator_WithTileCache(t *testing.T) {
	repo := new(MockGeodataRepository)
	clock := newFakeClock()
	cache := NewTileCache(repo, clock, discardLogger(), DefaultTileCacheOptions())
	coord := newTestCoordinator(cache, clock)

	repo.On("FetchInBounds", mock.Anything, mock.Anything, mock.Anything).Return([]model.POI{
		testPOI("m-1", 35.005, 139.005),
		testPOI("m-2", 35.005, 139.013),
	}, nil).Once()

	coord.BoundsChanged(shibuyaBounds)
	coord.Wait()
	assert.Equal(t, []string{"m-1"}, poiIDs(cache.VisibleSlice()))

	// 先読み範囲内の小さなパンはネットワークを使わずに表示が追従する
	clock.Advance(time.Second)
	panned := shift(shibuyaBounds, 0, 0.0015)
	coord.BoundsChanged(panned)
	assert.ElementsMatch(t, []string{"m-1"}, poiIDs(cache.VisibleSlice()))

	clock.Advance(model.DefaultDebounceWindow)
	coord.Wait()

	repo.AssertNumberOfCalls(t, "FetchInBounds", 1)
	current, ok := cache.CurrentViewport()
	assert.True(t, ok)
	assert.Equal(t, panned, current)
}
