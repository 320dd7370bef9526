package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"MachineMap-App/internal/domain/model"
)

// fakeClock Advance でだけ進む時計。期限が来たタイマーは Advance の中で同期的に実行する
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance 時計を d 進め、途中で期限を迎えたタイマーを時刻順に実行する
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		if next.at.After(c.now) {
			c.now = next.at
		}
		c.mu.Unlock()

		next.f()
	}
}

// pendingTimers 停止も発火もしていないタイマー数
func (c *fakeClock) pendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// MockGeodataRepository GeodataRepository のモック
type MockGeodataRepository struct {
	mock.Mock
}

func (m *MockGeodataRepository) FetchInBounds(ctx context.Context, bounds model.BoundingBox, limit int) ([]model.POI, error) {
	args := m.Called(ctx, bounds, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.POI), args.Error(1)
}

// blockingGeodataRepository 呼び出しごとに応答を手動で返す（応答順序の入れ替えを再現する）
type blockingGeodataRepository struct {
	started chan *pendingFetch
}

type pendingFetch struct {
	bounds model.BoundingBox
	reply  chan fetchReply
}

type fetchReply struct {
	points []model.POI
	err    error
}

func newBlockingGeodataRepository() *blockingGeodataRepository {
	return &blockingGeodataRepository{started: make(chan *pendingFetch, 8)}
}

func (r *blockingGeodataRepository) FetchInBounds(ctx context.Context, bounds model.BoundingBox, limit int) ([]model.POI, error) {
	call := &pendingFetch{bounds: bounds, reply: make(chan fetchReply, 1)}
	r.started <- call
	select {
	case reply := <-call.reply:
		return reply.points, reply.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPOI(id string, lat, lng float64) model.POI {
	return model.POI{
		ID:       id,
		Name:     fmt.Sprintf("machine %s", id),
		Location: model.NewPointGeometry(lat, lng),
		Status:   "active",
	}
}

func poiIDs(pois []model.POI) []string {
	ids := make([]string, 0, len(pois))
	for _, p := range pois {
		ids = append(ids, p.ID)
	}
	return ids
}

// shibuyaBounds テストで使う約1km四方のビューポート
var shibuyaBounds = model.BoundingBox{MinLat: 35.0, MaxLat: 35.01, MinLng: 139.0, MaxLng: 139.01}
