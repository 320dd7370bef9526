package handler

import (
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"

	"MachineMap-App/internal/domain/model"
	"MachineMap-App/internal/metrics"
	"MachineMap-App/internal/usecase"
)

// SessionFactory 新しい地図セッションを作る関数
type SessionFactory func() usecase.MapSession

// SessionRegistry クライアントごとの地図セッションを保持する
// 一定時間操作のないセッションは期限切れとなり、削除時に Close される
type SessionRegistry struct {
	sessions *cache.Cache
	factory  SessionFactory
	idleTTL  time.Duration
	logger   *slog.Logger
}

func NewSessionRegistry(factory SessionFactory, idleTTL time.Duration, logger *slog.Logger) *SessionRegistry {
	if logger == nil {
		logger = slog.Default()
	}

	sessions := cache.New(idleTTL, idleTTL/2)
	sessions.OnEvicted(func(id string, v interface{}) {
		if session, ok := v.(usecase.MapSession); ok {
			session.Close()
		}
		metrics.ActiveSessions.Dec()
		logger.Debug("セッションを破棄", "session_id", id)
	})

	return &SessionRegistry{
		sessions: sessions,
		factory:  factory,
		idleTTL:  idleTTL,
		logger:   logger,
	}
}

// Create セッションを作成して登録
func (r *SessionRegistry) Create() usecase.MapSession {
	session := r.factory()
	r.sessions.Set(session.ID(), session, cache.DefaultExpiration)
	metrics.ActiveSessions.Inc()
	return session
}

// Get セッションを取得し、期限を延長する
func (r *SessionRegistry) Get(id string) (usecase.MapSession, error) {
	v, ok := r.sessions.Get(id)
	if !ok {
		return nil, model.ErrSessionNotFound
	}
	session := v.(usecase.MapSession)
	// Get と期限延長の間に掃除で破棄された場合は、閉じたセッションを登録し直さない
	if err := r.sessions.Replace(id, session, cache.DefaultExpiration); err != nil {
		return nil, model.ErrSessionNotFound
	}
	return session, nil
}

// Delete セッションを閉じて削除
func (r *SessionRegistry) Delete(id string) error {
	if _, ok := r.sessions.Get(id); !ok {
		return model.ErrSessionNotFound
	}
	r.sessions.Delete(id)
	return nil
}

// Count 保持中のセッション数（期限切れで未掃除のものを含む）
func (r *SessionRegistry) Count() int {
	return r.sessions.ItemCount()
}

// IdleTTL セッションの無操作期限
func (r *SessionRegistry) IdleTTL() time.Duration {
	return r.idleTTL
}

// CloseAll 全セッションを閉じる（シャットダウン時）
// 走査中に期限切れになったものは次の周回の DeleteExpired で破棄する
func (r *SessionRegistry) CloseAll() {
	for r.sessions.ItemCount() > 0 {
		r.sessions.DeleteExpired()
		for id := range r.sessions.Items() {
			r.sessions.Delete(id)
		}
	}
}
