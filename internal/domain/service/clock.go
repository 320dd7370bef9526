package service

import "time"

// Clock 現在時刻とタイマーの取得元（テストでは手動で進める時計に差し替える）
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer 停止可能な保留中タイマー
type Timer interface {
	Stop() bool
}

type systemClock struct{}

// SystemClock 実時間の Clock を返す
func SystemClock() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
