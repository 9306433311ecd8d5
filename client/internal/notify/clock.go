package notify

import "time"

// Timer 可取消的定时任务。
type Timer interface {
	Stop() bool
}

// Clock 重连定时器来源，测试注入假时钟以避免真实等待。
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealClock 基于 time.AfterFunc。
var RealClock Clock = realClock{}
