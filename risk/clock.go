package risk

import "time"

// Clock 抽象时间便于测试。
type Clock interface {
	Now() time.Time
}

// ClockFunc 函数适配器
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// NowUTC 默认时钟，返回 UTC 时间。
var NowUTC Clock = ClockFunc(func() time.Time { return time.Now().UTC() })
