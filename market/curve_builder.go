package market

import (
	"sync"
	"time"
)

// VolumeProfileBuilder 从成交流累计日内成交量分布，生成历史成交量曲线。
// 按交易时段起点对齐分桶，多日平均。
type VolumeProfileBuilder struct {
	SessionOpen time.Duration // 开盘距当日零点（UTC）的偏移
	BucketWidth time.Duration
	Buckets     int

	mu       sync.Mutex
	totals   []float64
	sessions map[string]struct{}
}

func NewVolumeProfileBuilder(sessionOpen, bucketWidth time.Duration, buckets int) *VolumeProfileBuilder {
	if bucketWidth <= 0 {
		bucketWidth = 5 * time.Minute
	}
	if buckets <= 0 {
		buckets = 78
	}
	return &VolumeProfileBuilder{
		SessionOpen: sessionOpen,
		BucketWidth: bucketWidth,
		Buckets:     buckets,
		totals:      make([]float64, buckets),
		sessions:    make(map[string]struct{}),
	}
}

// OnTrade 计入一笔成交；时段外的成交被忽略。
func (b *VolumeProfileBuilder) OnTrade(t Trade) {
	day := t.Ts.UTC().Truncate(24 * time.Hour)
	offset := t.Ts.UTC().Sub(day.Add(b.SessionOpen))
	if offset < 0 {
		return
	}
	idx := int(offset / b.BucketWidth)
	if idx >= b.Buckets {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.totals[idx] += t.Qty
	b.sessions[day.Format("2006-01-02")] = struct{}{}
}

// Curve 返回对齐到 day 当天开盘的多日平均曲线。
func (b *VolumeProfileBuilder) Curve(day time.Time) VolumeCurve {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.sessions)
	vols := make([]float64, b.Buckets)
	if n > 0 {
		for i, v := range b.totals {
			vols[i] = v / float64(n)
		}
	}
	start := day.UTC().Truncate(24 * time.Hour).Add(b.SessionOpen)
	return VolumeCurve{Start: start, BucketWidth: b.BucketWidth, Volumes: vols}
}

// Sessions 已累计的交易日数量。
func (b *VolumeProfileBuilder) Sessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}
