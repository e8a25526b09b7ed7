package market

import (
	"fmt"
	"sync"
	"time"
)

// Reference 行情外部提供的参考数据（ADV、日波动率、历史成交量曲线）。
type Reference struct {
	ADV        float64     `json:"adv" yaml:"adv"`
	Volatility float64     `json:"volatility" yaml:"volatility"`
	Curve      VolumeCurve `json:"curve" yaml:"curve"`
}

// Service 维护各标的最新报价、深度、累计成交量与场所流动性，实现 Source。
type Service struct {
	mu         sync.RWMutex
	tradingDay time.Duration
	quotes     map[string]Quote
	books      map[string]OrderBook
	refs       map[string]Reference
	volume     map[string]float64
	venues     map[string]map[string]VenueQuote
	vols       map[string]*VolatilityCalculator
	last       map[string]time.Time
	now        func() time.Time

	// 参考曲线缺失时由成交流累计的日内分布
	profile  *ProfileConfig
	profiles map[string]*VolumeProfileBuilder
}

// ProfileConfig 成交量分布分桶参数，见 VolumeProfileBuilder。
type ProfileConfig struct {
	SessionOpen time.Duration `yaml:"sessionOpen"`
	BucketWidth time.Duration `yaml:"bucketWidth"`
	Buckets     int           `yaml:"buckets"`
}

func NewService(tradingDay time.Duration) *Service {
	return &Service{
		tradingDay: tradingDay,
		quotes:     make(map[string]Quote),
		books:      make(map[string]OrderBook),
		refs:       make(map[string]Reference),
		volume:     make(map[string]float64),
		venues:     make(map[string]map[string]VenueQuote),
		vols:       make(map[string]*VolatilityCalculator),
		last:       make(map[string]time.Time),
		now:        time.Now,
		profiles:   make(map[string]*VolumeProfileBuilder),
	}
}

// TrackVolumeProfile 开启成交量分布累计。只影响之后的成交。
func (s *Service) TrackVolumeProfile(cfg ProfileConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = &cfg
}

// SetClock 回测时使用虚拟时钟
func (s *Service) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetReference 设置参考数据。
func (s *Service) SetReference(symbol string, ref Reference) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs[symbol] = ref
}

// OnQuote 更新报价并采样波动率。交叉报价照常保存，由规划/监控在读取时拒绝。
func (s *Service) OnQuote(symbol string, q Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[symbol] = q
	s.last[symbol] = q.Time
	vc, ok := s.vols[symbol]
	if !ok {
		vc = NewVolatilityCalculator(120, s.tradingDay)
		s.vols[symbol] = vc
	}
	vc.AddPrice(q.Mid(), q.Time)
}

// OnBook 更新深度快照。
func (s *Service) OnBook(symbol string, ob OrderBook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.books[symbol] = ob
}

// OnTrade 累计市场成交量（POV 参与率的分母）。
func (s *Service) OnTrade(symbol string, t Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume[symbol] += t.Qty
	if t.Ts.After(s.last[symbol]) {
		s.last[symbol] = t.Ts
	}
	if s.profile == nil {
		return
	}
	b, ok := s.profiles[symbol]
	if !ok {
		b = NewVolumeProfileBuilder(s.profile.SessionOpen, s.profile.BucketWidth, s.profile.Buckets)
		s.profiles[symbol] = b
	}
	b.OnTrade(t)
}

// SetVenueQuote 更新某场所的流动性估计。
func (s *Service) SetVenueQuote(symbol, venueID string, vq VenueQuote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.venues[symbol]
	if !ok {
		m = make(map[string]VenueQuote)
		s.venues[symbol] = m
	}
	m[venueID] = vq
}

// Snapshot 返回深拷贝的快照；参考波动率或曲线缺失时使用实时估计。
func (s *Service) Snapshot(symbol string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, hasQuote := s.quotes[symbol]
	ref, hasRef := s.refs[symbol]
	if !hasQuote && !hasRef {
		return Snapshot{}, fmt.Errorf("no market data for %s", symbol)
	}
	snap := Snapshot{
		Symbol:           symbol,
		Time:             s.now(),
		Quote:            q,
		Book:             s.books[symbol],
		ADV:              ref.ADV,
		Volatility:       ref.Volatility,
		CumulativeVolume: s.volume[symbol],
		Curve:            ref.Curve,
	}
	if len(snap.Curve.Volumes) == 0 {
		if b, ok := s.profiles[symbol]; ok && b.Sessions() > 0 {
			snap.Curve = b.Curve(snap.Time)
		}
	}
	if snap.Volatility == 0 {
		if vc, ok := s.vols[symbol]; ok && vc.IsReady() {
			snap.Volatility = vc.DailyVol()
		}
	}
	if vm, ok := s.venues[symbol]; ok {
		snap.Venues = vm
	}
	return snap.Clone(), nil
}

// Staleness 返回距离上次更新的时间间隔；如无数据返回一年。
func (s *Service) Staleness(symbol string) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ts, ok := s.last[symbol]
	if !ok {
		return time.Hour * 24 * 365
	}
	return s.now().Sub(ts)
}
