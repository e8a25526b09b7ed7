// Package venue 交易场所参考数据（交易所、暗池、ATS）与路由分配结果。
// 场所数据由外部提供，本包只读。
package venue

import (
	"math"
	"time"

	"execution-kit/execerr"
)

// Kind 场所类型
type Kind string

const (
	KindExchange Kind = "EXCHANGE"
	KindDarkPool Kind = "DARK_POOL"
	KindATS      Kind = "ATS"
)

// Venue 场所接口。FillProbability 为未提供实时估计时的默认成交概率。
type Venue interface {
	ID() string
	Kind() Kind
	FeeBps() float64
	Latency() time.Duration
	MinSize() int64
	FillProbability() float64
}

// Profile 各类场所共有的参数
type Profile struct {
	VenueID string        `json:"id" yaml:"id"`
	Fee     float64       `json:"fee_bps" yaml:"feeBps"`
	Delay   time.Duration `json:"latency" yaml:"latency"`
}

func (p Profile) ID() string             { return p.VenueID }
func (p Profile) FeeBps() float64        { return p.Fee }
func (p Profile) Latency() time.Duration { return p.Delay }

// Exchange 公开交易所（亮池）
type Exchange struct {
	Profile
}

func (Exchange) Kind() Kind               { return KindExchange }
func (Exchange) MinSize() int64           { return 0 }
func (Exchange) FillProbability() float64 { return 1 }

// DarkPool 暗池：最小成交量约束与成交概率折扣。
type DarkPool struct {
	Profile
	Minimum     int64   `json:"min_size" yaml:"minSize"`
	Probability float64 `json:"fill_probability" yaml:"fillProbability"`
}

func (DarkPool) Kind() Kind       { return KindDarkPool }
func (d DarkPool) MinSize() int64 { return d.Minimum }
func (d DarkPool) FillProbability() float64 {
	if d.Probability <= 0 {
		return 1
	}
	return d.Probability
}

// ATS 另类交易系统，按亮池处理。
type ATS struct {
	Profile
}

func (ATS) Kind() Kind               { return KindATS }
func (ATS) MinSize() int64           { return 0 }
func (ATS) FillProbability() float64 { return 1 }

// IsDark 暗池按最小量与成交概率处理，其余按亮池处理。
func IsDark(v Venue) bool { return v.Kind() == KindDarkPool }

// Config 配置文件中的场所定义。
type Config struct {
	ID              string        `yaml:"id" json:"id"`
	Kind            Kind          `yaml:"kind" json:"kind"`
	FeeBps          float64       `yaml:"feeBps" json:"fee_bps"`
	Latency         time.Duration `yaml:"latency" json:"latency"`
	MinSize         int64         `yaml:"minSize" json:"min_size"`
	FillProbability float64       `yaml:"fillProbability" json:"fill_probability"`
}

// Validate 检查场所参数
func (c Config) Validate() error {
	if c.ID == "" {
		return execerr.Invalid("venue id required")
	}
	if math.IsNaN(c.FeeBps) || math.IsInf(c.FeeBps, 0) {
		return execerr.Invalid("venue %s fee %v", c.ID, c.FeeBps)
	}
	if c.Latency < 0 {
		return execerr.Invalid("venue %s latency %s < 0", c.ID, c.Latency)
	}
	if c.MinSize < 0 {
		return execerr.Invalid("venue %s min size %d < 0", c.ID, c.MinSize)
	}
	if c.FillProbability < 0 || c.FillProbability > 1 {
		return execerr.Invalid("venue %s fill probability %v outside [0,1]", c.ID, c.FillProbability)
	}
	switch c.Kind {
	case KindExchange, KindDarkPool, KindATS:
	default:
		return execerr.Invalid("venue %s kind %q", c.ID, c.Kind)
	}
	return nil
}

// Build 构造具体场所
func (c Config) Build() (Venue, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	p := Profile{VenueID: c.ID, Fee: c.FeeBps, Delay: c.Latency}
	switch c.Kind {
	case KindDarkPool:
		return DarkPool{Profile: p, Minimum: c.MinSize, Probability: c.FillProbability}, nil
	case KindATS:
		return ATS{Profile: p}, nil
	default:
		return Exchange{Profile: p}, nil
	}
}

// BuildAll 构造场所列表，ID 重复时报错。
func BuildAll(cfgs []Config) ([]Venue, error) {
	seen := make(map[string]bool, len(cfgs))
	out := make([]Venue, 0, len(cfgs))
	for _, c := range cfgs {
		if seen[c.ID] {
			return nil, execerr.Invalid("duplicate venue id %s", c.ID)
		}
		seen[c.ID] = true
		v, err := c.Build()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Index 按 ID 建立索引
func Index(venues []Venue) map[string]Venue {
	m := make(map[string]Venue, len(venues))
	for _, v := range venues {
		m[v.ID()] = v
	}
	return m
}

