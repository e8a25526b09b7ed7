package market

import "time"

// Trade 归一化的成交回报（市场公开成交，不是本系统子单的成交）。
type Trade struct {
	Venue string    `json:"venue,omitempty"`
	Price float64   `json:"price"`
	Qty   float64   `json:"qty"`
	Ts    time.Time `json:"ts"`
}
