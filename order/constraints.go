package order

import (
	"fmt"
	"math"
)

// SymbolConstraints 描述标的的价格步长、整手与数量/名义限制。
type SymbolConstraints struct {
	TickSize    float64 `yaml:"tickSize" json:"tick_size"`
	LotSize     int64   `yaml:"lotSize" json:"lot_size"`
	MinQty      int64   `yaml:"minQty" json:"min_qty"`
	MaxQty      int64   `yaml:"maxQty" json:"max_qty"`
	MinNotional float64 `yaml:"minNotional" json:"min_notional"`
}

// Validate 检查母单数量、限价与名义金额。refPrice 用于无限价时估算名义。
func (c SymbolConstraints) Validate(o Order, refPrice float64) error {
	if o.LimitPrice != nil && c.TickSize > 0 && !isMultiple(*o.LimitPrice, c.TickSize) {
		return fmt.Errorf("limit %.8f not aligned to tickSize %.8f", *o.LimitPrice, c.TickSize)
	}
	if c.LotSize > 1 && o.Quantity%c.LotSize != 0 {
		return fmt.Errorf("qty %d not a multiple of lotSize %d", o.Quantity, c.LotSize)
	}
	if c.MinQty > 0 && o.Quantity < c.MinQty {
		return fmt.Errorf("qty %d < minQty %d", o.Quantity, c.MinQty)
	}
	if c.MaxQty > 0 && o.Quantity > c.MaxQty {
		return fmt.Errorf("qty %d > maxQty %d", o.Quantity, c.MaxQty)
	}
	price := refPrice
	if o.LimitPrice != nil {
		price = *o.LimitPrice
	}
	if c.MinNotional > 0 && price > 0 && price*float64(o.Quantity) < c.MinNotional {
		return fmt.Errorf("notional %.2f < minNotional %.2f", price*float64(o.Quantity), c.MinNotional)
	}
	return nil
}

func isMultiple(value, step float64) bool {
	if step <= 0 {
		return true
	}
	ratio := value / step
	return math.Abs(ratio-math.Round(ratio)) <= 1e-8
}
