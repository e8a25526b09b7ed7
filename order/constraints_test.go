package order

import "testing"

func TestSymbolConstraintsValidate(t *testing.T) {
	c := SymbolConstraints{
		TickSize:    0.01,
		LotSize:     100,
		MinQty:      100,
		MaxQty:      1_000_000,
		MinNotional: 5000,
	}
	o := baseOrder()
	if err := c.Validate(o, 50); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	o.LimitPrice = Price(50.015)
	if err := c.Validate(o, 50); err == nil {
		t.Fatalf("expected tick size error")
	}
	o = baseOrder()
	o.Quantity = 150
	if err := c.Validate(o, 50); err == nil {
		t.Fatalf("expected lot size error")
	}
	o.Quantity = 2_000_000
	if err := c.Validate(o, 50); err == nil {
		t.Fatalf("expected max qty error")
	}
	o.Quantity = 100
	if err := c.Validate(o, 10); err == nil {
		t.Fatalf("expected notional error")
	}
}
