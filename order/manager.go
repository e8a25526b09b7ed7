package order

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrUnknownChild   = errors.New("unknown child order")
	ErrDuplicateChild = errors.New("duplicate child order")
	ErrOverfill       = errors.New("child overfilled")
)

// ChildBook 维护一个母单下所有子单的状态，按回报推进。
type ChildBook struct {
	mu       sync.RWMutex
	children map[string]*ChildOrder
	bySlice  map[string][]string
}

func NewChildBook() *ChildBook {
	return &ChildBook{
		children: make(map[string]*ChildOrder),
		bySlice:  make(map[string][]string),
	}
}

// Track 登记新下发的子单，状态置为 NEW。
func (b *ChildBook) Track(c ChildOrder) error {
	if c.ID == "" || c.Quantity <= 0 {
		return fmt.Errorf("track child %q qty=%d: invalid", c.ID, c.Quantity)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.children[c.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateChild, c.ID)
	}
	c.Status = ChildNew
	c.Executed = 0
	c.AvgPrice = 0
	b.children[c.ID] = &c
	b.bySlice[c.SliceID] = append(b.bySlice[c.SliceID], c.ID)
	return nil
}

// Apply 应用一条回报，返回更新后的子单。部分成交累计到数量上限时视为 FILLED。
func (b *ChildBook) Apply(r ExecutionReport) (ChildOrder, error) {
	if err := r.Validate(); err != nil {
		return ChildOrder{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.children[r.ChildID]
	if !ok {
		return ChildOrder{}, fmt.Errorf("%w: %s", ErrUnknownChild, r.ChildID)
	}
	if c.Executed+r.ExecutedQuantity > c.Quantity {
		return *c, fmt.Errorf("%w: %s executed %d + %d > %d", ErrOverfill, c.ID, c.Executed, r.ExecutedQuantity, c.Quantity)
	}
	next := r.Status
	if next == ChildPartiallyFilled && c.Executed+r.ExecutedQuantity == c.Quantity {
		next = ChildFilled
	}
	if err := childStates.ValidateTransition(c.Status, next); err != nil {
		return *c, fmt.Errorf("child %s: %w", c.ID, err)
	}
	if r.ExecutedQuantity > 0 {
		notional := c.AvgPrice*float64(c.Executed) + r.Price*float64(r.ExecutedQuantity)
		c.Executed += r.ExecutedQuantity
		c.AvgPrice = notional / float64(c.Executed)
	}
	c.Status = next
	if r.Reason != "" {
		c.LastError = r.Reason
	}
	return *c, nil
}

// ForSlice 返回切片下的子单（按下发顺序）。
func (b *ChildBook) ForSlice(sliceID string) []ChildOrder {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := b.bySlice[sliceID]
	out := make([]ChildOrder, 0, len(ids))
	for _, id := range ids {
		out = append(out, *b.children[id])
	}
	return out
}

// OpenForSlice 切片下未终结的子单数量。
func (b *ChildBook) OpenForSlice(sliceID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, id := range b.bySlice[sliceID] {
		if b.children[id].Open() {
			n++
		}
	}
	return n
}

// Open 全部未终结子单，按 ID 排序。
func (b *ChildBook) Open() []ChildOrder {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]ChildOrder, 0)
	for _, c := range b.children {
		if c.Open() {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// InFlight 未终结子单的未成交数量合计。
func (b *ChildBook) InFlight() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var q int64
	for _, c := range b.children {
		if c.Open() {
			q += c.Remaining()
		}
	}
	return q
}
