package schedule

import (
	"fmt"
	"sync"
)

// History 只追加的计划历史，用于审计与 TCA。
type History struct {
	mu      sync.RWMutex
	entries []*Schedule
}

func NewHistory() *History { return &History{} }

// Append 追加新版本；版本号必须严格递增。
func (h *History) Append(s *Schedule) error {
	if s == nil {
		return fmt.Errorf("append nil schedule")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if n := len(h.entries); n > 0 && s.Version <= h.entries[n-1].Version {
		return fmt.Errorf("schedule version %d not after %d", s.Version, h.entries[n-1].Version)
	}
	h.entries = append(h.entries, s.Clone())
	return nil
}

// Entries 历史副本
func (h *History) Entries() []*Schedule {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Schedule, len(h.entries))
	for i, s := range h.entries {
		out[i] = s.Clone()
	}
	return out
}

// Len 历史条数
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Latest 最新版本，无记录时返回 nil。
func (h *History) Latest() *Schedule {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.entries) == 0 {
		return nil
	}
	return h.entries[len(h.entries)-1].Clone()
}
