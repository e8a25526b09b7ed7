package logschema

import (
	"sort"
	"strings"
)

// 事件名即日志 message。
const (
	OrderEvent  = "order_event"
	SliceEvent  = "slice_event"
	ReplanEvent = "replan_event"
	ErrorEvent  = "error_event"
)

// required 每个事件必须携带的字段
var required = map[string][]string{
	OrderEvent:  {"event", "order_id"},
	SliceEvent:  {"event", "order_id", "slice_id"},
	ReplanEvent: {"order_id", "reason", "version", "quantity"},
	ErrorEvent:  {"error"},
}

// MissingFieldsError 日志字段不完整
type MissingFieldsError struct {
	Event   string
	Missing []string
}

func (e *MissingFieldsError) Error() string {
	return e.Event + ": missing fields: " + strings.Join(e.Missing, ",")
}

// Known 已登记的事件名（排序后）
func Known() []string {
	names := make([]string, 0, len(required))
	for k := range required {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Validate 未登记的事件不校验。
func Validate(event string, fields map[string]interface{}) error {
	var missing []string
	for _, key := range required[event] {
		if _, ok := fields[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingFieldsError{Event: event, Missing: missing}
}
