package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"execution-kit/algo"
	"execution-kit/internal/engine"
	"execution-kit/internal/store"
	"execution-kit/monitor"
	"execution-kit/order"
)

type orderHandler struct {
	eng    Engine
	audit  *store.Store
	now    func() time.Time
	logger *zap.Logger
}

// submitRequest POST /orders 的请求体。algorithm 为 {"kind": ..., "params": {...}}。
type submitRequest struct {
	Order     order.Order     `json:"order"`
	Algorithm json.RawMessage `json:"algorithm"`
}

type submitResponse struct {
	OrderID string `json:"order_id"`
	State   string `json:"state"`
}

func (h *orderHandler) Health(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"engine": h.eng.GetState().String(),
		"active": h.eng.Active(),
	})
}

func (h *orderHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if len(req.Algorithm) == 0 {
		WriteError(w, http.StatusBadRequest, "invalid_body", "algorithm is required")
		return
	}
	spec, err := algo.Decode(req.Algorithm)
	if err != nil {
		writeErr(w, err)
		return
	}

	o := req.Order
	now := h.now()
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.ArrivalTime.IsZero() {
		o.ArrivalTime = now
	}
	if o.StartTime.IsZero() {
		o.StartTime = now
	}

	if _, err := h.eng.Submit(o, spec); err != nil {
		writeErr(w, err)
		return
	}
	st, err := h.eng.Status(o.ID)
	if err != nil {
		writeErr(w, err)
		return
	}
	h.logger.Info("order accepted", zap.String("order_id", o.ID), zap.String("algo", string(spec.Kind())))
	WriteJSON(w, http.StatusAccepted, submitResponse{OrderID: o.ID, State: string(st.State)})
}

func (h *orderHandler) List(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"orders": h.eng.List()})
}

// Archive 审计库中已结束的母单（含重启前的）。
func (h *orderHandler) Archive(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		WriteJSON(w, http.StatusOK, map[string]any{"orders": []store.OrderRecord{}})
		return
	}
	recs, err := h.audit.Orders(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	if recs == nil {
		recs = []store.OrderRecord{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"orders": recs})
}

// orderDetail 内存中母单的状态，附带在途子单与分场所成交
type orderDetail struct {
	monitor.Status
	OpenChildren  []order.ChildOrder `json:"open_children"`
	FilledByVenue map[string]int64   `json:"filled_by_venue"`
}

func (h *orderHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "order_id")
	mon, err := h.eng.Monitor(id)
	if err == nil {
		open := mon.OpenChildren()
		if open == nil {
			open = []order.ChildOrder{}
		}
		WriteJSON(w, http.StatusOK, orderDetail{Status: mon.Status(), OpenChildren: open, FilledByVenue: mon.FilledByVenue()})
		return
	}
	if !errors.Is(err, engine.ErrUnknownOrder) || h.audit == nil {
		writeErr(w, err)
		return
	}
	rec, err := h.audit.Order(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

func (h *orderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "order_id")
	if err := h.eng.Cancel(id); err != nil {
		writeErr(w, err)
		return
	}
	st, err := h.eng.Status(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	// 撤单是异步的：在途子单结束后才进入 CANCELED
	WriteJSON(w, http.StatusAccepted, st)
}

func (h *orderHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	mon, err := h.eng.Monitor(chi.URLParam(r, "order_id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	sc := mon.Schedule()
	if sc == nil {
		WriteError(w, http.StatusNotFound, "no_schedule", "order has not been planned yet")
		return
	}
	WriteJSON(w, http.StatusOK, sc)
}

func (h *orderHandler) History(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "order_id")
	mon, err := h.eng.Monitor(id)
	if err == nil {
		WriteJSON(w, http.StatusOK, map[string]any{"schedules": mon.History()})
		return
	}
	if !errors.Is(err, engine.ErrUnknownOrder) || h.audit == nil {
		writeErr(w, err)
		return
	}
	hist, err := h.audit.History(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if len(hist) == 0 {
		writeErr(w, err404(id))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"schedules": hist})
}

func (h *orderHandler) Fills(w http.ResponseWriter, r *http.Request) {
	mon, err := h.eng.Monitor(chi.URLParam(r, "order_id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	fills := mon.Fills()
	if fills == nil {
		fills = []order.Fill{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"fills": fills})
}

func (h *orderHandler) Analysis(w http.ResponseWriter, r *http.Request) {
	mon, err := h.eng.Monitor(chi.URLParam(r, "order_id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, mon.Analysis())
}

func (h *orderHandler) Failures(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "order_id")
	if h.audit == nil {
		WriteError(w, http.StatusNotFound, "no_audit", "audit journal is not configured")
		return
	}
	recs, err := h.audit.Failures(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if recs == nil {
		recs = []store.FailureRecord{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"failures": recs})
}

func err404(id string) error {
	return fmt.Errorf("%w: %s", engine.ErrUnknownOrder, id)
}
