// Package store 执行审计日志：每个安装的计划、每笔成交、执行失败与母单终态写入 SQLite。
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"execution-kit/execerr"
	"execution-kit/monitor"
	"execution-kit/order"
	"execution-kit/schedule"
)

// ErrNotFound 查询的母单不存在
var ErrNotFound = errors.New("not found")

// EventSink 写入成功后的事件回调（可选，例如转发到日志）。
type EventSink func(string, map[string]interface{})

// Store 审计库，同时实现 monitor.Observer。观察者回调里的写入错误只记录日志并计数，
// 不影响执行。
type Store struct {
	monitor.NopObserver

	db     *sql.DB
	logger *zap.Logger
	sink   EventSink
	now    func() time.Time
	errs   atomic.Int64
}

const schema = `
CREATE TABLE IF NOT EXISTS schedules (
	order_id     TEXT NOT NULL,
	version      INTEGER NOT NULL,
	schedule_id  TEXT NOT NULL,
	reason       TEXT NOT NULL,
	algorithm    TEXT NOT NULL,
	quantity     INTEGER NOT NULL,
	slices       INTEGER NOT NULL,
	est_cost_bps REAL NOT NULL,
	created_at   TEXT NOT NULL,
	payload      TEXT NOT NULL,
	PRIMARY KEY (order_id, version)
);
CREATE TABLE IF NOT EXISTS fills (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id   TEXT NOT NULL,
	venue      TEXT NOT NULL,
	quantity   INTEGER NOT NULL,
	price      REAL NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS failures (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id   TEXT NOT NULL,
	slice_id   TEXT NOT NULL,
	quantity   INTEGER NOT NULL,
	venues     TEXT NOT NULL,
	reason     TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS orders (
	order_id     TEXT PRIMARY KEY,
	symbol       TEXT NOT NULL,
	side         TEXT NOT NULL,
	algorithm    TEXT NOT NULL,
	state        TEXT NOT NULL,
	quantity     INTEGER NOT NULL,
	filled       INTEGER NOT NULL,
	residual     INTEGER NOT NULL,
	avg_price    REAL NOT NULL,
	slippage_bps REAL NOT NULL,
	reason       TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fills_order ON fills(order_id);
CREATE INDEX IF NOT EXISTS idx_failures_order ON failures(order_id);
`

// Open 打开（或创建）审计库。path 为 ":memory:" 时使用内存库。
func Open(path string, logger *zap.Logger, sink EventSink) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if path != ":memory:" {
		if err := ensureDir(filepath.Dir(path)); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("%s?_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// 单写者；内存库每个连接是独立的数据库
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA synchronous=NORMAL;"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db, logger: logger, sink: sink, now: time.Now}, nil
}

// Ping 健康检查
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close 关闭数据库连接。
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// WriteErrors 观察者回调中失败的写入次数。
func (s *Store) WriteErrors() int64 { return s.errs.Load() }

// SaveSchedule 记录一个已安装的计划版本。同一版本重复写入会覆盖。
func (s *Store) SaveSchedule(ctx context.Context, sc *schedule.Schedule) error {
	payload, err := schedule.Marshal(sc)
	if err != nil {
		return fmt.Errorf("marshal schedule: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schedules (order_id, version, schedule_id, reason, algorithm, quantity, slices, est_cost_bps, created_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id, version) DO UPDATE SET
			schedule_id=excluded.schedule_id, reason=excluded.reason, payload=excluded.payload`,
		sc.OrderID, sc.Version, sc.ID, string(sc.Reason), string(sc.Algorithm), sc.Quantity, len(sc.Slices),
		sc.EstimatedCostBps, formatTime(sc.CreatedAt), string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

// SaveOrder 写入或更新母单终态。
func (s *Store) SaveOrder(ctx context.Context, st monitor.Status) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (order_id, symbol, side, algorithm, state, quantity, filled, residual, avg_price, slippage_bps, reason, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET
			state=excluded.state, filled=excluded.filled, residual=excluded.residual, avg_price=excluded.avg_price,
			slippage_bps=excluded.slippage_bps, reason=excluded.reason, updated_at=excluded.updated_at`,
		st.OrderID, st.Symbol, string(st.Side), string(st.Algorithm), string(st.State), st.Quantity, st.Filled,
		st.Residual, st.AvgPrice, st.SlippageBps, st.Reason, formatTime(st.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert order: %w", err)
	}
	return nil
}

// SaveFailure 记录一次执行失败（重试后仍被拒绝）。
func (s *Store) SaveFailure(ctx context.Context, f *execerr.ExecutionFailure) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO failures (order_id, slice_id, quantity, venues, reason, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		f.OrderID, f.SliceID, f.Quantity, strings.Join(f.Venues, ","), f.Reason, formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("insert failure: %w", err)
	}
	return nil
}

// SaveFill 记录一笔成交。
func (s *Store) SaveFill(ctx context.Context, orderID, venueID string, qty int64, price float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fills (order_id, venue, quantity, price, created_at) VALUES (?, ?, ?, ?, ?)`,
		orderID, venueID, qty, price, formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("insert fill: %w", err)
	}
	return nil
}

// History 按版本顺序返回母单的全部计划。
func (s *Store) History(ctx context.Context, orderID string) ([]*schedule.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM schedules WHERE order_id = ? ORDER BY version`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
	}
	defer rows.Close()

	var out []*schedule.Schedule
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		sc, err := schedule.Unmarshal([]byte(payload))
		if err != nil {
			return nil, fmt.Errorf("decode schedule: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// OrderRecord 母单终态记录
type OrderRecord struct {
	OrderID     string      `json:"order_id"`
	Symbol      string      `json:"symbol"`
	Side        order.Side  `json:"side"`
	Algorithm   string      `json:"algorithm"`
	State       order.State `json:"state"`
	Quantity    int64       `json:"quantity"`
	Filled      int64       `json:"filled"`
	Residual    int64       `json:"residual"`
	AvgPrice    float64     `json:"avg_price"`
	SlippageBps float64     `json:"slippage_bps"`
	Reason      string      `json:"reason"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

const orderColumns = `order_id, symbol, side, algorithm, state, quantity, filled, residual, avg_price, slippage_bps, reason, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(sc scanner) (OrderRecord, error) {
	var (
		r                        OrderRecord
		side, state, updatedText string
	)
	err := sc.Scan(&r.OrderID, &r.Symbol, &side, &r.Algorithm, &state, &r.Quantity, &r.Filled, &r.Residual,
		&r.AvgPrice, &r.SlippageBps, &r.Reason, &updatedText)
	if err != nil {
		return r, err
	}
	r.Side = order.Side(side)
	r.State = order.State(state)
	r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedText)
	return r, nil
}

// Order 查询母单终态
func (s *Store) Order(ctx context.Context, orderID string) (OrderRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id = ?`, orderID)
	r, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return r, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return r, fmt.Errorf("query order: %w", err)
	}
	return r, nil
}

// Orders 所有已结束母单，按 ID 排序
func (s *Store) Orders(ctx context.Context) ([]OrderRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY order_id`)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()
	var out []OrderRecord
	for rows.Next() {
		r, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FailureRecord 执行失败记录
type FailureRecord struct {
	SliceID   string    `json:"slice_id"`
	Quantity  int64     `json:"quantity"`
	Venues    []string  `json:"venues"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// Failures 母单的执行失败记录
func (s *Store) Failures(ctx context.Context, orderID string) ([]FailureRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT slice_id, quantity, venues, reason, created_at FROM failures WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	defer rows.Close()
	var out []FailureRecord
	for rows.Next() {
		var (
			r          FailureRecord
			venues, ts string
		)
		if err := rows.Scan(&r.SliceID, &r.Quantity, &venues, &r.Reason, &ts); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		if venues != "" {
			r.Venues = strings.Split(venues, ",")
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

// FilledQuantity 审计库中母单的累计成交
func (s *Store) FilledQuantity(ctx context.Context, orderID string) (int64, error) {
	var n sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT SUM(quantity) FROM fills WHERE order_id = ?`, orderID).Scan(&n); err != nil {
		return 0, fmt.Errorf("sum fills: %w", err)
	}
	return n.Int64, nil
}

// ---- monitor.Observer ----

func (s *Store) ScheduleInstalled(sc *schedule.Schedule) {
	s.record("schedule", s.SaveSchedule(context.Background(), sc), map[string]interface{}{
		"order_id": sc.OrderID,
		"version":  sc.Version,
		"reason":   string(sc.Reason),
	})
}

func (s *Store) Failure(f *execerr.ExecutionFailure) {
	s.record("failure", s.SaveFailure(context.Background(), f), map[string]interface{}{
		"order_id": f.OrderID,
		"slice_id": f.SliceID,
	})
}

func (s *Store) Filled(orderID, venueID string, qty int64, price float64) {
	s.record("fill", s.SaveFill(context.Background(), orderID, venueID, qty, price), map[string]interface{}{
		"order_id": orderID,
		"venue":    venueID,
		"quantity": qty,
	})
}

func (s *Store) Terminal(st monitor.Status) {
	s.record("order", s.SaveOrder(context.Background(), st), map[string]interface{}{
		"order_id": st.OrderID,
		"state":    string(st.State),
	})
}

func (s *Store) record(event string, err error, fields map[string]interface{}) {
	if err != nil {
		s.errs.Add(1)
		s.logger.Error("audit write failed", zap.String("event", event), zap.Error(err))
		return
	}
	if s.sink != nil {
		s.sink(event, fields)
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func ensureDir(path string) error {
	if path == "" || path == "." {
		return nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create dir %q: %w", path, err)
	}
	return nil
}

var _ monitor.Observer = (*Store)(nil)
