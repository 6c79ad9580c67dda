package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"lp-hedge-bot/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// HedgeRow is one per-leg bookkeeping sample, recorded after each
// confirmed adjustment fill.
type HedgeRow struct {
	Time        time.Time
	PositionID  string
	TradingPair string
	HedgeAmount float64
	AvgPrice    float64
	RealizedPnl float64
	FeesPaid    float64
	MarkPrice   float64
}

// Writer streams hedge rows into Postgres off the hot path. The
// queue drops on overflow rather than backpressuring the adjustment
// cycle.
type Writer struct {
	db      *sql.DB
	log     *zap.Logger
	schema  string
	rows    chan HedgeRow
	started atomic.Bool
	dropped atomic.Uint64
}

// New returns nil (no writer) when history is disabled; callers
// treat a nil Writer as a no-op.
func New(cfg config.HistoryConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("history dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	w := &Writer{
		db:     db,
		log:    log,
		schema: schema,
		rows:   make(chan HedgeRow, queueSize),
	}
	if err := w.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) Enqueue(row HedgeRow) {
	if w == nil {
		return
	}
	select {
	case w.rows <- row:
	default:
		if w.dropped.Add(1) == 1 && w.log != nil {
			w.log.Warn("hedge history queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case row := <-w.rows:
			if err := w.insert(row); err != nil && w.log != nil {
				w.log.Warn("hedge history insert failed", zap.Error(err))
			}
		}
	}
}

func (w *Writer) insert(row HedgeRow) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s.hedge_history
		(time, position_id, trading_pair, hedge_amount, avg_price, realized_pnl, fees_paid, mark_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, w.schema)
	_, err := w.db.ExecContext(ctx, query,
		row.Time, row.PositionID, row.TradingPair, row.HedgeAmount,
		row.AvgPrice, row.RealizedPnl, row.FeesPaid, row.MarkPrice)
	return err
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.hedge_history (
		time TIMESTAMPTZ NOT NULL,
		position_id TEXT NOT NULL,
		trading_pair TEXT NOT NULL,
		hedge_amount DOUBLE PRECISION NOT NULL,
		avg_price DOUBLE PRECISION NOT NULL,
		realized_pnl DOUBLE PRECISION NOT NULL,
		fees_paid DOUBLE PRECISION NOT NULL,
		mark_price DOUBLE PRECISION NOT NULL
	)`, w.schema)
	_, err := w.db.ExecContext(ctx, query)
	return err
}
