package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"lp-hedge-bot/internal/rebalance"

	_ "modernc.org/sqlite"
)

// PositionRow is the durable record for one LP position: the
// rebalance task fields plus the orchestrator's own bookkeeping.
type PositionRow struct {
	rebalance.Task
	PairName     string `json:"pairName"`
	HedgePlanRef string `json:"hedgePlanRef,omitempty"`
}

// Store persists position rows and opportunistic hedge snapshots.
type Store struct {
	db *sql.DB
}

func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS positions (
			position_id TEXT PRIMARY KEY,
			pool_id TEXT NOT NULL,
			pair_name TEXT NOT NULL DEFAULT '',
			hedge_plan_ref TEXT NOT NULL DEFAULT '',
			is_auto_rebalancing INTEGER NOT NULL DEFAULT 0,
			rebalance_status TEXT NOT NULL DEFAULT 'idle',
			out_of_range_since TEXT,
			rebalance_context TEXT NOT NULL DEFAULT '{}',
			initial_value REAL NOT NULL DEFAULT 0,
			cumulative_pnl_usd REAL NOT NULL DEFAULT 0,
			transaction_costs REAL NOT NULL DEFAULT 0,
			start_price REAL NOT NULL DEFAULT 0,
			end_price REAL NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS hedge_snapshots (
			position_id TEXT PRIMARY KEY,
			snapshot BLOB NOT NULL,
			updated_at TEXT NOT NULL
		);`)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) PutPosition(ctx context.Context, row PositionRow) error {
	contextJSON, err := json.Marshal(row.Context)
	if err != nil {
		return err
	}
	var since any
	if row.OutOfRangeSince != nil {
		since = row.OutOfRangeSince.UTC().Format(time.RFC3339Nano)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO positions (position_id, pool_id, pair_name, hedge_plan_ref,
			is_auto_rebalancing, rebalance_status, out_of_range_since, rebalance_context,
			initial_value, cumulative_pnl_usd, transaction_costs, start_price, end_price)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(position_id) DO UPDATE SET
			pool_id = excluded.pool_id,
			pair_name = excluded.pair_name,
			hedge_plan_ref = excluded.hedge_plan_ref,
			is_auto_rebalancing = excluded.is_auto_rebalancing,
			rebalance_status = excluded.rebalance_status,
			out_of_range_since = excluded.out_of_range_since,
			rebalance_context = excluded.rebalance_context,
			initial_value = excluded.initial_value,
			cumulative_pnl_usd = excluded.cumulative_pnl_usd,
			transaction_costs = excluded.transaction_costs,
			start_price = excluded.start_price,
			end_price = excluded.end_price`,
		row.PositionID, row.PoolID, row.PairName, row.HedgePlanRef,
		boolToInt(row.AutoRebalancing), string(row.Status), since, string(contextJSON),
		row.InitialValue, row.CumulativePnlUSD, row.TransactionCosts,
		row.StartPrice, row.EndPrice)
	return err
}

func (s *Store) GetPosition(ctx context.Context, positionID string) (PositionRow, bool, error) {
	row := s.db.QueryRowContext(ctx, selectPositions+` WHERE position_id = ?`, positionID)
	pos, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return PositionRow{}, false, nil
	}
	if err != nil {
		return PositionRow{}, false, err
	}
	return pos, true, nil
}

func (s *Store) DeletePosition(ctx context.Context, positionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM positions WHERE position_id = ?`, positionID)
	return err
}

func (s *Store) ListPositions(ctx context.Context) ([]PositionRow, error) {
	return s.queryPositions(ctx, selectPositions)
}

func (s *Store) ActiveForRebalance(ctx context.Context) ([]PositionRow, error) {
	return s.queryPositions(ctx, selectPositions+` WHERE is_auto_rebalancing = 1`)
}

func (s *Store) SaveSnapshot(ctx context.Context, positionID string, blob []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hedge_snapshots (position_id, snapshot, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(position_id) DO UPDATE SET snapshot = excluded.snapshot, updated_at = excluded.updated_at`,
		positionID, blob, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (s *Store) GetSnapshot(ctx context.Context, positionID string) ([]byte, bool, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT snapshot FROM hedge_snapshots WHERE position_id = ?`, positionID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return blob, true, nil
}

func (s *Store) AllSnapshots(ctx context.Context) ([][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT snapshot FROM hedge_snapshots`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var blobs [][]byte
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		blobs = append(blobs, blob)
	}
	return blobs, rows.Err()
}

const selectPositions = `SELECT position_id, pool_id, pair_name, hedge_plan_ref,
	is_auto_rebalancing, rebalance_status, out_of_range_since, rebalance_context,
	initial_value, cumulative_pnl_usd, transaction_costs, start_price, end_price
	FROM positions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(scanner rowScanner) (PositionRow, error) {
	var pos PositionRow
	var auto int
	var status string
	var since sql.NullString
	var contextJSON string
	err := scanner.Scan(&pos.PositionID, &pos.PoolID, &pos.PairName, &pos.HedgePlanRef,
		&auto, &status, &since, &contextJSON,
		&pos.InitialValue, &pos.CumulativePnlUSD, &pos.TransactionCosts,
		&pos.StartPrice, &pos.EndPrice)
	if err != nil {
		return PositionRow{}, err
	}
	pos.AutoRebalancing = auto != 0
	pos.Status = rebalance.Status(status)
	if since.Valid && since.String != "" {
		if t, err := time.Parse(time.RFC3339Nano, since.String); err == nil {
			pos.OutOfRangeSince = &t
		}
	}
	if contextJSON != "" {
		_ = json.Unmarshal([]byte(contextJSON), &pos.Context)
	}
	return pos, nil
}

func (s *Store) queryPositions(ctx context.Context, query string) ([]PositionRow, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var positions []PositionRow
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
