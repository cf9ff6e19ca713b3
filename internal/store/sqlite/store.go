// Package sqlite provides the durable store: closed-position history,
// the shutdown snapshot of open positions, and the order audit journal.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"trading-botv1/internal/model"
)

// StoreConfig configures the SQLite store.
type StoreConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/bot.db"
}

// Store is a single-writer SQLite store.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New opens the database with WAL mode and initializes the schema.
func New(cfg StoreConfig) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS closed_positions (
			position_id   TEXT    NOT NULL,
			symbol        TEXT    NOT NULL,
			qty           INTEGER NOT NULL,
			entry_price   REAL    NOT NULL,
			exit_price    REAL    NOT NULL,
			realized_pl   REAL    NOT NULL,
			strategy_id   TEXT    NOT NULL,
			strategy_name TEXT,
			account_id    TEXT,
			open_reason   TEXT,
			close_reason  TEXT,
			opened_at     INTEGER NOT NULL,
			closed_at     INTEGER NOT NULL,
			PRIMARY KEY (position_id, closed_at)
		);

		CREATE INDEX IF NOT EXISTS idx_closed_strategy ON closed_positions (strategy_id, closed_at);

		CREATE TABLE IF NOT EXISTS saved_positions (
			position_id TEXT PRIMARY KEY,
			data        TEXT    NOT NULL,
			saved_at    INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS order_journal (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			ts         INTEGER NOT NULL,
			account_id TEXT,
			strategy_id TEXT,
			symbol     TEXT    NOT NULL,
			side       TEXT    NOT NULL,
			qty        INTEGER NOT NULL,
			order_id   TEXT,
			status     TEXT    NOT NULL,
			error      TEXT
		);
	`)
	return err
}

// AppendClosed records a closed position in the history table.
func (s *Store) AppendClosed(cp model.ClosedPosition) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO closed_positions
			(position_id, symbol, qty, entry_price, exit_price, realized_pl,
			 strategy_id, strategy_name, account_id, open_reason, close_reason, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cp.PositionID, cp.Symbol, cp.Qty, cp.EntryPrice, cp.CurrentPrice, cp.RealizedPL,
		cp.StrategyID, cp.StrategyName, cp.AccountID, cp.OpenReason, cp.CloseReason,
		cp.OpenTimestamp.Unix(), cp.CloseTimestamp.Unix(),
	)
	if err != nil {
		return fmt.Errorf("sqlite insert closed position: %w", err)
	}
	return nil
}

// ClosedHistory returns the most recent closed positions, newest first.
// strategyID filters when non-empty.
func (s *Store) ClosedHistory(strategyID string, limit int) ([]model.ClosedPosition, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT position_id, symbol, qty, entry_price, exit_price, realized_pl,
		       strategy_id, strategy_name, account_id, open_reason, close_reason, opened_at, closed_at
		FROM closed_positions`
	args := []any{}
	if strategyID != "" {
		query += ` WHERE strategy_id = ?`
		args = append(args, strategyID)
	}
	query += ` ORDER BY closed_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite closed history: %w", err)
	}
	defer rows.Close()

	var out []model.ClosedPosition
	for rows.Next() {
		var cp model.ClosedPosition
		var openedAt, closedAt int64
		if err := rows.Scan(&cp.PositionID, &cp.Symbol, &cp.Qty, &cp.EntryPrice, &cp.CurrentPrice,
			&cp.RealizedPL, &cp.StrategyID, &cp.StrategyName, &cp.AccountID,
			&cp.OpenReason, &cp.CloseReason, &openedAt, &closedAt); err != nil {
			return nil, fmt.Errorf("sqlite scan closed position: %w", err)
		}
		cp.OpenTimestamp = time.Unix(openedAt, 0)
		cp.CloseTimestamp = time.Unix(closedAt, 0)
		out = append(out, cp)
	}
	return out, rows.Err()
}

// SaveSnapshot replaces the saved-position set. Called during graceful
// shutdown with every open position that was not force-closed.
func (s *Store) SaveSnapshot(saved []model.SavedPosition) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM saved_positions`); err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite clear snapshot: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO saved_positions (position_id, data, saved_at) VALUES (?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, sp := range saved {
		data, err := json.Marshal(sp)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("marshal saved position: %w", err)
		}
		if _, err := stmt.Exec(sp.PositionID, string(data), sp.SavedAt.Unix()); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert saved position: %w", err)
		}
	}

	return tx.Commit()
}

// LoadSnapshot returns the saved-position set from the last shutdown.
func (s *Store) LoadSnapshot() ([]model.SavedPosition, error) {
	rows, err := s.db.Query(`SELECT data FROM saved_positions ORDER BY saved_at`)
	if err != nil {
		return nil, fmt.Errorf("sqlite load snapshot: %w", err)
	}
	defer rows.Close()

	var out []model.SavedPosition
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var sp model.SavedPosition
		if err := json.Unmarshal([]byte(data), &sp); err != nil {
			log.Printf("[sqlite] skipping corrupt saved position: %v", err)
			continue
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

// ClearSnapshot drops all saved positions after a restore pass.
func (s *Store) ClearSnapshot() error {
	_, err := s.db.Exec(`DELETE FROM saved_positions`)
	if err != nil {
		return fmt.Errorf("sqlite clear snapshot: %w", err)
	}
	return nil
}

// RecordOrder appends an order attempt to the audit journal. errMsg is
// empty for accepted orders.
func (s *Store) RecordOrder(accountID, strategyID string, order model.Order, result model.OrderResult, errMsg string) error {
	status := result.Status
	if status == "" {
		status = "rejected"
	}
	_, err := s.db.Exec(`
		INSERT INTO order_journal (ts, account_id, strategy_id, symbol, side, qty, order_id, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		time.Now().Unix(), accountID, strategyID, order.Symbol, string(order.Side), order.Qty,
		result.ID, status, errMsg,
	)
	if err != nil {
		return fmt.Errorf("sqlite journal insert: %w", err)
	}
	return nil
}

// JournalEntry is one row of the order audit journal.
type JournalEntry struct {
	ID         int64     `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	AccountID  string    `json:"account_id"`
	StrategyID string    `json:"strategy_id"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Qty        int64     `json:"qty"`
	OrderID    string    `json:"order_id"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
}

// Journal returns the most recent order journal entries, newest first.
func (s *Store) Journal(limit int) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, ts, account_id, strategy_id, symbol, side, qty, order_id, status, error
		FROM order_journal ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite journal query: %w", err)
	}
	defer rows.Close()

	var out []JournalEntry
	for rows.Next() {
		var je JournalEntry
		var ts int64
		if err := rows.Scan(&je.ID, &ts, &je.AccountID, &je.StrategyID, &je.Symbol,
			&je.Side, &je.Qty, &je.OrderID, &je.Status, &je.Error); err != nil {
			return nil, err
		}
		je.Timestamp = time.Unix(ts, 0)
		out = append(out, je)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
