package storage

// sqlite.go - estado del ledger, histórico de cierres y resumen de ciclos.
//
// Estrategia:
//   - `positions` + `ledger_meta`: el snapshot del ledger. SaveState reemplaza
//     ambos en una transacción.
//   - `closed_positions`: una fila por cierre, nunca se modifica.
//   - `cycles`: resumen ligero por ciclo.
//   - Cache en memoria: si el snapshot no cambió desde el último write no se
//     toca el disco. Con posiciones quietas la mayoría de ciclos terminan ahí.
//   - Prune al arrancar: cycles > 30d.

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/alejandrodnm/polyedge/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS positions (
    market_id     TEXT PRIMARY KEY,
    question      TEXT,
    token_side    TEXT    NOT NULL,
    token_id      TEXT,
    entry_price   REAL    NOT NULL,
    shares        REAL    NOT NULL,
    cost_basis    REAL    NOT NULL,
    current_price REAL    NOT NULL DEFAULT 0,
    neg_risk      INTEGER NOT NULL DEFAULT 0,
    opened_at     DATETIME NOT NULL
);

-- Una sola fila (id = 1)
CREATE TABLE IF NOT EXISTS ledger_meta (
    id                 INTEGER PRIMARY KEY CHECK (id = 1),
    total_realized_pnl REAL    NOT NULL DEFAULT 0,
    daily_pnl          REAL    NOT NULL DEFAULT 0,
    last_daily_reset   DATETIME,
    closed_trades      INTEGER NOT NULL DEFAULT 0,
    winning_trades     INTEGER NOT NULL DEFAULT 0,
    risk_daily_loss    REAL    NOT NULL DEFAULT 0,
    risk_daily_trades  INTEGER NOT NULL DEFAULT 0,
    risk_reset_at      DATETIME
);

CREATE TABLE IF NOT EXISTS closed_positions (
    id           TEXT PRIMARY KEY,
    market_id    TEXT    NOT NULL,
    question     TEXT,
    token_side   TEXT    NOT NULL,
    entry_price  REAL    NOT NULL,
    exit_price   REAL    NOT NULL,
    shares       REAL    NOT NULL,
    realized_pnl REAL    NOT NULL,
    pnl_pct      REAL    NOT NULL,
    hold_seconds INTEGER NOT NULL,
    reason       TEXT    NOT NULL,
    closed_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS cycles (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    ran_at         DATETIME NOT NULL,
    cycle          INTEGER  NOT NULL,
    balance        REAL     NOT NULL DEFAULT 0,
    balance_source TEXT,
    scanned        INTEGER  NOT NULL DEFAULT 0,
    analyzed       INTEGER  NOT NULL DEFAULT 0,
    signals        INTEGER  NOT NULL DEFAULT 0,
    rejected       INTEGER  NOT NULL DEFAULT 0,
    trades         INTEGER  NOT NULL DEFAULT 0,
    exits          INTEGER  NOT NULL DEFAULT 0,
    arbitrage      INTEGER  NOT NULL DEFAULT 0,
    survival       INTEGER  NOT NULL DEFAULT 0,
    duration_ms    INTEGER  NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_closed_at ON closed_positions(closed_at DESC);
CREATE INDEX IF NOT EXISTS idx_cycles_at ON cycles(ran_at DESC);
`

const retentionCycles = 30 * 24 * time.Hour

// SQLiteStore implementa ports.Store, ports.TradeJournal y ports.CycleJournal
// usando SQLite (pure Go, sin CGo).
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time

	mu        sync.Mutex
	lastSaved []byte // snapshot serializado del último SaveState
}

// NewSQLiteStore abre (o crea) la base de datos en la ruta dada.
// Aplica el schema y limpia ciclos antiguos.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStore: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStore: apply schema: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	s.pruneOld(context.Background())
	return s, nil
}

// LoadState devuelve el snapshot guardado, o uno vacío.
func (s *SQLiteStore) LoadState(ctx context.Context) (domain.LedgerState, error) {
	state := domain.NewLedgerState()

	rows, err := s.db.QueryContext(ctx, `
		SELECT market_id, question, token_side, token_id, entry_price, shares,
		       cost_basis, current_price, neg_risk, opened_at
		FROM positions`)
	if err != nil {
		return state, fmt.Errorf("storage.LoadState: query positions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Position
		var side string
		var question, tokenID sql.NullString
		var negRisk int
		if err := rows.Scan(&p.MarketID, &question, &side, &tokenID, &p.EntryPrice, &p.Shares,
			&p.CostBasis, &p.CurrentPrice, &negRisk, &p.OpenedAt); err != nil {
			return state, fmt.Errorf("storage.LoadState: scan position: %w", err)
		}
		p.Question = question.String
		p.TokenID = tokenID.String
		p.TokenSide = domain.TokenSide(side)
		p.NegRisk = negRisk == 1
		state.Positions[p.MarketID] = p
	}
	if err := rows.Err(); err != nil {
		return state, fmt.Errorf("storage.LoadState: rows: %w", err)
	}

	var lastReset, riskReset sql.NullTime
	err = s.db.QueryRowContext(ctx, `
		SELECT total_realized_pnl, daily_pnl, last_daily_reset, closed_trades, winning_trades,
		       risk_daily_loss, risk_daily_trades, risk_reset_at
		FROM ledger_meta WHERE id = 1`).Scan(
		&state.TotalRealizedPnL, &state.DailyPnL, &lastReset, &state.ClosedTrades, &state.WinningTrades,
		&state.Daily.DailyLoss, &state.Daily.DailyTrades, &riskReset,
	)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return state, fmt.Errorf("storage.LoadState: query meta: %w", err)
	default:
		state.LastDailyReset = lastReset.Time
		state.Daily.ResetAt = riskReset.Time
	}

	s.remember(state)
	return state, nil
}

// SaveState reemplaza el snapshot completo. No escribe si no cambió.
func (s *SQLiteStore) SaveState(ctx context.Context, state domain.LedgerState) error {
	encoded, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("storage.SaveState: encode: %w", err)
	}
	s.mu.Lock()
	unchanged := s.lastSaved != nil && bytes.Equal(s.lastSaved, encoded)
	s.mu.Unlock()
	if unchanged {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SaveState: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM positions`); err != nil {
		return fmt.Errorf("storage.SaveState: clear positions: %w", err)
	}

	if len(state.Positions) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO positions
				(market_id, question, token_side, token_id, entry_price, shares,
				 cost_basis, current_price, neg_risk, opened_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("storage.SaveState: prepare: %w", err)
		}
		defer stmt.Close()

		for _, p := range state.Positions {
			if _, err := stmt.ExecContext(ctx,
				p.MarketID, p.Question, string(p.TokenSide), p.TokenID,
				p.EntryPrice, p.Shares, p.CostBasis, p.CurrentPrice,
				boolInt(p.NegRisk), p.OpenedAt.UTC(),
			); err != nil {
				return fmt.Errorf("storage.SaveState: insert %s: %w", p.MarketID, err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_meta
			(id, total_realized_pnl, daily_pnl, last_daily_reset, closed_trades, winning_trades,
			 risk_daily_loss, risk_daily_trades, risk_reset_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			total_realized_pnl = excluded.total_realized_pnl,
			daily_pnl          = excluded.daily_pnl,
			last_daily_reset   = excluded.last_daily_reset,
			closed_trades      = excluded.closed_trades,
			winning_trades     = excluded.winning_trades,
			risk_daily_loss    = excluded.risk_daily_loss,
			risk_daily_trades  = excluded.risk_daily_trades,
			risk_reset_at      = excluded.risk_reset_at`,
		state.TotalRealizedPnL, state.DailyPnL, nullTime(state.LastDailyReset),
		state.ClosedTrades, state.WinningTrades,
		state.Daily.DailyLoss, state.Daily.DailyTrades, nullTime(state.Daily.ResetAt),
	); err != nil {
		return fmt.Errorf("storage.SaveState: upsert meta: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.SaveState: commit: %w", err)
	}

	s.mu.Lock()
	s.lastSaved = encoded
	s.mu.Unlock()
	return nil
}

// RecordClose añade un cierre al histórico.
func (s *SQLiteStore) RecordClose(ctx context.Context, c domain.ClosedPosition) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO closed_positions
			(id, market_id, question, token_side, entry_price, exit_price, shares,
			 realized_pnl, pnl_pct, hold_seconds, reason, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.MarketID, c.Question, string(c.TokenSide), c.EntryPrice, c.ExitPrice, c.Shares,
		c.RealizedPnL, c.PnLPct, int64(c.HoldTime.Seconds()), string(c.Reason), c.ClosedAt.UTC(),
	); err != nil {
		return fmt.Errorf("storage.RecordClose %s: %w", c.MarketID, err)
	}
	return nil
}

// ClosedPositions devuelve los últimos cierres, más recientes primero.
// limit <= 0 devuelve todos.
func (s *SQLiteStore) ClosedPositions(ctx context.Context, limit int) ([]domain.ClosedPosition, error) {
	if limit <= 0 {
		limit = -1 // sin límite en SQLite
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, market_id, question, token_side, entry_price, exit_price, shares,
		       realized_pnl, pnl_pct, hold_seconds, reason, closed_at
		FROM closed_positions
		ORDER BY closed_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.ClosedPositions: query: %w", err)
	}
	defer rows.Close()

	var out []domain.ClosedPosition
	for rows.Next() {
		var c domain.ClosedPosition
		var side, reason string
		var question sql.NullString
		var holdSeconds int64
		if err := rows.Scan(&c.ID, &c.MarketID, &question, &side, &c.EntryPrice, &c.ExitPrice, &c.Shares,
			&c.RealizedPnL, &c.PnLPct, &holdSeconds, &reason, &c.ClosedAt); err != nil {
			return nil, fmt.Errorf("storage.ClosedPositions: scan row: %w", err)
		}
		c.Question = question.String
		c.TokenSide = domain.TokenSide(side)
		c.Reason = domain.ExitReason(reason)
		c.HoldTime = time.Duration(holdSeconds) * time.Second
		out = append(out, c)
	}
	return out, rows.Err()
}

// RecordCycle guarda el resumen de un ciclo.
func (s *SQLiteStore) RecordCycle(ctx context.Context, r domain.CycleReport) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO cycles
			(ran_at, cycle, balance, balance_source, scanned, analyzed, signals,
			 rejected, trades, exits, arbitrage, survival, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.now().UTC(), r.Cycle, r.Balance.Amount, r.Balance.Source, r.Scanned, r.Analyzed, r.Signals,
		r.Rejected, r.Trades, r.Exits, r.Arbitrage, boolInt(r.SurvivalMode), r.Duration.Milliseconds(),
	); err != nil {
		return fmt.Errorf("storage.RecordCycle: %w", err)
	}
	return nil
}

// CycleCount devuelve el número de ciclos registrados.
func (s *SQLiteStore) CycleCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cycles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage.CycleCount: %w", err)
	}
	return n, nil
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- helpers internos ---

func (s *SQLiteStore) remember(state domain.LedgerState) {
	encoded, err := json.Marshal(state)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.lastSaved = encoded
	s.mu.Unlock()
}

// pruneOld elimina ciclos antiguos para mantener la DB ligera.
func (s *SQLiteStore) pruneOld(ctx context.Context) {
	cutoff := s.now().UTC().Add(-retentionCycles)
	s.db.ExecContext(ctx, `DELETE FROM cycles WHERE ran_at < ?`, cutoff)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
