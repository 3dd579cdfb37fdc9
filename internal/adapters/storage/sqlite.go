// Package storage persiste el estado del bot en SQLite: configuración
// mutable clave-valor, trades cerrados, señales y curva de equity.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/coinbot/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS bot_config (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
	id          TEXT PRIMARY KEY,
	symbol      TEXT NOT NULL,
	side        TEXT NOT NULL,
	entry_price REAL NOT NULL,
	exit_price  REAL NOT NULL,
	quantity    REAL NOT NULL,
	entry_time  TIMESTAMP NOT NULL,
	exit_time   TIMESTAMP NOT NULL,
	pnl         REAL NOT NULL,
	pnl_pct     REAL NOT NULL,
	fees        REAL NOT NULL,
	slippage    REAL NOT NULL,
	reason      TEXT NOT NULL,
	simulated   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_exit_time ON trades(exit_time);

CREATE TABLE IF NOT EXISTS signals (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol      TEXT NOT NULL,
	signal      TEXT NOT NULL,
	confidence  REAL NOT NULL,
	strength    REAL NOT NULL,
	entry_price REAL NOT NULL,
	stop_loss   REAL NOT NULL,
	take_profit REAL NOT NULL,
	reasons     TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signals_created_at ON signals(created_at);

CREATE TABLE IF NOT EXISTS equity (
	at    TIMESTAMP PRIMARY KEY,
	value REAL NOT NULL
);
`

// retención de filas de auditoría
const pruneAfter = 90 * 24 * time.Hour

// SQLite implementa ports.Storage sobre un archivo SQLite (o ":memory:").
type SQLite struct {
	db  *sql.DB
	log *slog.Logger
}

// Open abre (o crea) la base de datos, aplica el esquema y poda las
// filas de auditoría más viejas que la retención.
func Open(dsn string, log *slog.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage.Open %q: %w", dsn, err)
	}
	// El driver no soporta escrituras concurrentes sobre una conexión.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.Open: apply schema: %w", err)
	}

	s := &SQLite{db: db, log: log}
	s.prune()
	return s, nil
}

func (s *SQLite) prune() {
	cutoff := time.Now().Add(-pruneAfter)
	for _, q := range []string{
		"DELETE FROM signals WHERE created_at < ?",
		"DELETE FROM equity WHERE at < ?",
	} {
		if _, err := s.db.Exec(q, cutoff); err != nil {
			s.log.Warn("prune failed", "query", q, "err", err)
		}
	}
}

// GetConfig deserializa el valor JSON de key en out. Devuelve false sin
// tocar out si la clave no existe.
func (s *SQLite) GetConfig(ctx context.Context, key string, out any) (bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM bot_config WHERE key = ?", key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage.GetConfig %q: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("storage.GetConfig %q: decode: %w", key, err)
	}
	return true, nil
}

// SetConfig serializa value como JSON bajo key (upsert).
func (s *SQLite) SetConfig(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("storage.SetConfig %q: encode: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bot_config (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(raw), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("storage.SetConfig %q: %w", key, err)
	}
	return nil
}

// SaveTrade añade un trade cerrado al registro.
func (s *SQLite) SaveTrade(ctx context.Context, t domain.TradeRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (id, symbol, side, entry_price, exit_price, quantity,
			entry_time, exit_time, pnl, pnl_pct, fees, slippage, reason, simulated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Symbol, string(t.Side), t.EntryPrice, t.ExitPrice, t.Quantity,
		t.EntryTime.UTC(), t.ExitTime.UTC(), t.PnL, t.PnLPct, t.Fees, t.Slippage,
		string(t.Reason), t.Simulated)
	if err != nil {
		return fmt.Errorf("storage.SaveTrade %s: %w", t.ID, err)
	}
	return nil
}

// Trades devuelve los trades cerrados desde from, en orden de cierre.
func (s *SQLite) Trades(ctx context.Context, from time.Time) ([]domain.TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, side, entry_price, exit_price, quantity,
			entry_time, exit_time, pnl, pnl_pct, fees, slippage, reason, simulated
		FROM trades WHERE exit_time >= ? ORDER BY exit_time`, from.UTC())
	if err != nil {
		return nil, fmt.Errorf("storage.Trades: %w", err)
	}
	defer rows.Close()

	var trades []domain.TradeRecord
	for rows.Next() {
		var t domain.TradeRecord
		var side, reason string
		if err := rows.Scan(&t.ID, &t.Symbol, &side, &t.EntryPrice, &t.ExitPrice,
			&t.Quantity, &t.EntryTime, &t.ExitTime, &t.PnL, &t.PnLPct,
			&t.Fees, &t.Slippage, &reason, &t.Simulated); err != nil {
			return nil, fmt.Errorf("storage.Trades: scan: %w", err)
		}
		t.Side = domain.Side(side)
		t.Reason = domain.ExitReason(reason)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// SaveSignal registra la decisión de un ciclo para auditoría posterior.
func (s *SQLite) SaveSignal(ctx context.Context, d domain.Decision) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signals (symbol, signal, confidence, strength, entry_price,
			stop_loss, take_profit, reasons, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Symbol, d.Signal.String(), d.Confidence, d.Strength, d.EntryPrice,
		d.StopLoss, d.TakeProfit, strings.Join(d.Reasons, "; "), d.At.UTC())
	if err != nil {
		return fmt.Errorf("storage.SaveSignal %s: %w", d.Symbol, err)
	}
	return nil
}

// SaveEquity añade una muestra a la curva de equity.
func (s *SQLite) SaveEquity(ctx context.Context, p domain.EquityPoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO equity (at, value) VALUES (?, ?)
		ON CONFLICT(at) DO UPDATE SET value = excluded.value`,
		p.At.UTC(), p.Value)
	if err != nil {
		return fmt.Errorf("storage.SaveEquity: %w", err)
	}
	return nil
}

// Equity devuelve la curva de equity desde from, en orden temporal.
func (s *SQLite) Equity(ctx context.Context, from time.Time) ([]domain.EquityPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT at, value FROM equity WHERE at >= ? ORDER BY at", from.UTC())
	if err != nil {
		return nil, fmt.Errorf("storage.Equity: %w", err)
	}
	defer rows.Close()

	var points []domain.EquityPoint
	for rows.Next() {
		var p domain.EquityPoint
		if err := rows.Scan(&p.At, &p.Value); err != nil {
			return nil, fmt.Errorf("storage.Equity: scan: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// Close cierra la conexión.
func (s *SQLite) Close() error {
	return s.db.Close()
}
