package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/coinbot/internal/domain"
)

// Storage persiste el estado del bot entre procesos: clave-valor de
// configuración mutable, trades append-only y filas de auditoría.
type Storage interface {
	// GetConfig deserializa el valor JSON de key en out. Devuelve false
	// sin tocar out si la clave no existe (el caller conserva su default).
	GetConfig(ctx context.Context, key string, out any) (bool, error)

	// SetConfig serializa value como JSON bajo key (upsert).
	SetConfig(ctx context.Context, key string, value any) error

	// SaveTrade añade un trade cerrado al registro de auditoría.
	SaveTrade(ctx context.Context, trade domain.TradeRecord) error

	// Trades devuelve los trades cerrados desde from, en orden de cierre.
	Trades(ctx context.Context, from time.Time) ([]domain.TradeRecord, error)

	// SaveSignal registra la decisión compuesta de un ciclo para auditoría.
	SaveSignal(ctx context.Context, decision domain.Decision) error

	// SaveEquity añade una muestra a la curva de equity.
	SaveEquity(ctx context.Context, point domain.EquityPoint) error

	// Equity devuelve la curva de equity desde from, en orden temporal.
	Equity(ctx context.Context, from time.Time) ([]domain.EquityPoint, error)

	// Close cierra la conexión limpiamente.
	Close() error
}
