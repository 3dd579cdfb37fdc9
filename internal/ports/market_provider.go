package ports

import (
	"context"

	"github.com/alejandrodnm/coinbot/internal/domain"
)

// MarketProvider es el proveedor de datos de mercado. El core depende solo
// de estas formas, no del transporte ni de la autenticación del exchange.
type MarketProvider interface {
	// GetPrice devuelve el último precio del símbolo.
	GetPrice(ctx context.Context, symbol string) (float64, error)

	// Get24hStats devuelve las estadísticas de las últimas 24 horas.
	Get24hStats(ctx context.Context, symbol string) (domain.Stats24h, error)

	// GetCandles devuelve hasta limit velas del timeframe dado,
	// la más reciente al final.
	GetCandles(ctx context.Context, symbol string, tf domain.Timeframe, limit int) ([]domain.Candle, error)

	// GetDailyCandles es el atajo para velas diarias.
	GetDailyCandles(ctx context.Context, symbol string, limit int) ([]domain.Candle, error)

	// GetExchangeSymbols lista los símbolos operables contra la moneda base,
	// con su volumen de 24h para el selector de instrumentos.
	GetExchangeSymbols(ctx context.Context, quoteAsset string) ([]domain.Stats24h, error)
}
