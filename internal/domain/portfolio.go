package domain

import "time"

// EquityPoint es una muestra (instante, valor total) de la curva de equity.
type EquityPoint struct {
	At    time.Time
	Value float64
}

// PortfolioMetrics es la foto agregada que se imprime y se persiste a diario.
type PortfolioMetrics struct {
	TotalValue       float64
	AvailableCash    float64
	PositionsValue   float64
	UnrealizedPnL    float64
	RealizedPnLToday float64
	TotalReturnPct   float64
	MaxDrawdownPct   float64
	SharpeRatio      float64
	SortinoRatio     float64
	WinRate          float64
	ProfitFactor     float64
	AvgWin           float64
	AvgLoss          float64
	ActivePositions  int
	TradesToday      int
	TotalTrades      int
}
