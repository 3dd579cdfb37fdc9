package domain

import "time"

// Side es el lado de una posición. La estrategia actual solo abre LONG,
// pero el modelo soporta ambos.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// ExitReason documenta por qué se cerró una posición.
type ExitReason string

const (
	ExitStopLoss     ExitReason = "Stop Loss"
	ExitTakeProfit   ExitReason = "Take Profit"
	ExitTrailingStop ExitReason = "Trailing Stop"
	ExitSellSignal   ExitReason = "Sell Signal"
	ExitEndOfRun     ExitReason = "End of Run"
)

// Position es la única posición viva de un instrumento (FLAT→OPEN→FLAT,
// sin fills parciales). La crea una admisión de compra aprobada y la
// destruye el cierre.
type Position struct {
	Symbol        string
	Side          Side
	EntryPrice    float64 // ya incluye slippage
	Quantity      float64
	EntryTime     time.Time
	StopLoss      float64
	TakeProfit    float64
	TrailingStop  float64 // 0 mientras el trailing no esté activo
	EntryFee      float64
	UnrealizedPnL float64 // derivado, recalculado en cada tick
}

// Mark recalcula el PnL no realizado con el último precio.
func (p *Position) Mark(price float64) {
	if p.Side == Long {
		p.UnrealizedPnL = (price - p.EntryPrice) * p.Quantity
	} else {
		p.UnrealizedPnL = (p.EntryPrice - price) * p.Quantity
	}
}

// Value es el valor corriente de la posición (coste de entrada + no realizado).
func (p Position) Value() float64 {
	return p.EntryPrice*p.Quantity + p.UnrealizedPnL
}

// EffectiveStop devuelve el stop vigente: el trailing si ya ratcheteó por
// encima del stop fijo, el fijo en caso contrario.
func (p Position) EffectiveStop() float64 {
	if p.Side == Long && p.TrailingStop > p.StopLoss {
		return p.TrailingStop
	}
	if p.Side == Short && p.TrailingStop != 0 && p.TrailingStop < p.StopLoss {
		return p.TrailingStop
	}
	return p.StopLoss
}

// TradeRecord es la entrada inmutable y append-only que se escribe al
// cerrar una posición. De aquí salen win rate, profit factor, Sharpe,
// Sortino y max drawdown.
type TradeRecord struct {
	ID         string
	Symbol     string
	Side       Side
	EntryPrice float64
	ExitPrice  float64
	Quantity   float64
	EntryTime  time.Time
	ExitTime   time.Time
	PnL        float64 // neto de fees y slippage
	PnLPct     float64
	Fees       float64
	Slippage   float64
	Reason     ExitReason
	Simulated  bool
}

// Return es el retorno fraccional del trade sobre el coste de entrada.
func (t TradeRecord) Return() float64 {
	cost := t.EntryPrice * t.Quantity
	if cost <= 0 {
		return 0
	}
	return t.PnL / cost
}
