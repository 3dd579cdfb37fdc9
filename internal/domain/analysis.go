package domain

import "time"

// Timeframe identifica la resolución de una serie de velas.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF30m Timeframe = "30m"
	TF1h  Timeframe = "1h"
	TF1d  Timeframe = "1d"
)

// Signal es el nivel discreto de señal de -2 (strong sell) a +2 (strong buy).
type Signal int

const (
	StrongSell Signal = -2
	Sell       Signal = -1
	Neutral    Signal = 0
	Buy        Signal = 1
	StrongBuy  Signal = 2
)

func (s Signal) String() string {
	switch s {
	case StrongSell:
		return "STRONG_SELL"
	case Sell:
		return "SELL"
	case Buy:
		return "BUY"
	case StrongBuy:
		return "STRONG_BUY"
	default:
		return "NEUTRAL"
	}
}

// QuantizeSignal convierte un valor continuo de señal al nivel discreto
// usando los umbrales fijos ±1.5 (strong) y ±0.5 (weak).
func QuantizeSignal(v float64) Signal {
	switch {
	case v >= 1.5:
		return StrongBuy
	case v >= 0.5:
		return Buy
	case v <= -1.5:
		return StrongSell
	case v <= -0.5:
		return Sell
	default:
		return Neutral
	}
}

// Trend clasifica la tendencia de un timeframe según EMA20/EMA50 y precio.
type Trend string

const (
	Uptrend   Trend = "UPTREND"
	Downtrend Trend = "DOWNTREND"
	Sideways  Trend = "SIDEWAYS"
)

// TimeframeAnalysis es el resultado inmutable del análisis de un timeframe.
// Struct fijo en vez de mapa: un campo ausente es visible en compilación.
type TimeframeAnalysis struct {
	Timeframe  Timeframe
	Signal     Signal
	Confidence float64 // [0,1]
	RSI        float64
	MACD       float64
	EMA20      float64
	EMA50      float64
	Support    float64
	Resistance float64
	Trend      Trend
}

// Decision es la decisión compuesta de un ciclo para un instrumento.
// Se produce fresca en cada ciclo y no se persiste más allá de él
// (salvo la fila de auditoría en el storage).
type Decision struct {
	Symbol      string
	Signal      Signal
	Confidence  float64
	Strength    float64 // |valor continuo fusionado|
	EntryPrice  float64
	StopLoss    float64
	TakeProfit  float64
	RiskReward  float64
	Reasons     []string
	ByTimeframe []TimeframeAnalysis
	At          time.Time
}
