package strategy

import (
	"fmt"

	"github.com/alejandrodnm/coinbot/internal/domain"
)

// minCloses es el mínimo de cierres por timeframe para analizarlo:
// suficiente para EMA50 y la ventana de soportes/resistencias.
const minCloses = 50

// Los timeframes cortos pesan menos en la fusión y descuentan confianza:
// el ruido de 1m no debe decidir por encima de la estructura de 1h.
var (
	fusionTimeframes = []domain.Timeframe{
		domain.TF1m, domain.TF5m, domain.TF15m, domain.TF30m, domain.TF1h,
	}

	timeframeWeights = map[domain.Timeframe]float64{
		domain.TF1m:  0.10,
		domain.TF5m:  0.15,
		domain.TF15m: 0.20,
		domain.TF30m: 0.25,
		domain.TF1h:  0.30,
	}

	confidenceMultipliers = map[domain.Timeframe]float64{
		domain.TF1m:  0.7,
		domain.TF5m:  0.8,
		domain.TF15m: 0.9,
		domain.TF30m: 1.0,
		domain.TF1h:  1.1,
	}
)

// Timeframes lista los timeframes que entran en la fusión. El scheduler
// la usa para saber qué velas traer en su fan-out de fetch.
func Timeframes() []domain.Timeframe {
	out := make([]domain.Timeframe, len(fusionTimeframes))
	copy(out, fusionTimeframes)
	return out
}

// vote es una evidencia individual: dirección con intensidad y confianza.
type vote struct {
	signal     float64
	confidence float64
	reason     string
}

// tfResult es el análisis de un timeframe con el valor continuo de señal
// que entra en la fusión (el Signal discreto es solo presentación).
type tfResult struct {
	analysis domain.TimeframeAnalysis
	value    float64
	votes    []vote
}

// analyzeTimeframe evalúa todas las evidencias de un timeframe y las
// promedia ponderadas por confianza.
func analyzeTimeframe(tf domain.Timeframe, closes []float64, price float64, rsiPeriod int) (tfResult, error) {
	if len(closes) < minCloses {
		return tfResult{}, fmt.Errorf("strategy.analyzeTimeframe %s: %d of %d closes: %w",
			tf, len(closes), minCloses, domain.ErrInsufficientHistory)
	}

	rsi, err := domain.RSI(closes, rsiPeriod)
	if err != nil {
		return tfResult{}, err
	}
	macd, err := domain.MACD(closes, 12, 26)
	if err != nil {
		return tfResult{}, err
	}
	ema20, err := domain.EMA(closes, 20)
	if err != nil {
		return tfResult{}, err
	}
	ema50, err := domain.EMA(closes, 50)
	if err != nil {
		return tfResult{}, err
	}
	support, resistance, err := domain.SupportResistance(closes)
	if err != nil {
		return tfResult{}, err
	}
	trend := domain.TrendOf(price, ema20, ema50)

	var votes []vote

	// RSI: extremos con fuerza, bandas intermedias con medio voto.
	switch {
	case rsi < 30:
		votes = append(votes, vote{1, 0.8, fmt.Sprintf("%s RSI oversold %.1f", tf, rsi)})
	case rsi > 70:
		votes = append(votes, vote{-1, 0.8, fmt.Sprintf("%s RSI overbought %.1f", tf, rsi)})
	case rsi < 40:
		votes = append(votes, vote{0.5, 0.4, fmt.Sprintf("%s RSI leaning low %.1f", tf, rsi)})
	case rsi > 60:
		votes = append(votes, vote{-0.5, 0.4, fmt.Sprintf("%s RSI leaning high %.1f", tf, rsi)})
	}

	if macd > 0 {
		votes = append(votes, vote{0.7, 0.6, fmt.Sprintf("%s MACD positive", tf)})
	} else {
		votes = append(votes, vote{-0.7, 0.6, fmt.Sprintf("%s MACD negative", tf)})
	}

	// Alineación de medias: EMA rápida sobre lenta y precio por encima.
	if ema20 > ema50 && price > ema20 {
		votes = append(votes, vote{1, 0.7, fmt.Sprintf("%s EMAs aligned bullish", tf)})
	} else if ema20 < ema50 && price < ema20 {
		votes = append(votes, vote{-1, 0.7, fmt.Sprintf("%s EMAs aligned bearish", tf)})
	}

	// Proximidad a niveles: a menos del 1% del soporte o la resistencia.
	if support > 0 && price <= support*1.01 {
		votes = append(votes, vote{1, 0.9, fmt.Sprintf("%s near support %.4f", tf, support)})
	}
	if resistance > 0 && price >= resistance*0.99 {
		votes = append(votes, vote{-1, 0.9, fmt.Sprintf("%s near resistance %.4f", tf, resistance)})
	}

	switch trend {
	case domain.Uptrend:
		votes = append(votes, vote{0.5, 0.5, fmt.Sprintf("%s uptrend", tf)})
	case domain.Downtrend:
		votes = append(votes, vote{-0.5, 0.5, fmt.Sprintf("%s downtrend", tf)})
	}

	var sumWeighted, sumConf float64
	for _, v := range votes {
		sumWeighted += v.signal * v.confidence
		sumConf += v.confidence
	}

	var value, conf float64
	if sumConf > 0 {
		value = sumWeighted / sumConf
		conf = sumConf / float64(len(votes))
	}
	conf = min(conf*confidenceMultipliers[tf], 1)

	return tfResult{
		analysis: domain.TimeframeAnalysis{
			Timeframe:  tf,
			Signal:     domain.QuantizeSignal(value),
			Confidence: conf,
			RSI:        rsi,
			MACD:       macd,
			EMA20:      ema20,
			EMA50:      ema50,
			Support:    support,
			Resistance: resistance,
			Trend:      trend,
		},
		value: value,
		votes: votes,
	}, nil
}
