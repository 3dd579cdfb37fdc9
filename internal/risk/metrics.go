package risk

import (
	"math"

	"github.com/alejandrodnm/coinbot/internal/domain"
)

const tradingDaysPerYear = 252

// SharpeRatio calcula el ratio de Sharpe de una serie de retornos por
// periodo, con la tasa libre de riesgo anual prorrateada a diario.
// Devuelve 0 con menos de dos retornos o volatilidad nula.
func SharpeRatio(returns []float64, riskFreeRate float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	rfDaily := riskFreeRate / tradingDaysPerYear

	excess := make([]float64, len(returns))
	var sum float64
	for i, r := range returns {
		excess[i] = r - rfDaily
		sum += excess[i]
	}
	mean := sum / float64(len(excess))

	var variance float64
	for _, e := range excess {
		variance += (e - mean) * (e - mean)
	}
	variance /= float64(len(excess) - 1)
	if variance == 0 {
		return 0
	}
	return mean / math.Sqrt(variance)
}

// SortinoRatio es como Sharpe pero penaliza solo la volatilidad a la
// baja. Con menos de dos retornos negativos y media positiva devuelve
// +Inf: no hubo downside que medir.
func SortinoRatio(returns []float64, riskFreeRate float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	rfDaily := riskFreeRate / tradingDaysPerYear

	var sum float64
	var downside []float64
	for _, r := range returns {
		e := r - rfDaily
		sum += e
		if e < 0 {
			downside = append(downside, e)
		}
	}
	mean := sum / float64(len(returns))

	if len(downside) < 2 {
		if mean > 0 {
			return math.Inf(1)
		}
		return 0
	}

	var variance float64
	for _, d := range downside {
		variance += d * d
	}
	variance /= float64(len(downside))
	if variance == 0 {
		return 0
	}
	return mean / math.Sqrt(variance)
}

// MaxDrawdown devuelve la máxima caída pico-a-valle de la curva de
// equity como fracción del pico.
func MaxDrawdown(equity []float64) float64 {
	if len(equity) == 0 {
		return 0
	}
	peak := equity[0]
	var maxDD float64
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// TradeStats resume el historial de trades cerrados.
type TradeStats struct {
	Total        int
	Wins         int
	Losses       int
	WinRate      float64
	AvgWin       float64 // valor absoluto medio de los trades ganadores
	AvgLoss      float64 // valor absoluto medio de los perdedores
	ProfitFactor float64
	NetPnL       float64
}

// ComputeTradeStats agrega las métricas de una lista de trades cerrados.
func ComputeTradeStats(trades []domain.TradeRecord) TradeStats {
	var s TradeStats
	var grossWin, grossLoss float64
	for _, t := range trades {
		s.Total++
		s.NetPnL += t.PnL
		if t.PnL > 0 {
			s.Wins++
			grossWin += t.PnL
		} else {
			s.Losses++
			grossLoss -= t.PnL
		}
	}
	if s.Total > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Total)
	}
	if s.Wins > 0 {
		s.AvgWin = grossWin / float64(s.Wins)
	}
	if s.Losses > 0 {
		s.AvgLoss = grossLoss / float64(s.Losses)
	}
	if grossLoss > 0 {
		s.ProfitFactor = grossWin / grossLoss
	} else if grossWin > 0 {
		s.ProfitFactor = math.Inf(1)
	}
	return s
}

// Returns convierte una curva de equity en retornos por periodo.
func Returns(equity []float64) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (equity[i]-equity[i-1])/equity[i-1])
	}
	return out
}
