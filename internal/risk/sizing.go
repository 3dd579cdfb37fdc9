// Package risk implementa el sizing de posiciones, los trailing stops y
// las métricas de rendimiento del portfolio.
package risk

import (
	"github.com/alejandrodnm/coinbot/config"
)

// Sizer calcula tamaños de posición según los parámetros de riesgo.
type Sizer struct {
	cfg config.RiskConfig
}

// NewSizer crea un Sizer con los parámetros dados.
func NewSizer(cfg config.RiskConfig) *Sizer {
	return &Sizer{cfg: cfg}
}

// SizeKelly devuelve el importe a arriesgar según el criterio de Kelly
// fraccional: b = ganancia media / pérdida media, kelly = (b·p − q) / b,
// acotado a [0, cap] y escalado por la fracción configurada. Con
// estadísticas degeneradas (win rate fuera de (0,1) o pérdida media nula)
// cae a un 2% fijo del capital.
func (s *Sizer) SizeKelly(capital, winRate, avgWin, avgLoss float64) float64 {
	if capital <= 0 {
		return 0
	}
	if winRate <= 0 || winRate >= 1 || avgLoss <= 0 {
		return capital * 0.02
	}

	b := avgWin / avgLoss
	kelly := (b*winRate - (1 - winRate)) / b
	if kelly < 0 {
		kelly = 0
	}
	if kelly > s.cfg.KellyCap {
		kelly = s.cfg.KellyCap
	}

	size := kelly * s.cfg.KellyFraction * capital
	return min(size, capital*s.cfg.MaxPositionFraction)
}

// SizeFixedRisk devuelve la cantidad (en unidades del activo) que expone
// exactamente capital × riskPerTrade si el precio cae de entry a stop.
// Devuelve 0 si el stop no está por debajo de la entrada.
func (s *Sizer) SizeFixedRisk(capital, entry, stop float64) float64 {
	if capital <= 0 || entry <= stop {
		return 0
	}
	riskAmount := capital * s.cfg.RiskPerTrade
	qty := riskAmount / (entry - stop)

	maxQty := capital * s.cfg.MaxPositionFraction / entry
	return min(qty, maxQty)
}
