package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/alejandrodnm/coinbot/config"
	"github.com/alejandrodnm/coinbot/internal/domain"
	"github.com/alejandrodnm/coinbot/internal/ports"
)

// selector rota el universo de instrumentos hacia los pares con más
// volumen y rango diario. Un símbolo con posición abierta nunca se
// descarta: hay que seguir gestionando su salida.
type selector struct {
	cfg      config.SelectionConfig
	quote    string
	provider ports.MarketProvider
	log      *slog.Logger
}

// Select devuelve el nuevo universo de instrumentos. held son los
// símbolos con posición abierta, que entran siempre.
func (s *selector) Select(ctx context.Context, held []string) ([]string, error) {
	stats, err := s.provider.GetExchangeSymbols(ctx, s.quote)
	if err != nil {
		return nil, fmt.Errorf("engine.Select: %w", err)
	}

	selected := slices.Clone(held)
	for _, st := range stats {
		if len(selected) >= s.cfg.MaxInstruments {
			break
		}
		if slices.Contains(selected, st.Symbol) {
			continue
		}
		if slices.Contains(s.cfg.Blacklist, st.Symbol) {
			continue
		}
		if st.QuoteVolume < s.cfg.MinQuoteVolume {
			continue
		}
		if dailyRangePct(st) < s.cfg.MinVolatilityPct {
			continue
		}
		selected = append(selected, st.Symbol)
	}

	if len(selected) == 0 {
		return nil, fmt.Errorf("engine.Select: no symbol passes the filters")
	}
	s.log.Info("instruments selected", "count", len(selected), "symbols", selected)
	return selected, nil
}

// dailyRangePct es el rango de 24h como porcentaje del mínimo: proxy
// barato de volatilidad intradía.
func dailyRangePct(st domain.Stats24h) float64 {
	if st.Low <= 0 {
		return 0
	}
	return (st.High - st.Low) / st.Low * 100
}
