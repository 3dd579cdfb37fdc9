package risk

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/coinbot/config"
	"github.com/alejandrodnm/coinbot/internal/domain"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		RiskPerTrade:        0.02,
		MaxPositionFraction: 0.15,
		KellyCap:            0.25,
		KellyFraction:       0.5,
	}
}

func TestSizeKellyFavorableEdge(t *testing.T) {
	s := NewSizer(testRiskConfig())

	// b = 2, p = 0.6 → kelly = (2·0.6 − 0.4)/2 = 0.4, acotado a 0.25,
	// half-Kelly 0.125 sobre 1000 = 125, por debajo del techo del 15%.
	size := s.SizeKelly(1000, 0.6, 100, 50)
	assert.InDelta(t, 125.0, size, 1e-9)
}

func TestSizeKellyNegativeEdgeIsZero(t *testing.T) {
	s := NewSizer(testRiskConfig())

	// b = 0.5, p = 0.3 → kelly negativo → 0.
	size := s.SizeKelly(1000, 0.3, 50, 100)
	assert.Equal(t, 0.0, size)
}

func TestSizeKellyCappedByPositionFraction(t *testing.T) {
	cfg := testRiskConfig()
	cfg.KellyFraction = 1.0
	s := NewSizer(cfg)

	// Kelly pleno 0.25 sobre 1000 = 250 > techo 150.
	size := s.SizeKelly(1000, 0.9, 300, 50)
	assert.InDelta(t, 150.0, size, 1e-9)
}

func TestSizeKellyDegenerateStatsFallBack(t *testing.T) {
	s := NewSizer(testRiskConfig())

	for _, tc := range []struct {
		name             string
		winRate, avgLoss float64
	}{
		{"no history", 0, 50},
		{"perfect record", 1, 50},
		{"zero avg loss", 0.6, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			size := s.SizeKelly(1000, tc.winRate, 100, tc.avgLoss)
			assert.InDelta(t, 20.0, size, 1e-9, "falls back to 2%% of capital")
		})
	}
}

func TestSizeFixedRisk(t *testing.T) {
	s := NewSizer(testRiskConfig())

	// Riesgo 2% de 1000 = 20, distancia al stop 2 → 10 unidades, que a
	// 100 valen 1000 > techo 150 → 1.5 unidades.
	qty := s.SizeFixedRisk(1000, 100, 98)
	assert.InDelta(t, 1.5, qty, 1e-9)

	// Stop holgado: 20 / 20 = 1 unidad, dentro del techo.
	qty = s.SizeFixedRisk(1000, 100, 80)
	assert.InDelta(t, 1.0, qty, 1e-9)
}

func TestSizeFixedRiskInvalidStop(t *testing.T) {
	s := NewSizer(testRiskConfig())
	assert.Equal(t, 0.0, s.SizeFixedRisk(1000, 100, 100))
	assert.Equal(t, 0.0, s.SizeFixedRisk(1000, 100, 105))
	assert.Equal(t, 0.0, s.SizeFixedRisk(0, 100, 98))
}

func TestTrailerActivatesAtThreshold(t *testing.T) {
	tr := NewTrailer(0.02, 0.01)
	pos := domain.Position{Symbol: "BTCUSDT", Side: domain.Long, EntryPrice: 100}

	// +1%: aún sin activar.
	assert.Equal(t, 0.0, tr.Update(pos, 101))
	assert.False(t, tr.Triggered(pos, 101))

	// +2%: se arma al 1% bajo el máximo.
	stop := tr.Update(pos, 102)
	assert.InDelta(t, 102*0.99, stop, 1e-9)
}

func TestTrailerRatchetsUpOnly(t *testing.T) {
	tr := NewTrailer(0.02, 0.01)
	pos := domain.Position{Symbol: "BTCUSDT", Side: domain.Long, EntryPrice: 100}

	tr.Update(pos, 105)
	stop := tr.Update(pos, 110)
	assert.InDelta(t, 110*0.99, stop, 1e-9)

	// Corrección: el stop no baja.
	after := tr.Update(pos, 106)
	assert.Equal(t, stop, after)
	assert.True(t, tr.Triggered(pos, 107.0))
	assert.False(t, tr.Triggered(pos, 111.0))
}

func TestTrailerShortSide(t *testing.T) {
	tr := NewTrailer(0.02, 0.01)
	pos := domain.Position{Symbol: "ETHUSDT", Side: domain.Short, EntryPrice: 100}

	// En corto la ganancia es la caída: −3% arma el stop al 1% sobre el mínimo.
	stop := tr.Update(pos, 97)
	assert.InDelta(t, 97*1.01, stop, 1e-9)

	// Nuevo mínimo: el stop baja; un rebote no lo sube.
	stop = tr.Update(pos, 95)
	assert.InDelta(t, 95*1.01, stop, 1e-9)
	assert.Equal(t, stop, tr.Update(pos, 96))
	assert.True(t, tr.Triggered(pos, 96.5))
}

func TestTrailerReset(t *testing.T) {
	tr := NewTrailer(0.02, 0.01)
	pos := domain.Position{Symbol: "BTCUSDT", Side: domain.Long, EntryPrice: 100}

	tr.Update(pos, 110)
	tr.Reset("BTCUSDT")

	assert.False(t, tr.Triggered(pos, 90))
	assert.Equal(t, 0.0, tr.Update(pos, 101))
}

func TestTrailerSeedRestoresActivatedStop(t *testing.T) {
	tr := NewTrailer(0.02, 0.01)
	pos := domain.Position{Symbol: "BTCUSDT", Side: domain.Long, EntryPrice: 100, TrailingStop: 102}

	// Estado repuesto desde una posición persistida: el stop sigue armado.
	tr.Seed(pos)
	assert.True(t, tr.Triggered(pos, 101))
	assert.False(t, tr.Triggered(pos, 102.5))

	// Un precio por debajo del máximo reconstruido no afloja el stop.
	assert.InDelta(t, 102.0, tr.Update(pos, 103), 1e-9)

	// Un máximo nuevo sí lo sube.
	assert.InDelta(t, 105*0.99, tr.Update(pos, 105), 1e-9)

	// Posición sin trailing persistido: no hay nada que reponer.
	flat := domain.Position{Symbol: "ETHUSDT", Side: domain.Long, EntryPrice: 100}
	tr.Seed(flat)
	assert.False(t, tr.Triggered(flat, 50))
}

func TestMaxDrawdown(t *testing.T) {
	// Pico 120, valle 80 → 33.3%.
	dd := MaxDrawdown([]float64{100, 110, 90, 95, 120, 80})
	assert.InDelta(t, 1.0/3.0, dd, 1e-9)

	assert.Equal(t, 0.0, MaxDrawdown([]float64{100, 110, 120}))
	assert.Equal(t, 0.0, MaxDrawdown(nil))
}

func TestSharpeRatio(t *testing.T) {
	assert.Equal(t, 0.0, SharpeRatio([]float64{0.01}, 0.02))
	assert.Equal(t, 0.0, SharpeRatio([]float64{0.01, 0.01, 0.01}, 0), "zero volatility")

	up := SharpeRatio([]float64{0.02, 0.01, 0.03, -0.01, 0.02}, 0.02)
	down := SharpeRatio([]float64{-0.02, -0.01, -0.03, 0.01, -0.02}, 0.02)
	assert.Greater(t, up, 0.0)
	assert.Less(t, down, 0.0)
}

func TestSortinoRatio(t *testing.T) {
	// Sin apenas retornos negativos y media positiva: +Inf.
	assert.True(t, math.IsInf(SortinoRatio([]float64{0.02, 0.01, 0.03}, 0), 1))

	mixed := SortinoRatio([]float64{0.02, -0.01, 0.03, -0.02, 0.01}, 0.02)
	assert.False(t, math.IsInf(mixed, 0))
	assert.Greater(t, mixed, 0.0)
}

func TestComputeTradeStats(t *testing.T) {
	trades := []domain.TradeRecord{
		{PnL: 10}, {PnL: 20}, {PnL: -5}, {PnL: -10}, {PnL: 30},
	}
	s := ComputeTradeStats(trades)

	assert.Equal(t, 5, s.Total)
	assert.Equal(t, 3, s.Wins)
	assert.Equal(t, 2, s.Losses)
	assert.InDelta(t, 0.6, s.WinRate, 1e-9)
	assert.InDelta(t, 20.0, s.AvgWin, 1e-9)
	assert.InDelta(t, 7.5, s.AvgLoss, 1e-9)
	assert.InDelta(t, 4.0, s.ProfitFactor, 1e-9)
	assert.InDelta(t, 45.0, s.NetPnL, 1e-9)
}

func TestComputeTradeStatsNoLosses(t *testing.T) {
	s := ComputeTradeStats([]domain.TradeRecord{{PnL: 10}, {PnL: 5}})
	assert.True(t, math.IsInf(s.ProfitFactor, 1))
	assert.Equal(t, 1.0, s.WinRate)
}

func TestReturns(t *testing.T) {
	r := Returns([]float64{100, 110, 99})
	require.Len(t, r, 2)
	assert.InDelta(t, 0.10, r[0], 1e-9)
	assert.InDelta(t, -0.10, r[1], 1e-9)
	assert.Nil(t, Returns([]float64{100}))
}