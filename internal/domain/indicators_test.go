package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRSI_AllDeclining_IsOversold(t *testing.T) {
	// 15 muestras siempre a la baja → sin ganancias → RSI 0
	closes := []float64{100, 98, 96, 94, 93, 91, 90, 88, 87, 85, 84, 82, 81, 79, 78}
	rsi, err := RSI(closes, 14)
	require.NoError(t, err)
	assert.Less(t, rsi, 30.0)
}

func TestRSI_AllRising_Is100(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	rsi, err := RSI(closes, 14)
	require.NoError(t, err)
	assert.Equal(t, 100.0, rsi)
}

func TestRSI_InsufficientHistory(t *testing.T) {
	_, err := RSI([]float64{1, 2, 3}, 14)
	assert.ErrorIs(t, err, ErrInsufficientHistory)
}

func TestEMA_ConstantSeries(t *testing.T) {
	closes := []float64{50, 50, 50, 50, 50, 50, 50, 50, 50, 50}
	ema, err := EMA(closes, 5)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, ema, 1e-9)
}

func TestMACD_UptrendIsPositive(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + float64(i)*0.5
	}
	macd, err := MACD(closes, 12, 26)
	require.NoError(t, err)
	assert.Greater(t, macd, 0.0)
}

func TestSupportResistance_UsesLast50(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100
	}
	closes[2] = 1    // fuera de la ventana de 50
	closes[55] = 90  // mínimo dentro de la ventana
	closes[58] = 120 // máximo dentro de la ventana

	support, resistance, err := SupportResistance(closes)
	require.NoError(t, err)
	assert.Equal(t, 90.0, support)
	assert.Equal(t, 120.0, resistance)
}

func TestTrendOf(t *testing.T) {
	assert.Equal(t, Uptrend, TrendOf(110, 105, 100))
	assert.Equal(t, Downtrend, TrendOf(90, 95, 100))
	assert.Equal(t, Sideways, TrendOf(100, 105, 100))
}

func TestQuantizeSignal_Thresholds(t *testing.T) {
	assert.Equal(t, StrongBuy, QuantizeSignal(1.5))
	assert.Equal(t, Buy, QuantizeSignal(0.6))
	assert.Equal(t, Neutral, QuantizeSignal(0.49))
	assert.Equal(t, Neutral, QuantizeSignal(-0.49))
	assert.Equal(t, Sell, QuantizeSignal(-0.5))
	assert.Equal(t, StrongSell, QuantizeSignal(-1.7))
}

func TestPosition_MarkAndEffectiveStop(t *testing.T) {
	p := Position{Symbol: "BTCUSDT", Side: Long, EntryPrice: 100, Quantity: 2, StopLoss: 97}
	p.Mark(105)
	assert.Equal(t, 10.0, p.UnrealizedPnL)
	assert.Equal(t, 210.0, p.Value())

	assert.Equal(t, 97.0, p.EffectiveStop())
	p.TrailingStop = 103
	assert.Equal(t, 103.0, p.EffectiveStop())
}
