package engine

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/coinbot/config"
	"github.com/alejandrodnm/coinbot/internal/adapters/binance"
	"github.com/alejandrodnm/coinbot/internal/adapters/storage"
	"github.com/alejandrodnm/coinbot/internal/domain"
	"github.com/alejandrodnm/coinbot/internal/strategy"
)

// fakeProvider sirve un precio mutable y una serie fija de velas.
type fakeProvider struct {
	mu        sync.Mutex
	price     float64
	closes    []float64
	err       error // si no es nil, todos los fetches fallan con este error
	candleErr error // si no es nil, solo los fetches de velas fallan
}

func (f *fakeProvider) setPrice(p float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = p
}

func (f *fakeProvider) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeProvider) setCandleErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candleErr = err
}

func (f *fakeProvider) GetPrice(context.Context, string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	return f.price, nil
}

func (f *fakeProvider) Get24hStats(_ context.Context, symbol string) (domain.Stats24h, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.Stats24h{}, f.err
	}
	return domain.Stats24h{Symbol: symbol, Last: f.price, Volume: 1000,
		QuoteVolume: 5_000_000, High: f.price * 1.05, Low: f.price * 0.95}, nil
}

func (f *fakeProvider) GetCandles(context.Context, string, domain.Timeframe, int) ([]domain.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.candleErr != nil {
		return nil, f.candleErr
	}
	candles := make([]domain.Candle, len(f.closes))
	for i, c := range f.closes {
		candles[i] = domain.Candle{Close: c, Volume: 100}
	}
	return candles, nil
}

func (f *fakeProvider) GetDailyCandles(ctx context.Context, symbol string, limit int) ([]domain.Candle, error) {
	return f.GetCandles(ctx, symbol, domain.TF1d, limit)
}

func (f *fakeProvider) GetExchangeSymbols(context.Context, string) ([]domain.Stats24h, error) {
	return nil, nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	cycles  int
	reports int
}

func (n *fakeNotifier) CycleStatus(domain.PortfolioMetrics, []domain.Position, []domain.Decision) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cycles++
}

func (n *fakeNotifier) Report(domain.PortfolioMetrics, []domain.TradeRecord) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reports++
}

// buySeries es una subida larga con un retroceso corto al final: RSI
// hundido con las medias y el MACD aún alcistas, el perfil que la fusión
// lee como entrada.
func buySeries() []float64 {
	closes := make([]float64, 100)
	for i := range closes {
		if i < 86 {
			closes[i] = 100 + float64(i)*1.2
		} else {
			closes[i] = 202 - float64(i-85)*0.3
		}
	}
	return closes
}

func testConfig() *config.Config {
	return &config.Config{
		Bot: config.BotConfig{
			IntervalSeconds: 60, Instruments: []string{"BTCUSDT"}, QuoteAsset: "USDT",
			Simulation: true, InitialCapital: 1000, FeeRate: 0.002, Slippage: 0.0005,
			MaxTradesPerDay: 3, DailyProfitTarget: 0.10, DailyLossLimit: 0.05,
			MinCapital: 5, BuyConfidence: 0.5, SellConfidence: 0.5, CooldownCycles: 3,
		},
		Risk: config.RiskConfig{
			RiskPerTrade: 0.02, MaxPositionFraction: 0.15, MaxPortfolioRisk: 0.10,
			MaxPositions: 5, KellyCap: 0.25, KellyFraction: 0.5, MinTradesForKelly: 10,
			TrailingActivation: 0.02, TrailingDistance: 0.01, RiskFreeRate: 0.02,
			DefaultWeight: 0.20, DefaultCorrelation: 0.3,
		},
		Strategy: config.StrategyConfig{
			HistorySize: 500, CandleLimit: 100, CacheTTLSeconds: 60, RSIPeriod: 14,
		},
	}
}

func newTestEngine(t *testing.T, provider *fakeProvider) (*Engine, *strategy.Engine, *fakeNotifier) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testConfig()

	store, err := storage.Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	strat := strategy.NewEngine(nil, cfg.Strategy, cfg.ML, log)
	notifier := &fakeNotifier{}
	return New(cfg, provider, store, notifier, nil, strat, log), strat, notifier
}

func TestRunOnceOpensOnBuySignal(t *testing.T) {
	provider := &fakeProvider{price: 197.9, closes: buySeries()}
	e, _, notifier := newTestEngine(t, provider)

	res, err := e.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Fetched)
	require.Len(t, res.Decisions, 1)
	assert.GreaterOrEqual(t, res.Decisions[0].Signal, domain.Buy)

	require.Len(t, res.Opened, 1)
	pos := res.Opened[0]
	assert.Equal(t, "BTCUSDT", pos.Symbol)
	assert.Equal(t, domain.Long, pos.Side)
	assert.Greater(t, pos.Quantity, 0.0)
	assert.Less(t, pos.StopLoss, 197.9)
	assert.Greater(t, pos.TakeProfit, 197.9)

	// El notional no supera el techo por posición.
	assert.LessOrEqual(t, pos.EntryPrice*pos.Quantity, 1000*0.15*1.01)
	assert.Equal(t, 1, notifier.cycles)
}

func TestRunOnceStopLossClosesPosition(t *testing.T) {
	provider := &fakeProvider{price: 197.9, closes: buySeries()}
	e, strat, _ := newTestEngine(t, provider)
	ctx := context.Background()

	res, err := e.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, res.Opened, 1)
	stop := res.Opened[0].StopLoss

	// El precio cae por debajo del stop: el siguiente ciclo cierra.
	provider.setPrice(stop - 1)
	res, err = e.RunOnce(ctx)
	require.NoError(t, err)

	require.Len(t, res.Closed, 1)
	trade := res.Closed[0]
	assert.Equal(t, domain.ExitStopLoss, trade.Reason)
	assert.Negative(t, trade.PnL)
	assert.Empty(t, e.Portfolio().Positions())

	// El ajuste adaptativo del RSI es diario: una pérdida no lo mueve
	// dentro del mismo día.
	assert.Equal(t, 14, strat.RSIPeriod())

	// El trade quedó persistido.
	trades, err := e.store.Trades(ctx, trade.EntryTime.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, trade.ID, trades[0].ID)
}

func TestRunOnceTakeProfitClosesPosition(t *testing.T) {
	provider := &fakeProvider{price: 197.9, closes: buySeries()}
	e, _, _ := newTestEngine(t, provider)
	ctx := context.Background()

	res, err := e.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, res.Opened, 1)
	take := res.Opened[0].TakeProfit

	provider.setPrice(take + 1)
	res, err = e.RunOnce(ctx)
	require.NoError(t, err)

	require.Len(t, res.Closed, 1)
	assert.Equal(t, domain.ExitTakeProfit, res.Closed[0].Reason)
	assert.Positive(t, res.Closed[0].PnL)
}

func TestRunOnceDegradedOnTransientErrors(t *testing.T) {
	provider := &fakeProvider{price: 100, closes: buySeries()}
	provider.setErr(&binance.FetchError{Kind: binance.Transient, Op: "GetPrice BTCUSDT"})
	e, _, _ := newTestEngine(t, provider)

	res, err := e.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, 1, e.Degraded())
	assert.Contains(t, e.Instruments(), "BTCUSDT", "transient errors keep the instrument")

	// La recuperación resetea el contador.
	provider.setErr(nil)
	res, err = e.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	assert.Equal(t, 0, e.Degraded())
}

func TestRunOnceCandleFailureSkipsBeforeDecision(t *testing.T) {
	provider := &fakeProvider{price: 197.9, closes: buySeries()}
	provider.setCandleErr(&binance.FetchError{Kind: binance.Transient, Op: "GetCandles BTCUSDT 1h"})
	e, _, _ := newTestEngine(t, provider)

	// Las velas forman parte del fan-out de fetch: si fallan, el
	// instrumento se salta el ciclo entero y no llega a la fase de
	// decisión.
	res, err := e.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Fetched)
	assert.Equal(t, 1, res.Skipped)
	assert.True(t, res.Degraded)
	assert.Empty(t, res.Decisions)
	assert.Empty(t, res.Opened)
	assert.Contains(t, e.Instruments(), "BTCUSDT")

	provider.setCandleErr(nil)
	res, err = e.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Fetched)
	require.Len(t, res.Decisions, 1)
}

func TestRunOncePermanentErrorDropsInstrument(t *testing.T) {
	provider := &fakeProvider{price: 100, closes: buySeries()}
	provider.setErr(&binance.FetchError{
		Kind: binance.Permanent, Status: http.StatusUnavailableForLegalReasons, Op: "GetPrice BTCUSDT",
	})
	e, _, _ := newTestEngine(t, provider)

	_, err := e.RunOnce(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, e.Instruments(), "BTCUSDT")
}

func TestCloseAllLiquidates(t *testing.T) {
	provider := &fakeProvider{price: 197.9, closes: buySeries()}
	e, _, _ := newTestEngine(t, provider)
	ctx := context.Background()

	_, err := e.RunOnce(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, e.Portfolio().Positions())

	closed := e.CloseAll(ctx, domain.ExitEndOfRun)
	require.Len(t, closed, 1)
	assert.Equal(t, domain.ExitEndOfRun, closed[0].Reason)
	assert.Empty(t, e.Portfolio().Positions())
}

func TestMetricsAfterCycle(t *testing.T) {
	provider := &fakeProvider{price: 197.9, closes: buySeries()}
	e, _, _ := newTestEngine(t, provider)

	_, err := e.RunOnce(context.Background())
	require.NoError(t, err)

	m := e.Metrics()
	assert.Equal(t, 1, m.ActivePositions)
	assert.InDelta(t, m.AvailableCash+m.PositionsValue, m.TotalValue, 1e-9)
	assert.Equal(t, 0, m.TotalTrades)
}

func TestStatePersistsAcrossEngines(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testConfig()
	provider := &fakeProvider{price: 197.9, closes: buySeries()}

	store, err := storage.Open(":memory:", log)
	require.NoError(t, err)
	defer store.Close()

	strat := strategy.NewEngine(nil, cfg.Strategy, cfg.ML, log)
	first := New(cfg, provider, store, &fakeNotifier{}, nil, strat, log)

	res, err := first.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Opened, 1)

	first.strategy.AdjustRSIPeriod(4)
	first.saveState(context.Background())

	// El reinicio recupera el periodo RSI adaptado y el libro completo:
	// cash, posiciones vivas y contadores diarios.
	strat2 := strategy.NewEngine(nil, cfg.Strategy, cfg.ML, log)
	second := New(cfg, provider, store, &fakeNotifier{}, nil, strat2, log)
	assert.Equal(t, 18, second.strategy.RSIPeriod())

	pos, ok := second.Portfolio().Position("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, res.Opened[0].Quantity, pos.Quantity)
	assert.InDelta(t, first.Portfolio().Cash(), second.Portfolio().Cash(), 1e-9)
}

func TestTrailingStopSurvivesRestart(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testConfig()
	// Serie corta: sin historial para decidir, solo gestión de salidas.
	provider := &fakeProvider{price: 101, closes: buySeries()[:10]}

	store, err := storage.Open(":memory:", log)
	require.NoError(t, err)
	defer store.Close()

	first := New(cfg, provider, store, &fakeNotifier{}, nil,
		strategy.NewEngine(nil, cfg.Strategy, cfg.ML, log), log)
	_, err = first.Portfolio().Open("BTCUSDT", domain.Long, 100, 1, 98, 110, time.Now())
	require.NoError(t, err)
	first.Portfolio().SetTrailingStop("BTCUSDT", 102)
	first.saveState(context.Background())

	// El reinicio rearma el trailing persistido: a 101, por debajo del
	// stop 102 pero lejos del stop fijo 98, la posición se cierra.
	second := New(cfg, provider, store, &fakeNotifier{}, nil,
		strategy.NewEngine(nil, cfg.Strategy, cfg.ML, log), log)
	res, err := second.RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Closed, 1)
	assert.Equal(t, domain.ExitTrailingStop, res.Closed[0].Reason)
	assert.Empty(t, second.Portfolio().Positions())
}

func TestRSIPeriodAdjustsAfterLosingDay(t *testing.T) {
	provider := &fakeProvider{price: 197.9, closes: buySeries()}
	e, strat, _ := newTestEngine(t, provider)
	ctx := context.Background()

	day1 := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	now := day1
	e.now = func() time.Time { return now }

	res, err := e.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, res.Opened, 1)

	provider.setPrice(res.Opened[0].StopLoss - 1)
	now = day1.Add(time.Minute)
	res, err = e.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, res.Closed, 1)
	assert.Negative(t, res.Closed[0].PnL)
	assert.Equal(t, 14, strat.RSIPeriod(), "no adjustment within the same day")

	// Al cruzar el día UTC, el neto perdedor de la víspera ralentiza el RSI.
	now = day1.Add(25 * time.Hour)
	_, err = e.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 16, strat.RSIPeriod())
}
