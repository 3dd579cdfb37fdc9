// Package engine orquesta el ciclo de trading: fetch concurrente de
// mercado, análisis, gestión de salidas, admisión de entradas y
// contabilidad. Un ciclo nunca tumba el proceso: los fallos por
// instrumento degradan, no abortan.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/alejandrodnm/coinbot/config"
	"github.com/alejandrodnm/coinbot/internal/adapters/binance"
	"github.com/alejandrodnm/coinbot/internal/domain"
	"github.com/alejandrodnm/coinbot/internal/market"
	"github.com/alejandrodnm/coinbot/internal/portfolio"
	"github.com/alejandrodnm/coinbot/internal/ports"
	"github.com/alejandrodnm/coinbot/internal/risk"
	"github.com/alejandrodnm/coinbot/internal/strategy"
)

const stateKey = "engine_state"

const dayFormat = "2006-01-02"

// penalización de confianza para abrir en modo recuperación
const recoveryPenalty = 0.1

// engineState es lo que sobrevive a un reinicio del proceso.
type engineState struct {
	RSIPeriod   int             `json:"rsi_period"`
	RSIDay      string          `json:"rsi_day"`
	Instruments []string        `json:"instruments"`
	Book        portfolio.State `json:"book"`
}

// CycleResult resume lo ocurrido en un ciclo.
type CycleResult struct {
	Fetched   int
	Skipped   int
	Decisions []domain.Decision
	Opened    []domain.Position
	Closed    []domain.TradeRecord
	Degraded  bool // ningún instrumento entregó datos
}

// Engine es el orquestador del bot.
type Engine struct {
	cfg       *config.Config
	provider  ports.MarketProvider
	store     ports.Storage
	notifier  ports.Notifier
	predictor ports.Predictor
	strategy  *strategy.Engine
	sizer     *risk.Sizer
	trailer   *risk.Trailer
	book      *portfolio.Portfolio
	cache     *market.Cache
	selector  *selector
	log       *slog.Logger

	instruments []string
	lastSelect  time.Time
	degraded    int    // ciclos degradados consecutivos
	rsiDay      string // día UTC del último ajuste del periodo RSI

	now func() time.Time
}

// New construye el engine con sus colaboradores y recupera el estado
// persistido de corridas anteriores.
func New(cfg *config.Config, provider ports.MarketProvider, store ports.Storage,
	notifier ports.Notifier, predictor ports.Predictor, strat *strategy.Engine,
	log *slog.Logger) *Engine {

	e := &Engine{
		cfg:         cfg,
		provider:    provider,
		store:       store,
		notifier:    notifier,
		predictor:   predictor,
		strategy:    strat,
		sizer:       risk.NewSizer(cfg.Risk),
		trailer:     risk.NewTrailer(cfg.Risk.TrailingActivation, cfg.Risk.TrailingDistance),
		book:        portfolio.New(cfg.Bot, cfg.Risk, log),
		cache:       market.NewCache(cfg.Strategy.HistorySize),
		log:         log,
		instruments: slices.Clone(cfg.Bot.Instruments),
		now:         time.Now,
	}
	e.selector = &selector{
		cfg:      cfg.Selection,
		quote:    cfg.Bot.QuoteAsset,
		provider: provider,
		log:      log,
	}
	e.restoreState()
	return e
}

func (e *Engine) restoreState() {
	var st engineState
	found, err := e.store.GetConfig(context.Background(), stateKey, &st)
	if err != nil {
		e.log.Warn("could not restore state", "err", err)
		return
	}
	if !found {
		return
	}
	if st.RSIPeriod > 0 {
		e.strategy.AdjustRSIPeriod(st.RSIPeriod - e.strategy.RSIPeriod())
	}
	if len(st.Instruments) > 0 {
		e.instruments = st.Instruments
	}
	e.rsiDay = st.RSIDay
	e.book.Restore(st.Book)

	// Los trailing ya armados siguen armados: un reinicio nunca afloja
	// un stop que ya subió.
	for _, pos := range e.book.Positions() {
		e.trailer.Seed(pos)
	}
	e.log.Info("state restored", "rsi_period", e.strategy.RSIPeriod(),
		"instruments", len(e.instruments), "open_positions", len(st.Book.Positions))
}

func (e *Engine) saveState(ctx context.Context) {
	st := engineState{
		RSIPeriod:   e.strategy.RSIPeriod(),
		RSIDay:      e.rsiDay,
		Instruments: e.instruments,
		Book:        e.book.State(),
	}
	if err := e.store.SetConfig(ctx, stateKey, st); err != nil {
		e.log.Warn("could not persist state", "err", err)
	}
}

// Instruments devuelve el universo vigente.
func (e *Engine) Instruments() []string {
	return slices.Clone(e.instruments)
}

// Portfolio expone la contabilidad para el reporte final.
func (e *Engine) Portfolio() *portfolio.Portfolio {
	return e.book
}

type fetchResult struct {
	symbol string
	price  float64
	stats  domain.Stats24h
	series map[domain.Timeframe][]domain.Candle
	err    error
}

// RunOnce ejecuta un ciclo completo. Devuelve error solo en fallos de
// infraestructura; los fallos por instrumento se degradan a skip.
func (e *Engine) RunOnce(ctx context.Context) (CycleResult, error) {
	now := e.now()
	e.maybeRotate(ctx)
	e.maybeAdjustRSI(ctx, now)

	results := e.fetchAll(ctx)

	var res CycleResult
	prices := make(map[string]float64, len(results))
	series := make(map[string]map[domain.Timeframe][]domain.Candle, len(results))
	for _, r := range results {
		if r.err != nil {
			res.Skipped++
			e.handleFetchError(r)
			continue
		}
		res.Fetched++
		prices[r.symbol] = r.price
		series[r.symbol] = r.series
		e.cache.Update(r.symbol, r.price, r.stats.Volume, r.stats, now)
	}
	if res.Fetched == 0 {
		e.degraded++
		res.Degraded = true
		e.log.Warn("degraded cycle: no instrument delivered data",
			"consecutive", e.degraded)
		return res, nil
	}
	e.degraded = 0

	e.book.MarkPrices(prices)

	// Fase serializada de decisión: primero salidas, luego entradas.
	res.Closed = append(res.Closed, e.manageExits(ctx, prices)...)

	for _, symbol := range e.instruments {
		price, ok := prices[symbol]
		if !ok {
			continue
		}

		decision, err := e.strategy.Analyze(ctx, symbol, e.analysisInput(symbol, price, series[symbol]))
		if err != nil {
			if errors.Is(err, domain.ErrInsufficientHistory) {
				e.log.Debug("collecting history", "symbol", symbol)
			} else {
				e.log.Warn("analysis failed", "symbol", symbol, "err", err)
			}
			continue
		}
		res.Decisions = append(res.Decisions, decision)
		if err := e.store.SaveSignal(ctx, decision); err != nil {
			e.log.Warn("signal not saved", "symbol", symbol, "err", err)
		}

		if trade, closed := e.closeOnSellSignal(ctx, symbol, price, decision); closed {
			res.Closed = append(res.Closed, trade)
			continue
		}
		if pos, opened := e.tryOpen(ctx, symbol, price, decision, now); opened {
			res.Opened = append(res.Opened, pos)
		}
	}

	e.trainModels(ctx)
	for _, trade := range res.Closed {
		e.afterClose(ctx, trade)
	}

	point := e.book.RecordEquity(now)
	if err := e.store.SaveEquity(ctx, point); err != nil {
		e.log.Warn("equity not saved", "err", err)
	}

	e.saveState(ctx)
	e.notifier.CycleStatus(e.Metrics(), e.book.Positions(), res.Decisions)

	e.log.Info("cycle complete", "fetched", res.Fetched, "skipped", res.Skipped,
		"decisions", len(res.Decisions), "opened", len(res.Opened), "closed", len(res.Closed))
	return res, nil
}

// fetchAll trae precio, stats y velas de cada timeframe de todos los
// instrumentos en paralelo: un goroutine por (instrumento, dato). La
// fase de decisión no arranca hasta que el join completa; un fallo en
// cualquier fetch del instrumento lo degrada a skip este ciclo.
func (e *Engine) fetchAll(ctx context.Context) []fetchResult {
	tfs := strategy.Timeframes()
	results := make([]fetchResult, len(e.instruments))

	var wg sync.WaitGroup
	for i, symbol := range e.instruments {
		r := &results[i]
		r.symbol = symbol
		r.series = make(map[domain.Timeframe][]domain.Candle, len(tfs))

		var mu sync.Mutex
		fail := func(err error) {
			mu.Lock()
			if r.err == nil {
				r.err = err
			}
			mu.Unlock()
		}

		wg.Add(2 + len(tfs))
		go func(symbol string) {
			defer wg.Done()
			price, err := e.provider.GetPrice(ctx, symbol)
			if err != nil {
				fail(err)
				return
			}
			r.price = price
		}(symbol)
		go func(symbol string) {
			defer wg.Done()
			stats, err := e.provider.Get24hStats(ctx, symbol)
			if err != nil {
				fail(err)
				return
			}
			r.stats = stats
		}(symbol)
		for _, tf := range tfs {
			go func(symbol string, tf domain.Timeframe) {
				defer wg.Done()
				candles, err := e.provider.GetCandles(ctx, symbol, tf, e.cfg.Strategy.CandleLimit)
				if err != nil {
					fail(err)
					return
				}
				mu.Lock()
				r.series[tf] = candles
				mu.Unlock()
			}(symbol, tf)
		}
	}
	wg.Wait()
	return results
}

// handleFetchError degrada el fallo según su clase: los transitorios
// solo saltan el ciclo; los permanentes retiran al instrumento del
// universo salvo que tenga posición abierta.
func (e *Engine) handleFetchError(r fetchResult) {
	if binance.IsPermanent(r.err) {
		if _, open := e.book.Position(r.symbol); !open {
			e.log.Error("instrument dropped after permanent error",
				"symbol", r.symbol, "err", r.err)
			e.instruments = slices.DeleteFunc(e.instruments, func(s string) bool {
				return s == r.symbol
			})
			e.cache.Drop(r.symbol)
			return
		}
		e.log.Error("permanent error on held instrument", "symbol", r.symbol, "err", r.err)
		return
	}
	e.log.Warn("fetch failed, skipping cycle for instrument", "symbol", r.symbol, "err", r.err)
}

// manageExits evalúa trailing, stop loss y take profit de cada posición.
func (e *Engine) manageExits(ctx context.Context, prices map[string]float64) []domain.TradeRecord {
	var closed []domain.TradeRecord
	for _, pos := range e.book.Positions() {
		price, ok := prices[pos.Symbol]
		if !ok {
			continue
		}

		if stop := e.trailer.Update(pos, price); stop > 0 {
			e.book.SetTrailingStop(pos.Symbol, stop)
			pos.TrailingStop = stop
		}

		var reason domain.ExitReason
		switch {
		case e.trailer.Triggered(pos, price):
			reason = domain.ExitTrailingStop
		case pos.Side == domain.Long && price <= pos.StopLoss:
			reason = domain.ExitStopLoss
		case pos.Side == domain.Long && price >= pos.TakeProfit:
			reason = domain.ExitTakeProfit
		case pos.Side == domain.Short && price >= pos.StopLoss:
			reason = domain.ExitStopLoss
		case pos.Side == domain.Short && price <= pos.TakeProfit:
			reason = domain.ExitTakeProfit
		default:
			continue
		}

		trade, err := e.book.Close(pos.Symbol, price, reason, e.now())
		if err != nil {
			e.log.Warn("exit close failed", "symbol", pos.Symbol, "err", err)
			continue
		}
		closed = append(closed, trade)
	}
	return closed
}

func (e *Engine) closeOnSellSignal(ctx context.Context, symbol string, price float64, d domain.Decision) (domain.TradeRecord, bool) {
	pos, open := e.book.Position(symbol)
	if !open || pos.Side != domain.Long {
		return domain.TradeRecord{}, false
	}
	if d.Signal > domain.Sell || d.Confidence < e.cfg.Bot.SellConfidence {
		return domain.TradeRecord{}, false
	}
	trade, err := e.book.Close(symbol, price, domain.ExitSellSignal, e.now())
	if err != nil {
		e.log.Warn("sell signal close failed", "symbol", symbol, "err", err)
		return domain.TradeRecord{}, false
	}
	return trade, true
}

// tryOpen aplica los guardas diarios, el umbral de confianza (endurecido
// en recuperación), el sizing y el control de admisión.
func (e *Engine) tryOpen(ctx context.Context, symbol string, price float64, d domain.Decision, now time.Time) (domain.Position, bool) {
	if d.Signal < domain.Buy {
		return domain.Position{}, false
	}
	if halted, reason := e.book.Halted(now); halted {
		e.log.Debug("trading halted for today", "reason", reason)
		return domain.Position{}, false
	}

	threshold := e.cfg.Bot.BuyConfidence
	if e.book.InRecovery(now) {
		threshold += recoveryPenalty
	}
	if d.Confidence < threshold {
		return domain.Position{}, false
	}

	qty := e.positionSize(price, d.StopLoss)
	if qty <= 0 {
		return domain.Position{}, false
	}

	cost := qty * price
	if ok, reason := e.book.CanOpen(symbol, cost); !ok {
		e.log.Info("entry denied", "symbol", symbol, "cost", cost, "reason", reason)
		return domain.Position{}, false
	}

	pos, err := e.book.Open(symbol, domain.Long, price, qty, d.StopLoss, d.TakeProfit, now)
	if err != nil {
		e.log.Warn("open failed", "symbol", symbol, "err", err)
		return domain.Position{}, false
	}
	if !e.cfg.Bot.Simulation {
		// Sin ejecución real: el modo live solo deja constancia de la orden.
		e.log.Info("live order intent", "symbol", symbol, "side", "BUY",
			"qty", qty, "price", pos.EntryPrice)
	}
	return pos, true
}

// positionSize combina Kelly y riesgo fijo: Kelly decide cuánto capital
// comprometer cuando hay historial suficiente; el riesgo fijo manda con
// pocos trades.
func (e *Engine) positionSize(price, stop float64) float64 {
	capital := e.book.TotalValue()
	stats := risk.ComputeTradeStats(e.book.Trades())

	if stats.Total >= e.cfg.Risk.MinTradesForKelly {
		notional := e.sizer.SizeKelly(capital, stats.WinRate, stats.AvgWin, stats.AvgLoss)
		if notional <= 0 || price <= 0 {
			return 0
		}
		return notional / price
	}
	return e.sizer.SizeFixedRisk(capital, price, stop)
}

// analysisInput arma el paquete de datos del instrumento para la fusión:
// las velas del fan-out y, si el ML está activo, la serie de la cache
// para el voto consultivo (la misma con la que se entrena el modelo).
func (e *Engine) analysisInput(symbol string, price float64, candles map[domain.Timeframe][]domain.Candle) strategy.Input {
	in := strategy.Input{Price: price, Candles: candles}
	if e.predictor != nil && e.cfg.ML.Enabled {
		closes, volumes, err := e.cache.Window(symbol, e.cfg.ML.MinSamples)
		if err == nil {
			in.Closes, in.Volumes = closes, volumes
		}
	}
	return in
}

// trainModels reentrena el clasificador de los instrumentos con serie
// suficiente. El predictor aplica su propio intervalo de reentreno.
func (e *Engine) trainModels(ctx context.Context) {
	if e.predictor == nil || !e.cfg.ML.Enabled {
		return
	}
	for _, symbol := range e.instruments {
		closes, volumes, err := e.cache.Window(symbol, e.cfg.ML.MinSamples)
		if err != nil {
			continue // recolectando historial
		}
		if _, err := e.predictor.Train(ctx, symbol, closes, volumes); err != nil {
			if !errors.Is(err, domain.ErrInsufficientHistory) {
				e.log.Warn("training failed", "symbol", symbol, "err", err)
			}
		}
	}
}

// afterClose persiste el trade y limpia el estado por símbolo.
func (e *Engine) afterClose(ctx context.Context, trade domain.TradeRecord) {
	if err := e.store.SaveTrade(ctx, trade); err != nil {
		e.log.Warn("trade not saved", "id", trade.ID, "err", err)
	}
	e.trailer.Reset(trade.Symbol)
	e.strategy.Invalidate(trade.Symbol)
}

// maybeAdjustRSI aplica el ajuste diario del periodo RSI una vez por día
// UTC: si el neto del día anterior fue pérdida el RSI se vuelve más
// lento (menos señales); si fue ganancia, más rápido.
func (e *Engine) maybeAdjustRSI(ctx context.Context, now time.Time) {
	today := now.UTC().Format(dayFormat)
	if e.rsiDay == "" || e.rsiDay == today {
		e.rsiDay = today
		return
	}

	start, err := time.Parse(dayFormat, e.rsiDay)
	if err != nil {
		e.rsiDay = today
		return
	}
	trades, err := e.store.Trades(ctx, start)
	if err != nil {
		e.log.Warn("rsi adjustment skipped", "err", err)
		e.rsiDay = today
		return
	}

	var net float64
	for _, t := range trades {
		if t.ExitTime.UTC().Format(dayFormat) == e.rsiDay {
			net += t.PnL
		}
	}
	switch {
	case net < 0:
		e.log.Info("rsi period slowed after losing day",
			"net", net, "period", e.strategy.AdjustRSIPeriod(2))
	case net > 0:
		e.log.Info("rsi period sped up after winning day",
			"net", net, "period", e.strategy.AdjustRSIPeriod(-2))
	}
	e.rsiDay = today
}

// maybeRotate refresca el universo si el selector está habilitado y
// tocaba. Un fallo de rotación conserva el universo anterior.
func (e *Engine) maybeRotate(ctx context.Context) {
	if !e.cfg.Selection.Enabled {
		return
	}
	interval := time.Duration(e.cfg.Selection.IntervalSeconds) * time.Second
	if !e.lastSelect.IsZero() && e.now().Sub(e.lastSelect) < interval {
		return
	}

	var held []string
	for _, pos := range e.book.Positions() {
		held = append(held, pos.Symbol)
	}
	selected, err := e.selector.Select(ctx, held)
	if err != nil {
		e.log.Warn("rotation failed, keeping universe", "err", err)
		return
	}

	for _, old := range e.instruments {
		if !slices.Contains(selected, old) {
			e.cache.Drop(old)
			e.strategy.Invalidate(old)
		}
	}
	e.instruments = selected
	e.lastSelect = e.now()
}

// CloseAll liquida todas las posiciones al último precio conocido.
func (e *Engine) CloseAll(ctx context.Context, reason domain.ExitReason) []domain.TradeRecord {
	var closed []domain.TradeRecord
	for _, pos := range e.book.Positions() {
		price, ok := e.cache.LastPrice(pos.Symbol)
		if !ok {
			price = pos.EntryPrice
		}
		trade, err := e.book.Close(pos.Symbol, price, reason, e.now())
		if err != nil {
			e.log.Warn("liquidation failed", "symbol", pos.Symbol, "err", err)
			continue
		}
		e.afterClose(ctx, trade)
		closed = append(closed, trade)
	}
	return closed
}

// Degraded devuelve los ciclos degradados consecutivos.
func (e *Engine) Degraded() int {
	return e.degraded
}

// Metrics agrega la foto corriente del portfolio.
func (e *Engine) Metrics() domain.PortfolioMetrics {
	now := e.now()
	trades := e.book.Trades()
	stats := risk.ComputeTradeStats(trades)

	curve := e.book.Equity()
	values := make([]float64, len(curve))
	for i, p := range curve {
		values[i] = p.Value
	}
	returns := risk.Returns(values)

	total := e.book.TotalValue()
	cash := e.book.Cash()
	positions := e.book.Positions()

	var unrealized float64
	for _, pos := range positions {
		unrealized += pos.UnrealizedPnL
	}

	initial := e.cfg.Bot.InitialCapital
	var totalReturn float64
	if initial > 0 {
		totalReturn = (total/initial - 1) * 100
	}

	return domain.PortfolioMetrics{
		TotalValue:       total,
		AvailableCash:    cash,
		PositionsValue:   total - cash,
		UnrealizedPnL:    unrealized,
		RealizedPnLToday: e.book.RealizedToday(now),
		TotalReturnPct:   totalReturn,
		MaxDrawdownPct:   risk.MaxDrawdown(values) * 100,
		SharpeRatio:      risk.SharpeRatio(returns, e.cfg.Risk.RiskFreeRate),
		SortinoRatio:     risk.SortinoRatio(returns, e.cfg.Risk.RiskFreeRate),
		WinRate:          stats.WinRate,
		ProfitFactor:     stats.ProfitFactor,
		AvgWin:           stats.AvgWin,
		AvgLoss:          stats.AvgLoss,
		ActivePositions:  len(positions),
		TradesToday:      e.book.TradesToday(now),
		TotalTrades:      stats.Total,
	}
}

// Report imprime el informe final de la sesión.
func (e *Engine) Report() {
	e.notifier.Report(e.Metrics(), e.book.Trades())
}
