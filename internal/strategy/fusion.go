// Package strategy implementa la fusión de señales multi-timeframe:
// indicadores por timeframe, votos de evidencia y combinación ponderada
// en una decisión única con niveles de entrada y salida.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/coinbot/config"
	"github.com/alejandrodnm/coinbot/internal/domain"
	"github.com/alejandrodnm/coinbot/internal/ports"
)

const (
	minRSIPeriod = 8
	maxRSIPeriod = 20
)

// Input es el paquete de datos de mercado de un instrumento para un
// ciclo. El scheduler lo arma en su fan-out de fetch: el motor no toca
// la red, solo computa sobre lo que le entregan.
type Input struct {
	Price   float64
	Candles map[domain.Timeframe][]domain.Candle

	// Serie de la cache para el voto consultivo del clasificador.
	// Vacías si el ML está deshabilitado o aún no hay historial.
	Closes  []float64
	Volumes []float64
}

// Engine produce decisiones de trading fusionando el análisis de cinco
// timeframes y, opcionalmente, el voto consultivo del clasificador.
// Las decisiones se cachean por símbolo durante el TTL configurado para
// no recomputar la fusión dentro del mismo ciclo.
type Engine struct {
	predictor ports.Predictor // nil si el ML está deshabilitado
	cfg       config.StrategyConfig
	ml        config.MLConfig
	log       *slog.Logger

	mu        sync.Mutex
	cache     map[string]cachedDecision
	rsiPeriod int

	now func() time.Time
}

type cachedDecision struct {
	decision domain.Decision
	at       time.Time
}

// NewEngine crea el motor de fusión. predictor puede ser nil.
func NewEngine(predictor ports.Predictor, cfg config.StrategyConfig, ml config.MLConfig, log *slog.Logger) *Engine {
	return &Engine{
		predictor: predictor,
		cfg:       cfg,
		ml:        ml,
		log:       log,
		cache:     make(map[string]cachedDecision),
		rsiPeriod: cfg.RSIPeriod,
		now:       time.Now,
	}
}

// RSIPeriod devuelve el periodo RSI vigente.
func (e *Engine) RSIPeriod() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rsiPeriod
}

// AdjustRSIPeriod desplaza el periodo RSI en delta, acotado a [8, 20].
// El scheduler lo usa para hacer al RSI más lento tras pérdidas y más
// rápido tras ganancias.
func (e *Engine) AdjustRSIPeriod(delta int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.rsiPeriod + delta
	if p < minRSIPeriod {
		p = minRSIPeriod
	}
	if p > maxRSIPeriod {
		p = maxRSIPeriod
	}
	e.rsiPeriod = p
	return p
}

// Invalidate descarta la decisión cacheada del símbolo.
func (e *Engine) Invalidate(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cache, symbol)
}

// Analyze devuelve la decisión compuesta del símbolo con los datos del
// ciclo. Reusa la decisión cacheada si sigue dentro del TTL; la caché es
// de pared, no monotónica, para que un reloj inyectado en tests la
// controle.
func (e *Engine) Analyze(ctx context.Context, symbol string, in Input) (domain.Decision, error) {
	e.mu.Lock()
	if c, ok := e.cache[symbol]; ok && e.now().Sub(c.at) < e.cfg.TTL() {
		e.mu.Unlock()
		return c.decision, nil
	}
	rsiPeriod := e.rsiPeriod
	e.mu.Unlock()

	decision, err := e.analyze(ctx, symbol, in, rsiPeriod)
	if err != nil {
		return domain.Decision{}, err
	}

	e.mu.Lock()
	e.cache[symbol] = cachedDecision{decision: decision, at: e.now()}
	e.mu.Unlock()
	return decision, nil
}

func (e *Engine) analyze(ctx context.Context, symbol string, in Input, rsiPeriod int) (domain.Decision, error) {
	var (
		results []tfResult
		reasons []string
	)

	for _, tf := range fusionTimeframes {
		res, err := analyzeTimeframe(tf, domain.CloseSeries(in.Candles[tf]), in.Price, rsiPeriod)
		if err != nil {
			if errors.Is(err, domain.ErrInsufficientHistory) {
				e.log.Debug("skipping timeframe", "symbol", symbol, "timeframe", tf, "err", err)
				continue
			}
			return domain.Decision{}, fmt.Errorf("strategy.Analyze %s: %w", symbol, err)
		}
		results = append(results, res)
		for _, v := range res.votes {
			reasons = append(reasons, v.reason)
		}
	}
	if len(results) == 0 {
		return domain.Decision{}, fmt.Errorf("strategy.Analyze %s: no timeframe has enough candles: %w",
			symbol, domain.ErrInsufficientHistory)
	}

	// Fusión: promedio de los valores por timeframe ponderado por el peso
	// del timeframe y su confianza.
	var sumValue, sumConf, sumWeight float64
	for _, r := range results {
		w := timeframeWeights[r.analysis.Timeframe]
		sumValue += r.value * w * r.analysis.Confidence
		sumConf += r.analysis.Confidence * w
		sumWeight += w
	}
	value := sumValue / sumWeight
	confidence := sumConf / sumWeight

	// Voto consultivo del clasificador: un término más en el promedio,
	// solo si supera su confianza mínima. Nunca actúa de veto.
	if e.predictor != nil && e.ml.Enabled {
		value, confidence, reasons = e.addAdvisoryVote(ctx, symbol, in, value, confidence, sumWeight, reasons)
	}

	analyses := make([]domain.TimeframeAnalysis, len(results))
	for i, r := range results {
		analyses[i] = r.analysis
	}

	stop, take := exitLevels(in.Price, analyses)

	decision := domain.Decision{
		Symbol:      symbol,
		Signal:      domain.QuantizeSignal(value),
		Confidence:  confidence,
		Strength:    abs(value),
		EntryPrice:  in.Price,
		StopLoss:    stop,
		TakeProfit:  take,
		RiskReward:  2.0 * (0.5 + confidence),
		Reasons:     reasons,
		ByTimeframe: analyses,
		At:          e.now(),
	}
	e.log.Debug("analysis complete", "symbol", symbol, "signal", decision.Signal.String(),
		"confidence", decision.Confidence, "timeframes", len(analyses))
	return decision, nil
}

func (e *Engine) addAdvisoryVote(ctx context.Context, symbol string, in Input, value, confidence, sumWeight float64, reasons []string) (float64, float64, []string) {
	if len(in.Closes) == 0 {
		e.log.Debug("advisory vote unavailable", "symbol", symbol, "reason", "no cached series")
		return value, confidence, reasons
	}
	pred, err := e.predictor.Predict(ctx, symbol, in.Closes, in.Volumes)
	if err != nil || pred.Confidence < e.ml.MinConfidence {
		return value, confidence, reasons
	}

	w := e.ml.Weight
	value = (value*sumWeight + float64(pred.Signal)*w*pred.Confidence) / (sumWeight + w)
	confidence = (confidence*sumWeight + pred.Confidence*w) / (sumWeight + w)
	reasons = append(reasons, fmt.Sprintf("ml %s %.2f", pred.Signal, pred.Confidence))
	return value, confidence, reasons
}

// exitLevels deriva stop loss y take profit de los niveles estructurales.
// El stop busca el soporte más cercano por debajo del 98% del precio,
// acotado a no más del 3% de distancia; el take, la resistencia más
// cercana por encima del 102%, acotada al 6%. Sin niveles usables caen
// a porcentajes fijos.
func exitLevels(price float64, analyses []domain.TimeframeAnalysis) (stop, take float64) {
	stop = price * 0.98
	bestSupport := 0.0
	for _, a := range analyses {
		if a.Support > bestSupport && a.Support < price*0.98 {
			bestSupport = a.Support
		}
	}
	if bestSupport > 0 {
		stop = max(bestSupport, price*0.97)
	}

	take = price * 1.04
	bestResistance := 0.0
	for _, a := range analyses {
		if a.Resistance > price*1.02 && (bestResistance == 0 || a.Resistance < bestResistance) {
			bestResistance = a.Resistance
		}
	}
	if bestResistance > 0 {
		take = min(bestResistance, price*1.06)
	}
	return stop, take
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
