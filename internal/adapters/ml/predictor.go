// Package ml implementa el clasificador consultivo: un modelo de
// centroide más cercano por símbolo, entrenado en proceso sobre las
// series de precios y volúmenes. Es deliberadamente simple; su voto
// entra ponderado en la fusión y nunca decide por sí solo.
package ml

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/alejandrodnm/coinbot/config"
	"github.com/alejandrodnm/coinbot/internal/domain"
	"github.com/alejandrodnm/coinbot/internal/ports"
)

// warmup es el índice mínimo con historia suficiente para las features
// (RSI 21 y las medias de 20 periodos).
const warmup = 22

const labelCount = 3

var labels = [labelCount]domain.Signal{domain.Sell, domain.Neutral, domain.Buy}

// model es el clasificador entrenado de un símbolo. Se serializa como
// JSON bajo la clave ml_model_<symbol> del storage para sobrevivir
// reinicios.
type model struct {
	Mean      []float64             `json:"mean"`
	Std       []float64             `json:"std"`
	Centroids [labelCount][]float64 `json:"centroids"` // SELL, NEUTRAL, BUY
	Counts    [labelCount]int       `json:"counts"`
	Accuracy  float64               `json:"accuracy"`
	TrainedAt time.Time             `json:"trained_at"`
}

// Predictor implementa ports.Predictor con un modelo por símbolo.
type Predictor struct {
	cfg   config.MLConfig
	store ports.Storage // nil deshabilita la persistencia del modelo
	log   *slog.Logger

	mu     sync.Mutex
	models map[string]*model

	now func() time.Time
}

// New crea un Predictor. store puede ser nil.
func New(cfg config.MLConfig, store ports.Storage, log *slog.Logger) *Predictor {
	return &Predictor{
		cfg:    cfg,
		store:  store,
		log:    log,
		models: make(map[string]*model),
		now:    time.Now,
	}
}

// Train reentrena el modelo del símbolo si el anterior ya caducó.
// Etiqueta cada punto por su retorno a horizon pasos y mide la
// exactitud sobre el último 20% de las muestras, que nunca se usa para
// los centroides.
func (p *Predictor) Train(ctx context.Context, symbol string, prices, volumes []float64) (ports.TrainResult, error) {
	p.mu.Lock()
	existing := p.models[symbol]
	p.mu.Unlock()

	interval := time.Duration(p.cfg.TrainIntervalSeconds) * time.Second
	if existing != nil && p.now().Sub(existing.TrainedAt) < interval {
		return ports.TrainResult{Accuracy: existing.Accuracy, Retrained: false}, nil
	}

	samples, targets, err := p.dataset(prices, volumes)
	if err != nil {
		return ports.TrainResult{}, fmt.Errorf("ml.Train %s: %w", symbol, err)
	}

	mean, std := standardize(samples)

	split := len(samples) * 4 / 5
	m := &model{Mean: mean, Std: std, TrainedAt: p.now()}
	for i := 0; i < split; i++ {
		m.accumulate(samples[i], targets[i])
	}
	m.finalize()

	var hits int
	for i := split; i < len(samples); i++ {
		if pred, _ := m.classify(samples[i]); pred == targets[i] {
			hits++
		}
	}
	if n := len(samples) - split; n > 0 {
		m.Accuracy = float64(hits) / float64(n)
	}

	p.mu.Lock()
	p.models[symbol] = m
	p.mu.Unlock()

	if p.store != nil {
		if err := p.store.SetConfig(ctx, modelKey(symbol), m); err != nil {
			p.log.Warn("model not persisted", "symbol", symbol, "err", err)
		}
	}
	p.log.Info("model trained", "symbol", symbol, "samples", len(samples),
		"accuracy", m.Accuracy)
	return ports.TrainResult{Accuracy: m.Accuracy, Retrained: true}, nil
}

// Predict puntúa el estado actual del símbolo con su modelo entrenado.
func (p *Predictor) Predict(ctx context.Context, symbol string, prices, volumes []float64) (ports.Prediction, error) {
	m, err := p.modelFor(ctx, symbol)
	if err != nil {
		return ports.Prediction{}, err
	}
	if len(prices) < warmup+1 || len(volumes) != len(prices) {
		return ports.Prediction{}, fmt.Errorf("ml.Predict %s: %w", symbol, domain.ErrInsufficientHistory)
	}

	feats := features(prices, volumes, len(prices)-1)
	scaled := make([]float64, len(feats))
	for i, f := range feats {
		scaled[i] = (f - m.Mean[i]) / m.Std[i]
	}
	signal, confidence := m.classify(scaled)
	return ports.Prediction{Signal: signal, Confidence: confidence}, nil
}

func (p *Predictor) modelFor(ctx context.Context, symbol string) (*model, error) {
	p.mu.Lock()
	m := p.models[symbol]
	p.mu.Unlock()
	if m != nil {
		return m, nil
	}

	if p.store != nil {
		var loaded model
		found, err := p.store.GetConfig(ctx, modelKey(symbol), &loaded)
		if err == nil && found && len(loaded.Mean) > 0 {
			p.mu.Lock()
			p.models[symbol] = &loaded
			p.mu.Unlock()
			return &loaded, nil
		}
	}
	return nil, fmt.Errorf("ml.Predict %s: no trained model", symbol)
}

// dataset construye las muestras etiquetadas. Las features usan solo el
// pasado del punto; la etiqueta, el retorno a horizon pasos vista.
func (p *Predictor) dataset(prices, volumes []float64) (samples [][]float64, targets []domain.Signal, err error) {
	horizon := p.cfg.Horizon
	if len(prices) != len(volumes) {
		return nil, nil, fmt.Errorf("series length mismatch: %d prices, %d volumes", len(prices), len(volumes))
	}
	last := len(prices) - horizon
	for i := warmup; i < last; i++ {
		future := prices[i+horizon]/prices[i] - 1
		label := domain.Neutral
		if future > p.cfg.Threshold {
			label = domain.Buy
		} else if future < -p.cfg.Threshold {
			label = domain.Sell
		}
		samples = append(samples, features(prices, volumes, i))
		targets = append(targets, label)
	}
	if len(samples) < p.cfg.MinSamples {
		return nil, nil, fmt.Errorf("%d of %d samples: %w",
			len(samples), p.cfg.MinSamples, domain.ErrInsufficientHistory)
	}
	return samples, targets, nil
}

// features es el vector de entrada en el índice i: retornos a varios
// horizontes, distancia a las medias, volatilidad, momentum, RSI a tres
// periodos, posición en las bandas de Bollinger y ratio de volumen.
func features(prices, volumes []float64, i int) []float64 {
	ret := func(k int) float64 {
		if i-k < 0 || prices[i-k] == 0 {
			return 0
		}
		return prices[i]/prices[i-k] - 1
	}
	window := prices[:i+1]

	sma5 := tailMean(window, 5)
	sma20 := tailMean(window, 20)
	std20 := tailStd(window, 20, sma20)

	var smaDiff float64
	if sma20 != 0 {
		smaDiff = (sma5 - sma20) / sma20
	}

	var bollinger float64
	if std20 > 0 {
		bollinger = (prices[i] - sma20) / (2 * std20)
	}

	rsi7, _ := domain.RSI(window, 7)
	rsi14, _ := domain.RSI(window, 14)
	rsi21, _ := domain.RSI(window, 21)

	volMean := tailMean(volumes[:i+1], 20)
	var volRatio float64
	if volMean > 0 {
		volRatio = volumes[i] / volMean
	}

	// volatilidad: desviación de los últimos 10 retornos
	var rets []float64
	for k := i - 9; k <= i; k++ {
		if k <= 0 || prices[k-1] == 0 {
			continue
		}
		rets = append(rets, prices[k]/prices[k-1]-1)
	}
	volatility := stddev(rets)

	return []float64{
		ret(1), ret(3), ret(5), ret(10),
		smaDiff, volatility, ret(20), // momentum a 20 pasos
		rsi7 / 100, rsi14 / 100, rsi21 / 100,
		bollinger, volRatio,
	}
}

func (m *model) accumulate(sample []float64, target domain.Signal) {
	idx := labelIndex(target)
	if m.Centroids[idx] == nil {
		m.Centroids[idx] = make([]float64, len(sample))
	}
	for j, v := range sample {
		m.Centroids[idx][j] += v
	}
	m.Counts[idx]++
}

func (m *model) finalize() {
	for idx := range m.Centroids {
		if m.Counts[idx] == 0 {
			continue
		}
		for j := range m.Centroids[idx] {
			m.Centroids[idx][j] /= float64(m.Counts[idx])
		}
	}
}

// classify devuelve la clase del centroide más cercano y una confianza
// derivada del margen entre el mejor y el segundo mejor centroide:
// 0.5 con empate, hacia 1 cuanto más claro el ganador.
func (m *model) classify(sample []float64) (domain.Signal, float64) {
	best, second := math.Inf(1), math.Inf(1)
	bestIdx := 1 // NEUTRAL
	for idx, centroid := range m.Centroids {
		if centroid == nil {
			continue
		}
		d := distance(sample, centroid)
		if d < best {
			second = best
			best, bestIdx = d, idx
		} else if d < second {
			second = d
		}
	}
	confidence := 0.5
	if !math.IsInf(second, 1) && best+second > 0 {
		confidence = second / (best + second)
	}
	return labels[bestIdx], confidence
}

// standardize centra y escala las muestras in place y devuelve la media
// y desviación por feature (std mínima 1e-9 para no dividir por cero).
func standardize(samples [][]float64) (mean, std []float64) {
	if len(samples) == 0 {
		return nil, nil
	}
	dims := len(samples[0])
	mean = make([]float64, dims)
	std = make([]float64, dims)

	for _, s := range samples {
		for j, v := range s {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= float64(len(samples))
	}
	for _, s := range samples {
		for j, v := range s {
			std[j] += (v - mean[j]) * (v - mean[j])
		}
	}
	for j := range std {
		std[j] = math.Sqrt(std[j] / float64(len(samples)))
		if std[j] < 1e-9 {
			std[j] = 1e-9
		}
	}
	for _, s := range samples {
		for j := range s {
			s[j] = (s[j] - mean[j]) / std[j]
		}
	}
	return mean, std
}

func labelIndex(s domain.Signal) int {
	switch s {
	case domain.Sell:
		return 0
	case domain.Buy:
		return 2
	default:
		return 1
	}
}

func distance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

func tailMean(s []float64, n int) float64 {
	if len(s) < n || n == 0 {
		return 0
	}
	var sum float64
	for _, v := range s[len(s)-n:] {
		sum += v
	}
	return sum / float64(n)
}

func tailStd(s []float64, n int, mean float64) float64 {
	if len(s) < n || n == 0 {
		return 0
	}
	var sum float64
	for _, v := range s[len(s)-n:] {
		sum += (v - mean) * (v - mean)
	}
	return math.Sqrt(sum / float64(n))
}

func stddev(s []float64) float64 {
	if len(s) == 0 {
		return 0
	}
	var mean float64
	for _, v := range s {
		mean += v
	}
	mean /= float64(len(s))
	var sum float64
	for _, v := range s {
		sum += (v - mean) * (v - mean)
	}
	return math.Sqrt(sum / float64(len(s)))
}

func modelKey(symbol string) string {
	return "ml_model_" + symbol
}
