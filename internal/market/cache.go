// Package market mantiene el estado de mercado en memoria entre ciclos.
package market

import (
	"fmt"
	"sync"
	"time"

	"github.com/alejandrodnm/coinbot/internal/domain"
)

const defaultHistory = 500

// Cache acumula snapshots de mercado por instrumento. El scheduler es el
// único escritor (un Update por instrumento y ciclo); estrategia y riesgo
// leen concurrentemente, siempre sobre copias.
type Cache struct {
	mu      sync.RWMutex
	history int
	snaps   map[string]*domain.Snapshot
}

// NewCache crea una cache con history posiciones por serie. Si history
// no es positivo usa el valor por defecto.
func NewCache(history int) *Cache {
	if history <= 0 {
		history = defaultHistory
	}
	return &Cache{
		history: history,
		snaps:   make(map[string]*domain.Snapshot),
	}
}

// Update registra el resultado del fetch de un ciclo: último precio,
// stats de 24h y un punto más en las series de cierres y volúmenes.
// Las series son rings acotados: al llenarse descartan lo más antiguo.
func (c *Cache) Update(symbol string, price, volume float64, stats domain.Stats24h, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.snaps[symbol]
	if !ok {
		s = &domain.Snapshot{Symbol: symbol}
		c.snaps[symbol] = s
	}
	s.LastPrice = price
	s.Stats = stats
	s.UpdatedAt = at
	s.Closes = appendBounded(s.Closes, price, c.history)
	s.Volumes = appendBounded(s.Volumes, volume, c.history)
}

// LastPrice devuelve el último precio conocido del instrumento.
func (c *Cache) LastPrice(symbol string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.snaps[symbol]
	if !ok {
		return 0, false
	}
	return s.LastPrice, true
}

// Stats devuelve las últimas estadísticas de 24h del instrumento.
func (c *Cache) Stats(symbol string) (domain.Stats24h, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.snaps[symbol]
	if !ok {
		return domain.Stats24h{}, false
	}
	return s.Stats, true
}

// Window devuelve una copia de las últimas n muestras (cierre y volumen)
// del instrumento. Falla con domain.ErrInsufficientHistory si la serie
// aún no tiene n puntos.
func (c *Cache) Window(symbol string, n int) (closes, volumes []float64, err error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.snaps[symbol]
	if !ok || len(s.Closes) < n {
		have := 0
		if ok {
			have = len(s.Closes)
		}
		return nil, nil, fmt.Errorf("market.Window %s: %d of %d points: %w",
			symbol, have, n, domain.ErrInsufficientHistory)
	}
	closes = make([]float64, n)
	copy(closes, s.Closes[len(s.Closes)-n:])
	volumes = make([]float64, n)
	copy(volumes, s.Volumes[len(s.Volumes)-n:])
	return closes, volumes, nil
}

// Snapshot devuelve una copia completa del snapshot del instrumento.
func (c *Cache) Snapshot(symbol string) (domain.Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.snaps[symbol]
	if !ok {
		return domain.Snapshot{}, false
	}
	out := *s
	out.Closes = append([]float64(nil), s.Closes...)
	out.Volumes = append([]float64(nil), s.Volumes...)
	return out, true
}

// Symbols lista los instrumentos con al menos un snapshot.
func (c *Cache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.snaps))
	for sym := range c.snaps {
		out = append(out, sym)
	}
	return out
}

// Drop descarta el estado de un instrumento retirado por el selector.
func (c *Cache) Drop(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snaps, symbol)
}

func appendBounded(s []float64, v float64, max int) []float64 {
	s = append(s, v)
	if len(s) > max {
		s = append(s[:0], s[len(s)-max:]...)
	}
	return s
}
