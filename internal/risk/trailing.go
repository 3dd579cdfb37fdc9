package risk

import (
	"sync"

	"github.com/alejandrodnm/coinbot/internal/domain"
)

// Trailer mantiene el estado de trailing stop por símbolo. El stop se
// activa al superar la ganancia de activación y a partir de ahí solo
// sube (ratchet): una corrección nunca lo afloja.
type Trailer struct {
	activation float64 // ganancia fraccional que arma el trailing
	distance   float64 // distancia fraccional al máximo (o mínimo en corto)

	mu    sync.Mutex
	highs map[string]float64 // máximo favorable visto por símbolo
	stops map[string]float64
}

// NewTrailer crea un Trailer con la activación y distancia dadas.
func NewTrailer(activation, distance float64) *Trailer {
	return &Trailer{
		activation: activation,
		distance:   distance,
		highs:      make(map[string]float64),
		stops:      make(map[string]float64),
	}
}

// Update avanza el trailing stop de la posición con el precio actual y
// devuelve el stop vigente (0 si aún no se activó). Para posiciones
// largas el máximo favorable es el precio más alto; para cortas, el más
// bajo.
func (t *Trailer) Update(pos domain.Position, price float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	high, tracked := t.highs[pos.Symbol]
	if !tracked {
		high = pos.EntryPrice
	}

	if pos.Side == domain.Short {
		if price < high {
			high = price
		}
		t.highs[pos.Symbol] = high

		gain := (pos.EntryPrice - high) / pos.EntryPrice
		if gain < t.activation {
			return t.stops[pos.Symbol]
		}
		stop := high * (1 + t.distance)
		if prev, ok := t.stops[pos.Symbol]; !ok || stop < prev {
			t.stops[pos.Symbol] = stop
		}
		return t.stops[pos.Symbol]
	}

	if price > high {
		high = price
	}
	t.highs[pos.Symbol] = high

	gain := (high - pos.EntryPrice) / pos.EntryPrice
	if gain < t.activation {
		return t.stops[pos.Symbol]
	}
	stop := high * (1 - t.distance)
	if prev, ok := t.stops[pos.Symbol]; !ok || stop > prev {
		t.stops[pos.Symbol] = stop
	}
	return t.stops[pos.Symbol]
}

// Seed repone el estado de un trailing ya activado, típicamente al
// restaurar posiciones tras un reinicio. El máximo favorable se
// reconstruye desde el stop persistido; el ratchet de Update garantiza
// que el stop repuesto nunca se afloje.
func (t *Trailer) Seed(pos domain.Position) {
	if pos.TrailingStop <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stops[pos.Symbol] = pos.TrailingStop
	if pos.Side == domain.Short {
		t.highs[pos.Symbol] = pos.TrailingStop / (1 + t.distance)
		return
	}
	t.highs[pos.Symbol] = pos.TrailingStop / (1 - t.distance)
}

// Triggered informa si el precio cruzó el trailing stop de la posición.
func (t *Trailer) Triggered(pos domain.Position, price float64) bool {
	t.mu.Lock()
	stop, ok := t.stops[pos.Symbol]
	t.mu.Unlock()
	if !ok || stop == 0 {
		return false
	}
	if pos.Side == domain.Short {
		return price >= stop
	}
	return price <= stop
}

// Reset descarta el estado del símbolo al cerrar su posición.
func (t *Trailer) Reset(symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.highs, symbol)
	delete(t.stops, symbol)
}
