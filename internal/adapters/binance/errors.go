package binance

import (
	"errors"
	"fmt"
)

// FetchKind clasifica los fallos del fetcher según su política de reintento.
type FetchKind int

const (
	// Transient: timeout, connection reset, 5xx o rate limit agotado tras
	// los reintentos. El instrumento se salta este ciclo y se reintenta
	// en el siguiente.
	Transient FetchKind = iota
	// Permanent: 4xx o bloqueo legal/geográfico (451). Sin reintento.
	Permanent
)

// FetchError es el fallo tipado que cruza la frontera del scheduler.
// Se devuelve, nunca se lanza a través del loop.
type FetchError struct {
	Kind   FetchKind
	Status int    // status HTTP si aplica, 0 para errores de red
	Op     string // endpoint lógico, p.ej. "GetPrice BTCUSDT"
	Err    error
}

func (e *FetchError) Error() string {
	kind := "transient"
	if e.Kind == Permanent {
		kind = "permanent"
	}
	if e.Status > 0 {
		return fmt.Sprintf("binance: %s: %s (status %d): %v", e.Op, kind, e.Status, e.Err)
	}
	return fmt.Sprintf("binance: %s: %s: %v", e.Op, kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsTransient informa si err es un fallo de fetch reintentable.
func IsTransient(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == Transient
}

// IsPermanent informa si err es un fallo de fetch sin reintento posible.
func IsPermanent(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == Permanent
}
