package binance

import (
	"context"
	"sync"
	"time"
)

// slidingWindow es un rate limiter de ventana deslizante exacta de un
// minuto: guarda los timestamps de las requests emitidas y, si el budget
// está agotado, suspende hasta que el timestamp más antiguo salga de la
// ventana. A diferencia de un token bucket, no permite ráfagas dobles en
// el borde de la ventana.
type slidingWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	issued []time.Time

	// inyectables para tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func newSlidingWindow(limit int, window time.Duration) *slidingWindow {
	return &slidingWindow{
		limit:  limit,
		window: window,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// Wait bloquea hasta que haya hueco en la ventana y registra la request.
// Respeta la cancelación del contexto durante la espera.
func (s *slidingWindow) Wait(ctx context.Context) error {
	for {
		s.mu.Lock()
		now := s.now()
		s.evict(now)

		if len(s.issued) < s.limit {
			s.issued = append(s.issued, now)
			s.mu.Unlock()
			return nil
		}

		// Espera exacta: lo que le falta al timestamp más antiguo para
		// salir de la ventana.
		wait := s.window - now.Sub(s.issued[0])
		s.mu.Unlock()

		if wait <= 0 {
			continue
		}
		if err := s.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// InWindow devuelve cuántas requests siguen dentro de la ventana.
func (s *slidingWindow) InWindow() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evict(s.now())
	return len(s.issued)
}

// evict descarta timestamps fuera de la ventana. Requiere el mutex.
func (s *slidingWindow) evict(now time.Time) {
	cut := 0
	for cut < len(s.issued) && now.Sub(s.issued[cut]) >= s.window {
		cut++
	}
	if cut > 0 {
		s.issued = append(s.issued[:0], s.issued[cut:]...)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
