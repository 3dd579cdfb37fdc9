package engine

import (
	"context"
	"os"
	"time"

	"github.com/alejandrodnm/coinbot/internal/domain"
)

const stopFile = "STOP"

// Run ejecuta el loop principal hasta que el contexto se cancele o
// aparezca el archivo STOP. A la salida liquida las posiciones abiertas
// e imprime el informe final.
func (e *Engine) Run(ctx context.Context) error {
	interval := e.cfg.Interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.log.Info("trading loop started",
		"interval", interval,
		"instruments", e.instruments,
		"simulation", e.cfg.Bot.Simulation,
		"capital", e.cfg.Bot.InitialCapital)

	e.cycle(ctx)

	for {
		select {
		case <-ctx.Done():
			e.log.Info("trading loop stopped (signal)")
			e.shutdown()
			return ctx.Err()
		case <-ticker.C:
			if _, err := os.Stat(stopFile); err == nil {
				e.log.Info("STOP file detected, shutting down")
				os.Remove(stopFile)
				e.shutdown()
				return nil
			}
			e.cycle(ctx)
		}
	}
}

// cycle corre un RunOnce con enfriamiento: tras varios ciclos degradados
// consecutivos se salta uno para no castigar a una API que ya falla.
func (e *Engine) cycle(ctx context.Context) {
	if e.degraded >= e.cfg.Bot.CooldownCycles {
		e.log.Warn("cooling down after degraded cycles", "consecutive", e.degraded)
		e.degraded = 0
		return
	}
	if _, err := e.RunOnce(ctx); err != nil {
		e.log.Error("cycle failed", "err", err)
	}
}

// shutdown liquida las posiciones vivas e imprime el informe.
func (e *Engine) shutdown() {
	// Contexto propio: el del loop ya puede estar cancelado y los cierres
	// finales tienen que persistirse.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	closed := e.CloseAll(ctx, domain.ExitEndOfRun)
	if len(closed) > 0 {
		e.log.Info("positions liquidated on shutdown", "count", len(closed))
	}
	e.saveState(ctx)
	e.Report()
}
