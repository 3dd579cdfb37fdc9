package ports

import "github.com/alejandrodnm/coinbot/internal/domain"

// Notifier presenta el estado del portfolio al usuario. La implementación
// de consola imprime tablas formateadas; el core no conoce el formato.
type Notifier interface {
	// CycleStatus muestra el resumen de un ciclo: posiciones vivas,
	// decisiones tomadas y métricas corrientes.
	CycleStatus(metrics domain.PortfolioMetrics, positions []domain.Position, decisions []domain.Decision)

	// Report imprime el informe final de la sesión.
	Report(metrics domain.PortfolioMetrics, trades []domain.TradeRecord)
}
