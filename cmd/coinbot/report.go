package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/alejandrodnm/coinbot/internal/adapters/storage"
	"github.com/alejandrodnm/coinbot/internal/domain"
	"github.com/alejandrodnm/coinbot/internal/risk"
)

// reportMetrics reconstruye las métricas agregadas desde lo persistido:
// los trades dan win rate y profit factor, la curva de equity da
// drawdown, Sharpe y Sortino.
func reportMetrics(ctx context.Context, store *storage.SQLite, trades []domain.TradeRecord) domain.PortfolioMetrics {
	stats := risk.ComputeTradeStats(trades)

	var values []float64
	curve, err := store.Equity(ctx, time.Time{})
	if err != nil {
		slog.Warn("failed to load equity curve", "err", err)
	}
	for _, p := range curve {
		values = append(values, p.Value)
	}
	returns := risk.Returns(values)

	m := domain.PortfolioMetrics{
		MaxDrawdownPct: risk.MaxDrawdown(values) * 100,
		SharpeRatio:    risk.SharpeRatio(returns, 0.02),
		SortinoRatio:   risk.SortinoRatio(returns, 0.02),
		WinRate:        stats.WinRate,
		ProfitFactor:   stats.ProfitFactor,
		AvgWin:         stats.AvgWin,
		AvgLoss:        stats.AvgLoss,
		TotalTrades:    stats.Total,
	}
	if len(values) > 0 {
		m.TotalValue = values[len(values)-1]
		if values[0] > 0 {
			m.TotalReturnPct = (m.TotalValue/values[0] - 1) * 100
		}
	}
	return m
}
