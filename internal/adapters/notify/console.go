// Package notify presenta el estado del bot por consola.
package notify

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/coinbot/internal/domain"
)

// Console implementa ports.Notifier.
type Console struct {
	out     io.Writer
	verbose bool // tabla completa por ciclo en vez de la línea compacta
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole(verbose bool) *Console {
	return &Console{out: os.Stdout, verbose: verbose}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, verbose bool) *Console {
	return &Console{out: w, verbose: verbose}
}

// CycleStatus imprime el resumen de un ciclo.
func (c *Console) CycleStatus(metrics domain.PortfolioMetrics, positions []domain.Position, decisions []domain.Decision) {
	if c.verbose {
		c.printFull(metrics, positions, decisions)
		return
	}
	c.printCompact(metrics, positions, decisions)
}

// printCompact imprime lo esencial en una línea.
func (c *Console) printCompact(m domain.PortfolioMetrics, positions []domain.Position, decisions []domain.Decision) {
	now := time.Now().Format("15:04:05")

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] $%.2f (%+.2f%%) | cash $%.2f | %d pos | %d/%d trades today",
		now, m.TotalValue, m.TotalReturnPct, m.AvailableCash,
		m.ActivePositions, m.TradesToday, m.TotalTrades)

	shown := 0
	for _, d := range decisions {
		if d.Signal == domain.Neutral {
			continue
		}
		if shown >= 4 {
			break
		}
		fmt.Fprintf(&sb, " | %s %s %.0f%%", d.Symbol, d.Signal, d.Confidence*100)
		shown++
	}

	fmt.Fprintln(c.out, sb.String())
}

// printFull imprime la tabla de posiciones y señales del ciclo.
func (c *Console) printFull(m domain.PortfolioMetrics, positions []domain.Position, decisions []domain.Decision) {
	now := time.Now().Format("15:04:05")
	fmt.Fprintf(c.out, "\n[%s] portfolio $%.2f (%+.2f%%) | cash $%.2f | unrealized $%+.2f\n",
		now, m.TotalValue, m.TotalReturnPct, m.AvailableCash, m.UnrealizedPnL)

	if len(positions) > 0 {
		table := tablewriter.NewWriter(c.out)
		table.Header("Symbol", "Side", "Entry", "Qty", "Stop", "Take", "Trail", "UnrlPnL")
		for _, p := range positions {
			trail := "-"
			if p.TrailingStop > 0 {
				trail = fmt.Sprintf("%.4f", p.TrailingStop)
			}
			table.Append(
				p.Symbol,
				string(p.Side),
				fmt.Sprintf("%.4f", p.EntryPrice),
				fmt.Sprintf("%.6f", p.Quantity),
				fmt.Sprintf("%.4f", p.StopLoss),
				fmt.Sprintf("%.4f", p.TakeProfit),
				trail,
				fmt.Sprintf("$%+.4f", p.UnrealizedPnL),
			)
		}
		table.Render()
	}

	if len(decisions) > 0 {
		table := tablewriter.NewWriter(c.out)
		table.Header("Symbol", "Signal", "Conf", "Entry", "Stop", "Take", "R:R", "Reasons")
		for _, d := range decisions {
			table.Append(
				d.Symbol,
				d.Signal.String(),
				fmt.Sprintf("%.0f%%", d.Confidence*100),
				fmt.Sprintf("%.4f", d.EntryPrice),
				fmt.Sprintf("%.4f", d.StopLoss),
				fmt.Sprintf("%.4f", d.TakeProfit),
				fmt.Sprintf("%.2f", d.RiskReward),
				topReasons(d.Reasons, 2),
			)
		}
		table.Render()
	}
}

// Report imprime el informe final de la sesión.
func (c *Console) Report(m domain.PortfolioMetrics, trades []domain.TradeRecord) {
	fmt.Fprintf(c.out, "\n")
	fmt.Fprintf(c.out, "========================================================\n")
	fmt.Fprintf(c.out, "  TRADING REPORT\n")
	fmt.Fprintf(c.out, "========================================================\n\n")

	if len(trades) > 0 {
		table := tablewriter.NewWriter(c.out)
		table.Header("Symbol", "Side", "Entry", "Exit", "PnL", "PnL%", "Fees", "Reason")
		for _, t := range trades {
			table.Append(
				t.Symbol,
				string(t.Side),
				fmt.Sprintf("%.4f", t.EntryPrice),
				fmt.Sprintf("%.4f", t.ExitPrice),
				fmt.Sprintf("$%+.4f", t.PnL),
				fmt.Sprintf("%+.2f%%", t.PnLPct),
				fmt.Sprintf("$%.4f", t.Fees),
				string(t.Reason),
			)
		}
		table.Render()
	}

	fmt.Fprintf(c.out, "\n  --- PORTFOLIO ---\n")
	fmt.Fprintf(c.out, "  Total value:      $%.2f\n", m.TotalValue)
	fmt.Fprintf(c.out, "  Total return:     %+.2f%%\n", m.TotalReturnPct)
	fmt.Fprintf(c.out, "  Realized today:   $%+.2f\n", m.RealizedPnLToday)
	fmt.Fprintf(c.out, "  Max drawdown:     %.2f%%\n", m.MaxDrawdownPct)

	fmt.Fprintf(c.out, "\n  --- TRADES ---\n")
	fmt.Fprintf(c.out, "  Total trades:     %d\n", m.TotalTrades)
	fmt.Fprintf(c.out, "  Win rate:         %.1f%%\n", m.WinRate*100)
	fmt.Fprintf(c.out, "  Avg win / loss:   $%.4f / $%.4f\n", m.AvgWin, m.AvgLoss)
	fmt.Fprintf(c.out, "  Profit factor:    %s\n", ratioLabel(m.ProfitFactor))

	fmt.Fprintf(c.out, "\n  --- RISK ---\n")
	fmt.Fprintf(c.out, "  Sharpe ratio:     %s\n", ratioLabel(m.SharpeRatio))
	fmt.Fprintf(c.out, "  Sortino ratio:    %s\n", ratioLabel(m.SortinoRatio))

	fmt.Fprintf(c.out, "\n  --- VERDICT ---\n")
	switch {
	case m.TotalTrades == 0:
		fmt.Fprintf(c.out, "  No closed trades yet.\n")
	case m.TotalReturnPct > 0 && m.WinRate >= 0.5:
		fmt.Fprintf(c.out, "  POSITIVE: net profitable with a solid win rate.\n")
	case m.TotalReturnPct > 0:
		fmt.Fprintf(c.out, "  MARGINAL: profitable but the win rate is below 50%%.\n")
	default:
		fmt.Fprintf(c.out, "  NEGATIVE: the session lost money. Review the parameters.\n")
	}
	fmt.Fprintln(c.out)
}

func topReasons(reasons []string, n int) string {
	if len(reasons) > n {
		reasons = reasons[:n]
	}
	return strings.Join(reasons, "; ")
}

func ratioLabel(v float64) string {
	if math.IsInf(v, 1) {
		return "INF"
	}
	if math.IsInf(v, -1) {
		return "-INF"
	}
	return fmt.Sprintf("%.2f", v)
}
