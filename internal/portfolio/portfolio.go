// Package portfolio lleva la contabilidad del portfolio simulado:
// cash, posiciones vivas, control de admisión y límites diarios.
package portfolio

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/coinbot/config"
	"github.com/alejandrodnm/coinbot/internal/domain"
)

// Razones de denegación de admisión, en el orden en que se evalúan.
const (
	DenyMaxPositions = "max positions reached"
	DenyAlreadyOpen  = "position already open"
	DenyNoCash       = "insufficient cash"
	DenySymbolWeight = "symbol weight exceeded"
	DenyCorrelation  = "correlated exposure too high"
)

// Portfolio es el estado contable del bot. Un único goroutine (la fase
// de decisión del ciclo) lo muta; las lecturas concurrentes van por el
// mutex y devuelven copias.
type Portfolio struct {
	bot  config.BotConfig
	risk config.RiskConfig
	log  *slog.Logger

	mu             sync.Mutex
	cash           float64
	initialCapital float64
	positions      map[string]*domain.Position
	trades         []domain.TradeRecord
	equity         []domain.EquityPoint

	day           string // fecha YYYY-MM-DD de los contadores diarios
	tradesToday   int
	realizedToday float64
}

// New crea un portfolio con el capital inicial configurado.
func New(bot config.BotConfig, risk config.RiskConfig, log *slog.Logger) *Portfolio {
	return &Portfolio{
		bot:            bot,
		risk:           risk,
		log:            log,
		cash:           bot.InitialCapital,
		initialCapital: bot.InitialCapital,
		positions:      make(map[string]*domain.Position),
	}
}

// CanOpen aplica el control de admisión para una compra de coste cost en
// symbol. Devuelve la primera razón que falla, en orden fijo: techo de
// posiciones, posición ya abierta, cash, peso por símbolo y exposición
// correlacionada.
func (p *Portfolio) CanOpen(symbol string, cost float64) (bool, string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.positions) >= p.risk.MaxPositions {
		return false, DenyMaxPositions
	}
	if _, open := p.positions[symbol]; open {
		return false, DenyAlreadyOpen
	}
	if cost > p.cash {
		return false, DenyNoCash
	}

	total := p.totalValueLocked()
	if total > 0 && cost > p.symbolWeight(symbol)*total {
		return false, DenySymbolWeight
	}

	if total > 0 {
		wNew := cost / total
		var exposure float64
		for sym, pos := range p.positions {
			wExist := pos.Value() / total
			exposure += abs(p.correlation(symbol, sym)) * wExist * wNew
		}
		if exposure > p.risk.MaxPortfolioRisk {
			return false, DenyCorrelation
		}
	}
	return true, ""
}

// Open abre una posición a precio de mercado. El slippage encarece la
// entrada y la mitad del fee round-trip se cobra aquí; la otra mitad al
// cerrar. Falla con ErrInvalidTransition si el símbolo ya tiene posición
// y con ErrInsufficientCash si el coste no cabe en el cash disponible.
func (p *Portfolio) Open(symbol string, side domain.Side, price, qty, stop, take float64, at time.Time) (domain.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, open := p.positions[symbol]; open {
		return domain.Position{}, fmt.Errorf("portfolio.Open %s: %w", symbol, domain.ErrInvalidTransition)
	}

	entry := price * (1 + p.bot.Slippage)
	if side == domain.Short {
		entry = price * (1 - p.bot.Slippage)
	}
	cost := entry * qty
	fee := cost * p.bot.FeeRate / 2

	if cost+fee > p.cash {
		return domain.Position{}, fmt.Errorf("portfolio.Open %s: cost %.2f exceeds cash %.2f: %w",
			symbol, cost+fee, p.cash, domain.ErrInsufficientCash)
	}

	pos := &domain.Position{
		Symbol:     symbol,
		Side:       side,
		EntryPrice: entry,
		Quantity:   qty,
		EntryTime:  at,
		StopLoss:   stop,
		TakeProfit: take,
		EntryFee:   fee,
	}
	p.positions[symbol] = pos
	p.cash -= cost + fee

	p.log.Info("position opened", "symbol", symbol, "side", side,
		"entry", entry, "qty", qty, "stop", stop, "take", take, "cash", p.cash)
	return *pos, nil
}

// Close cierra la posición del símbolo a precio de mercado y devuelve el
// trade resultante, neto de fees y slippage. Falla con
// ErrInvalidTransition si no hay posición.
func (p *Portfolio) Close(symbol string, price float64, reason domain.ExitReason, at time.Time) (domain.TradeRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, open := p.positions[symbol]
	if !open {
		return domain.TradeRecord{}, fmt.Errorf("portfolio.Close %s: %w", symbol, domain.ErrInvalidTransition)
	}

	exit := price * (1 - p.bot.Slippage)
	if pos.Side == domain.Short {
		exit = price * (1 + p.bot.Slippage)
	}
	proceeds := exit * pos.Quantity
	exitFee := proceeds * p.bot.FeeRate / 2

	gross := (exit - pos.EntryPrice) * pos.Quantity
	if pos.Side == domain.Short {
		gross = (pos.EntryPrice - exit) * pos.Quantity
	}
	fees := pos.EntryFee + exitFee
	pnl := gross - fees

	cost := pos.EntryPrice * pos.Quantity
	var pnlPct float64
	if cost > 0 {
		pnlPct = pnl / cost * 100
	}

	trade := domain.TradeRecord{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Side:       pos.Side,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exit,
		Quantity:   pos.Quantity,
		EntryTime:  pos.EntryTime,
		ExitTime:   at,
		PnL:        pnl,
		PnLPct:     pnlPct,
		Fees:       fees,
		Slippage:   (price - exit) * pos.Quantity,
		Reason:     reason,
		Simulated:  p.bot.Simulation,
	}
	if pos.Side == domain.Short {
		trade.Slippage = (exit - price) * pos.Quantity
	}

	delete(p.positions, symbol)
	p.cash += proceeds - exitFee
	p.trades = append(p.trades, trade)

	p.rollover(at)
	p.tradesToday++
	p.realizedToday += pnl

	p.log.Info("position closed", "symbol", symbol, "reason", reason,
		"exit", exit, "pnl", pnl, "pnl_pct", pnlPct, "cash", p.cash)
	return trade, nil
}

// MarkPrices recalcula el PnL no realizado de cada posición con los
// últimos precios conocidos. Los símbolos ausentes conservan su marca.
func (p *Portfolio) MarkPrices(prices map[string]float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for sym, pos := range p.positions {
		if price, ok := prices[sym]; ok {
			pos.Mark(price)
		}
	}
}

// Position devuelve una copia de la posición viva del símbolo.
func (p *Portfolio) Position(symbol string) (domain.Position, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// Positions devuelve copias de todas las posiciones vivas, ordenadas por
// símbolo para que la salida sea estable.
func (p *Portfolio) Positions() []domain.Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// SetTrailingStop actualiza el trailing stop de la posición del símbolo.
func (p *Portfolio) SetTrailingStop(symbol string, stop float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pos, ok := p.positions[symbol]; ok {
		pos.TrailingStop = stop
	}
}

// TotalValue es cash más el valor corriente de las posiciones.
func (p *Portfolio) TotalValue() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalValueLocked()
}

// Cash devuelve el efectivo disponible.
func (p *Portfolio) Cash() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cash
}

// Trades devuelve una copia del historial de trades cerrados.
func (p *Portfolio) Trades() []domain.TradeRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.TradeRecord(nil), p.trades...)
}

// RecordEquity añade una muestra a la curva de equity y la devuelve.
func (p *Portfolio) RecordEquity(at time.Time) domain.EquityPoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	point := domain.EquityPoint{At: at, Value: p.totalValueLocked()}
	p.equity = append(p.equity, point)
	return point
}

// Equity devuelve una copia de la curva de equity de la sesión.
func (p *Portfolio) Equity() []domain.EquityPoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.EquityPoint(nil), p.equity...)
}

// State es la foto persistible del libro: lo justo para retomar una
// sesión interrumpida sin perder posiciones ni contadores diarios.
type State struct {
	Cash          float64           `json:"cash"`
	Positions     []domain.Position `json:"positions"`
	Day           string            `json:"day"`
	TradesToday   int               `json:"trades_today"`
	RealizedToday float64           `json:"realized_today"`
}

// State devuelve la foto actual del libro.
func (p *Portfolio) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := State{
		Cash:          p.cash,
		Day:           p.day,
		TradesToday:   p.tradesToday,
		RealizedToday: p.realizedToday,
	}
	for _, pos := range p.positions {
		st.Positions = append(st.Positions, *pos)
	}
	sort.Slice(st.Positions, func(i, j int) bool {
		return st.Positions[i].Symbol < st.Positions[j].Symbol
	})
	return st
}

// Restore repone una foto previa. Una foto con cash 0 y sin posiciones
// se ignora: el libro conserva el capital inicial.
func (p *Portfolio) Restore(st State) {
	if st.Cash <= 0 && len(st.Positions) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cash = st.Cash
	p.positions = make(map[string]*domain.Position, len(st.Positions))
	for _, pos := range st.Positions {
		pos := pos
		p.positions[pos.Symbol] = &pos
	}
	if st.Day != "" {
		p.day = st.Day
		p.tradesToday = st.TradesToday
		p.realizedToday = st.RealizedToday
	}
}

// Halted informa si la operativa del día está detenida y por qué: cupo
// de trades, objetivo de beneficio, límite de pérdida o capital mínimo.
// Las posiciones abiertas se siguen gestionando aunque esté detenida.
func (p *Portfolio) Halted(now time.Time) (bool, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rollover(now)

	if p.tradesToday >= p.bot.MaxTradesPerDay {
		return true, "daily trade cap reached"
	}
	if p.realizedToday >= p.bot.DailyProfitTarget*p.initialCapital {
		return true, "daily profit target reached"
	}
	if p.realizedToday <= -p.bot.DailyLossLimit*p.initialCapital {
		return true, "daily loss limit hit"
	}
	if p.totalValueLocked() < p.bot.MinCapital {
		return true, "capital below minimum"
	}
	return false, ""
}

// InRecovery informa si el día acumula pérdidas realizadas: el motor se
// vuelve más exigente con las entradas hasta recuperar.
func (p *Portfolio) InRecovery(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rollover(now)
	return p.realizedToday < -0.01
}

// TradesToday devuelve el número de trades cerrados hoy.
func (p *Portfolio) TradesToday(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rollover(now)
	return p.tradesToday
}

// RealizedToday devuelve el PnL realizado del día.
func (p *Portfolio) RealizedToday(now time.Time) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rollover(now)
	return p.realizedToday
}

// rollover resetea los contadores diarios al cambiar de fecha UTC.
// Requiere el mutex.
func (p *Portfolio) rollover(now time.Time) {
	day := now.UTC().Format("2006-01-02")
	if day != p.day {
		if p.day != "" {
			p.log.Info("daily counters reset", "day", day,
				"trades_yesterday", p.tradesToday, "realized_yesterday", p.realizedToday)
		}
		p.day = day
		p.tradesToday = 0
		p.realizedToday = 0
	}
}

func (p *Portfolio) totalValueLocked() float64 {
	total := p.cash
	for _, pos := range p.positions {
		total += pos.Value()
	}
	return total
}

func (p *Portfolio) symbolWeight(symbol string) float64 {
	if w, ok := p.risk.SymbolWeights[symbol]; ok {
		return w
	}
	return p.risk.DefaultWeight
}

// correlation busca el par en la tabla estática, en cualquier orden.
func (p *Portfolio) correlation(a, b string) float64 {
	for _, c := range p.risk.Correlations {
		if (c.A == a && c.B == b) || (c.A == b && c.B == a) {
			return c.Value
		}
	}
	return p.risk.DefaultCorrelation
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
