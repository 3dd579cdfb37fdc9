package binance

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/coinbot/internal/domain"
)

// Endpoints públicos de market data y su mapeo al dominio.
// El resto del sistema solo ve los tipos de domain; los structs wire de
// Binance (todo strings) no salen de este paquete.

// priceTicker es la respuesta de /api/v3/ticker/price.
type priceTicker struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// ticker24h es la respuesta de /api/v3/ticker/24hr.
type ticker24h struct {
	Symbol             string `json:"symbol"`
	Volume             string `json:"volume"`
	QuoteVolume        string `json:"quoteVolume"`
	PriceChangePercent string `json:"priceChangePercent"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	OpenPrice          string `json:"openPrice"`
	LastPrice          string `json:"lastPrice"`
	Count              int64  `json:"count"`
}

// GetPrice devuelve el último precio del símbolo.
func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	op := "GetPrice " + symbol
	u := fmt.Sprintf("%s/api/v3/ticker/price?symbol=%s", c.baseURL, url.QueryEscape(symbol))

	var t priceTicker
	if err := c.get(ctx, c.tickerLimiter, op, u, &t); err != nil {
		return 0, err
	}
	price, err := strconv.ParseFloat(t.Price, 64)
	if err != nil {
		return 0, &FetchError{Kind: Transient, Op: op, Err: fmt.Errorf("parse price %q: %w", t.Price, err)}
	}
	return price, nil
}

// Get24hStats devuelve las estadísticas de 24 horas del símbolo.
func (c *Client) Get24hStats(ctx context.Context, symbol string) (domain.Stats24h, error) {
	op := "Get24hStats " + symbol
	u := fmt.Sprintf("%s/api/v3/ticker/24hr?symbol=%s", c.baseURL, url.QueryEscape(symbol))

	var t ticker24h
	if err := c.get(ctx, c.tickerLimiter, op, u, &t); err != nil {
		return domain.Stats24h{}, err
	}
	return mapStats(t), nil
}

// GetCandles devuelve hasta limit velas del timeframe, la más reciente al final.
func (c *Client) GetCandles(ctx context.Context, symbol string, tf domain.Timeframe, limit int) ([]domain.Candle, error) {
	op := fmt.Sprintf("GetCandles %s %s", symbol, tf)
	u := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=%s&limit=%d",
		c.baseURL, url.QueryEscape(symbol), tf, limit)

	// Cada kline llega como array mixto: [openTime, "open", "high", ...].
	var raw [][]any
	if err := c.get(ctx, c.klinesLimiter, op, u, &raw); err != nil {
		return nil, err
	}

	candles := make([]domain.Candle, 0, len(raw))
	for _, k := range raw {
		if len(k) < 6 {
			return nil, &FetchError{Kind: Transient, Op: op,
				Err: fmt.Errorf("malformed kline with %d fields", len(k))}
		}
		candle, err := mapCandle(k)
		if err != nil {
			return nil, &FetchError{Kind: Transient, Op: op, Err: err}
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// GetDailyCandles es el atajo para velas diarias.
func (c *Client) GetDailyCandles(ctx context.Context, symbol string, limit int) ([]domain.Candle, error) {
	return c.GetCandles(ctx, symbol, domain.TF1d, limit)
}

// GetExchangeSymbols devuelve los tickers de 24h de todos los símbolos
// contra quoteAsset, ordenados por quote volume descendente. Es el input
// del selector de instrumentos; endpoint pesado, presupuesto propio.
func (c *Client) GetExchangeSymbols(ctx context.Context, quoteAsset string) ([]domain.Stats24h, error) {
	op := "GetExchangeSymbols " + quoteAsset
	u := c.baseURL + "/api/v3/ticker/24hr"

	var all []ticker24h
	if err := c.get(ctx, c.bulkLimiter, op, u, &all); err != nil {
		return nil, err
	}

	var stats []domain.Stats24h
	for _, t := range all {
		if !strings.HasSuffix(t.Symbol, quoteAsset) {
			continue
		}
		stats = append(stats, mapStats(t))
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].QuoteVolume > stats[j].QuoteVolume
	})
	return stats, nil
}

func mapStats(t ticker24h) domain.Stats24h {
	return domain.Stats24h{
		Symbol:         t.Symbol,
		Volume:         parseF(t.Volume),
		QuoteVolume:    parseF(t.QuoteVolume),
		PriceChangePct: parseF(t.PriceChangePercent),
		High:           parseF(t.HighPrice),
		Low:            parseF(t.LowPrice),
		Open:           parseF(t.OpenPrice),
		Last:           parseF(t.LastPrice),
		TradeCount:     t.Count,
	}
}

func mapCandle(k []any) (domain.Candle, error) {
	openTime, ok := k[0].(float64)
	if !ok {
		return domain.Candle{}, fmt.Errorf("kline open time is %T", k[0])
	}
	fields := make([]float64, 5)
	for i := 1; i <= 5; i++ {
		s, ok := k[i].(string)
		if !ok {
			return domain.Candle{}, fmt.Errorf("kline field %d is %T", i, k[i])
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return domain.Candle{}, fmt.Errorf("kline field %d: %w", i, err)
		}
		fields[i-1] = v
	}
	return domain.Candle{
		OpenTime: time.UnixMilli(int64(openTime)),
		Open:     fields[0],
		High:     fields[1],
		Low:      fields[2],
		Close:    fields[3],
		Volume:   fields[4],
	}, nil
}

func parseF(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
