package domain

import "time"

// Snapshot es el estado de mercado acumulado de un instrumento.
// Lo posee en exclusiva market.Cache: solo el handler de fin de fetch lo muta,
// el resto de componentes lo lee.
type Snapshot struct {
	Symbol    string
	LastPrice float64
	Stats     Stats24h
	Closes    []float64 // ring acotado, el más reciente al final
	Volumes   []float64 // paralelo a Closes, truncado a la misma longitud
	UpdatedAt time.Time
}

// Stats24h son las estadísticas de 24 horas que expone el exchange.
type Stats24h struct {
	Symbol         string
	Volume         float64
	QuoteVolume    float64
	PriceChangePct float64
	High           float64
	Low            float64
	Open           float64
	Last           float64
	TradeCount     int64
}

// Candle es una vela OHLCV de un timeframe cualquiera.
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// CloseSeries extrae la serie de cierres de una ventana de velas.
func CloseSeries(candles []Candle) []float64 {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	return closes
}
