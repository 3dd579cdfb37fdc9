package domain

// Indicadores técnicos puros sobre series de cierres.
//
// Todas las funciones devuelven ErrInsufficientHistory cuando la serie no
// alcanza el mínimo del indicador; el caller decide si eso degrada el
// análisis o lo aborta. Nada de mapas dinámicos: cada análisis se vuelca
// en el struct TimeframeAnalysis.

const srLookback = 50 // ventana de soporte/resistencia

// RSI calcula el Relative Strength Index sobre medias simples de ganancias
// y pérdidas del periodo. Devuelve 100 cuando no hubo pérdidas.
func RSI(closes []float64, period int) (float64, error) {
	if period <= 0 || len(closes) < period+1 {
		return 0, ErrInsufficientHistory
	}
	var gains, losses float64
	for i := len(closes) - period; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100, nil
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs)), nil
}

// EMA calcula la media móvil exponencial recursiva de toda la serie.
func EMA(closes []float64, period int) (float64, error) {
	if period <= 0 || len(closes) < period {
		return 0, ErrInsufficientHistory
	}
	k := 2.0 / float64(period+1)
	ema := closes[0]
	for _, price := range closes[1:] {
		ema = price*k + ema*(1-k)
	}
	return ema, nil
}

// MACD es la diferencia entre la EMA rápida y la lenta.
func MACD(closes []float64, fast, slow int) (float64, error) {
	if len(closes) < slow {
		return 0, ErrInsufficientHistory
	}
	emaFast, err := EMA(closes, fast)
	if err != nil {
		return 0, err
	}
	emaSlow, err := EMA(closes, slow)
	if err != nil {
		return 0, err
	}
	return emaFast - emaSlow, nil
}

// SMA es la media móvil simple de los últimos period cierres.
func SMA(closes []float64, period int) (float64, error) {
	if period <= 0 || len(closes) < period {
		return 0, ErrInsufficientHistory
	}
	var sum float64
	for _, price := range closes[len(closes)-period:] {
		sum += price
	}
	return sum / float64(period), nil
}

// SupportResistance devuelve el mínimo y el máximo de los últimos 50
// cierres (o de toda la serie si es más corta pero tiene al menos 20).
func SupportResistance(closes []float64) (support, resistance float64, err error) {
	if len(closes) < 20 {
		return 0, 0, ErrInsufficientHistory
	}
	window := closes
	if len(window) > srLookback {
		window = window[len(window)-srLookback:]
	}
	support, resistance = window[0], window[0]
	for _, price := range window[1:] {
		if price < support {
			support = price
		}
		if price > resistance {
			resistance = price
		}
	}
	return support, resistance, nil
}

// TrendOf clasifica la tendencia: alcista si EMA20 > EMA50 con el precio
// confirmando por encima, bajista en el espejo, lateral en el resto.
func TrendOf(price, ema20, ema50 float64) Trend {
	switch {
	case ema20 > ema50 && price > ema20:
		return Uptrend
	case ema20 < ema50 && price < ema20:
		return Downtrend
	default:
		return Sideways
	}
}
