package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://api.binance.com"

	// Presupuesto global documentado de Binance: 1200 weight/min. La
	// ventana deslizante lo aplica de forma exacta; los limiters por
	// endpoint reparten el presupuesto para que klines no ahogue a los
	// tickers.
	defaultBudgetPerMinute = 1200
	tickerRatePerSec       = 20
	klinesRatePerSec       = 10
	bulkRatePerSec         = 1

	maxAttempts    = 3
	baseRetryWait  = 500 * time.Millisecond
	retryAfterWait = 5 * time.Second // default si el server no manda Retry-After
)

// Client es el fetcher HTTP de Binance con rate limiting exacto de ventana
// deslizante, retries acotados y clasificación tipada de fallos. Todas las
// lecturas son idempotentes: no hay deduplicación de requests concurrentes.
type Client struct {
	http          *http.Client
	baseURL       string
	window        *slidingWindow
	tickerLimiter *rate.Limiter
	klinesLimiter *rate.Limiter
	bulkLimiter   *rate.Limiter
}

// NewClient crea un Client contra baseURL. Si baseURL está vacío usa
// producción; si budgetPerMinute <= 0 usa el límite documentado.
func NewClient(baseURL string, budgetPerMinute int) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if budgetPerMinute <= 0 {
		budgetPerMinute = defaultBudgetPerMinute
	}
	return &Client{
		http:          &http.Client{Timeout: 10 * time.Second},
		baseURL:       baseURL,
		window:        newSlidingWindow(budgetPerMinute, time.Minute),
		tickerLimiter: rate.NewLimiter(tickerRatePerSec, 10),
		klinesLimiter: rate.NewLimiter(klinesRatePerSec, 5),
		bulkLimiter:   rate.NewLimiter(bulkRatePerSec, 1),
	}
}

// get hace un GET con rate limiting y retries, decodificando JSON en out.
func (c *Client) get(ctx context.Context, limiter *rate.Limiter, op, url string, out any) error {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		// Ventana global primero, luego el presupuesto del endpoint.
		if err := c.window.Wait(ctx); err != nil {
			return &FetchError{Kind: Transient, Op: op, Err: err}
		}
		if err := limiter.Wait(ctx); err != nil {
			return &FetchError{Kind: Transient, Op: op, Err: err}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return &FetchError{Kind: Permanent, Op: op, Err: err}
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			// timeout / connection reset → transitorio
			if attempt == maxAttempts-1 {
				return &FetchError{Kind: Transient, Op: op, Err: err}
			}
			if serr := c.sleepLinear(ctx, attempt); serr != nil {
				return &FetchError{Kind: Transient, Op: op, Err: serr}
			}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			err := json.NewDecoder(resp.Body).Decode(out)
			resp.Body.Close()
			if err != nil {
				return &FetchError{Kind: Transient, Status: resp.StatusCode, Op: op,
					Err: fmt.Errorf("decode response: %w", err)}
			}
			return nil

		case resp.StatusCode == http.StatusTooManyRequests:
			// El server manda el delay: se re-encola con esa espera.
			wait := retryAfterDelay(resp)
			resp.Body.Close()
			slog.Warn("rate limited by API", "op", op, "retry_after", wait, "attempt", attempt+1)
			if attempt == maxAttempts-1 {
				return &FetchError{Kind: Transient, Status: resp.StatusCode, Op: op,
					Err: fmt.Errorf("rate limited after %d attempts", maxAttempts)}
			}
			if err := sleepCtx(ctx, wait); err != nil {
				return &FetchError{Kind: Transient, Op: op, Err: err}
			}
			continue

		case resp.StatusCode == http.StatusUnavailableForLegalReasons:
			resp.Body.Close()
			return &FetchError{Kind: Permanent, Status: resp.StatusCode, Op: op,
				Err: fmt.Errorf("blocked for legal/geo reasons")}

		case resp.StatusCode >= 500:
			resp.Body.Close()
			if attempt == maxAttempts-1 {
				return &FetchError{Kind: Transient, Status: resp.StatusCode, Op: op,
					Err: fmt.Errorf("server error after %d attempts", maxAttempts)}
			}
			if err := c.sleepLinear(ctx, attempt); err != nil {
				return &FetchError{Kind: Transient, Op: op, Err: err}
			}
			continue

		default: // 4xx restantes: sin retry
			resp.Body.Close()
			return &FetchError{Kind: Permanent, Status: resp.StatusCode, Op: op,
				Err: fmt.Errorf("client error")}
		}
	}
	return &FetchError{Kind: Transient, Op: op, Err: fmt.Errorf("exhausted %d attempts", maxAttempts)}
}

// sleepLinear espera con backoff lineal (base × intento), respetando ctx.
func (c *Client) sleepLinear(ctx context.Context, attempt int) error {
	return sleepCtx(ctx, baseRetryWait*time.Duration(attempt+1))
}

func retryAfterDelay(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return retryAfterWait
}
