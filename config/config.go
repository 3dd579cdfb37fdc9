package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del bot.
type Config struct {
	Bot       BotConfig       `yaml:"bot"`
	Risk      RiskConfig      `yaml:"risk"`
	Strategy  StrategyConfig  `yaml:"strategy"`
	ML        MLConfig        `yaml:"ml"`
	Selection SelectionConfig `yaml:"selection"`
	API       APIConfig       `yaml:"api"`
	Storage   StorageConfig   `yaml:"storage"`
	Log       LogConfig       `yaml:"log"`
}

// BotConfig controla el loop principal y la contabilidad diaria.
type BotConfig struct {
	IntervalSeconds   int      `yaml:"interval_seconds"`
	Instruments       []string `yaml:"instruments"`
	QuoteAsset        string   `yaml:"quote_asset"`
	Simulation        bool     `yaml:"simulation"` // true = paper trading, nunca órdenes reales
	InitialCapital    float64  `yaml:"initial_capital"`
	FeeRate           float64  `yaml:"fee_rate"` // round-trip total, mitad por lado
	Slippage          float64  `yaml:"slippage"`
	MaxTradesPerDay   int      `yaml:"max_trades_per_day"`
	DailyProfitTarget float64  `yaml:"daily_profit_target"` // fracción del capital inicial
	DailyLossLimit    float64  `yaml:"daily_loss_limit"`
	MinCapital        float64  `yaml:"min_capital"`
	BuyConfidence     float64  `yaml:"buy_confidence"`  // confianza mínima para abrir
	SellConfidence    float64  `yaml:"sell_confidence"` // confianza mínima para cerrar por señal
	CooldownCycles    int      `yaml:"cooldown_cycles"` // ciclos degradados consecutivos antes de enfriar
}

// RiskConfig agrupa los parámetros del motor de sizing y riesgo.
// Los valores mágicos del original (clamp de Kelly 0.25, half-Kelly 0.5)
// se preservan como configuración, no se reinterpretan.
type RiskConfig struct {
	RiskPerTrade        float64            `yaml:"risk_per_trade"`
	MaxPositionFraction float64            `yaml:"max_position_fraction"`
	MaxPortfolioRisk    float64            `yaml:"max_portfolio_risk"` // techo de riesgo de correlación
	MaxPositions        int                `yaml:"max_positions"`
	KellyCap            float64            `yaml:"kelly_cap"`
	KellyFraction       float64            `yaml:"kelly_fraction"`
	MinTradesForKelly   int                `yaml:"min_trades_for_kelly"`
	TrailingActivation  float64            `yaml:"trailing_activation"`
	TrailingDistance    float64            `yaml:"trailing_distance"`
	RiskFreeRate        float64            `yaml:"risk_free_rate"`
	DefaultWeight       float64            `yaml:"default_weight"` // peso máximo por símbolo sin entrada explícita
	SymbolWeights       map[string]float64 `yaml:"symbol_weights"`
	Correlations        []CorrelationPair  `yaml:"correlations"`
	DefaultCorrelation  float64            `yaml:"default_correlation"`
}

// CorrelationPair fija la correlación estática entre dos símbolos.
type CorrelationPair struct {
	A     string  `yaml:"a"`
	B     string  `yaml:"b"`
	Value float64 `yaml:"value"`
}

// StrategyConfig controla la fusión multi-timeframe.
type StrategyConfig struct {
	HistorySize     int `yaml:"history_size"`
	CandleLimit     int `yaml:"candle_limit"`
	CacheTTLSeconds int `yaml:"cache_ttl_seconds"`
	RSIPeriod       int `yaml:"rsi_period"` // punto de partida; el motor lo adapta en [8,20]
}

// MLConfig controla el clasificador consultivo.
type MLConfig struct {
	Enabled              bool    `yaml:"enabled"`
	MinConfidence        float64 `yaml:"min_confidence"`
	Weight               float64 `yaml:"weight"` // peso del voto ML en la fusión
	TrainIntervalSeconds int     `yaml:"train_interval_seconds"`
	MinSamples           int     `yaml:"min_samples"`
	Horizon              int     `yaml:"horizon"`   // pasos hacia delante del target
	Threshold            float64 `yaml:"threshold"` // retorno futuro mínimo para etiquetar
}

// SelectionConfig controla la rotación automática de instrumentos.
type SelectionConfig struct {
	Enabled          bool     `yaml:"enabled"`
	IntervalSeconds  int      `yaml:"interval_seconds"`
	MaxInstruments   int      `yaml:"max_instruments"`
	MinQuoteVolume   float64  `yaml:"min_quote_volume"`
	MinVolatilityPct float64  `yaml:"min_volatility_pct"`
	Blacklist        []string `yaml:"blacklist"`
}

// APIConfig contiene el endpoint y los presupuestos de requests.
type APIConfig struct {
	BaseURL           string `yaml:"base_url"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
}

// StorageConfig controla dónde se persiste el estado.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el .env si existe.
// Las variables de entorno sobreescriben el YAML para las keys soportadas.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// Interval devuelve el intervalo de ciclo como time.Duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Bot.IntervalSeconds) * time.Second
}

// TTL devuelve el TTL de la cache de análisis.
func (s StrategyConfig) TTL() time.Duration {
	return time.Duration(s.CacheTTLSeconds) * time.Second
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("COINBOT_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("COINBOT_SIMULATION"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Bot.Simulation = b
		}
	}
}

func setDefaults(cfg *Config) {
	if cfg.Bot.IntervalSeconds <= 0 {
		cfg.Bot.IntervalSeconds = 60
	}
	if len(cfg.Bot.Instruments) == 0 {
		cfg.Bot.Instruments = []string{"BTCUSDT"}
	}
	if cfg.Bot.QuoteAsset == "" {
		cfg.Bot.QuoteAsset = "USDT"
	}
	if cfg.Bot.InitialCapital <= 0 {
		cfg.Bot.InitialCapital = 100
	}
	if cfg.Bot.FeeRate <= 0 {
		cfg.Bot.FeeRate = 0.002
	}
	if cfg.Bot.Slippage <= 0 {
		cfg.Bot.Slippage = 0.0005
	}
	if cfg.Bot.MaxTradesPerDay <= 0 {
		cfg.Bot.MaxTradesPerDay = 3
	}
	if cfg.Bot.DailyProfitTarget <= 0 {
		cfg.Bot.DailyProfitTarget = 0.10
	}
	if cfg.Bot.DailyLossLimit <= 0 {
		cfg.Bot.DailyLossLimit = 0.05
	}
	if cfg.Bot.MinCapital <= 0 {
		cfg.Bot.MinCapital = 5.0
	}
	if cfg.Bot.BuyConfidence <= 0 {
		cfg.Bot.BuyConfidence = 0.5
	}
	if cfg.Bot.SellConfidence <= 0 {
		cfg.Bot.SellConfidence = 0.5
	}
	if cfg.Bot.CooldownCycles <= 0 {
		cfg.Bot.CooldownCycles = 3
	}

	if cfg.Risk.RiskPerTrade <= 0 {
		cfg.Risk.RiskPerTrade = 0.02
	}
	if cfg.Risk.MaxPositionFraction <= 0 {
		cfg.Risk.MaxPositionFraction = 0.15
	}
	if cfg.Risk.MaxPortfolioRisk <= 0 {
		cfg.Risk.MaxPortfolioRisk = 0.10
	}
	if cfg.Risk.MaxPositions <= 0 {
		cfg.Risk.MaxPositions = 5
	}
	if cfg.Risk.KellyCap <= 0 {
		cfg.Risk.KellyCap = 0.25
	}
	if cfg.Risk.KellyFraction <= 0 {
		cfg.Risk.KellyFraction = 0.5
	}
	if cfg.Risk.MinTradesForKelly <= 0 {
		cfg.Risk.MinTradesForKelly = 10
	}
	if cfg.Risk.TrailingActivation <= 0 {
		cfg.Risk.TrailingActivation = 0.02
	}
	if cfg.Risk.TrailingDistance <= 0 {
		cfg.Risk.TrailingDistance = 0.01
	}
	if cfg.Risk.RiskFreeRate <= 0 {
		cfg.Risk.RiskFreeRate = 0.02
	}
	if cfg.Risk.DefaultWeight <= 0 {
		cfg.Risk.DefaultWeight = 0.20
	}
	if cfg.Risk.DefaultCorrelation <= 0 {
		cfg.Risk.DefaultCorrelation = 0.3
	}

	if cfg.Strategy.HistorySize <= 0 {
		cfg.Strategy.HistorySize = 500
	}
	if cfg.Strategy.CandleLimit <= 0 {
		cfg.Strategy.CandleLimit = 100
	}
	if cfg.Strategy.CacheTTLSeconds <= 0 {
		cfg.Strategy.CacheTTLSeconds = 60
	}
	if cfg.Strategy.RSIPeriod <= 0 {
		cfg.Strategy.RSIPeriod = 14
	}

	if cfg.ML.MinConfidence <= 0 {
		cfg.ML.MinConfidence = 0.7
	}
	if cfg.ML.Weight <= 0 {
		cfg.ML.Weight = 0.2
	}
	if cfg.ML.TrainIntervalSeconds <= 0 {
		cfg.ML.TrainIntervalSeconds = 3600
	}
	if cfg.ML.MinSamples <= 0 {
		cfg.ML.MinSamples = 200
	}
	if cfg.ML.Horizon <= 0 {
		cfg.ML.Horizon = 5
	}
	if cfg.ML.Threshold <= 0 {
		cfg.ML.Threshold = 0.005
	}

	if cfg.Selection.IntervalSeconds <= 0 {
		cfg.Selection.IntervalSeconds = 3600
	}
	if cfg.Selection.MaxInstruments <= 0 {
		cfg.Selection.MaxInstruments = 5
	}
	if cfg.Selection.MinQuoteVolume <= 0 {
		cfg.Selection.MinQuoteVolume = 1_000_000
	}
	if cfg.Selection.MinVolatilityPct <= 0 {
		cfg.Selection.MinVolatilityPct = 5.0
	}

	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = "https://api.binance.com"
	}
	if cfg.API.RequestsPerMinute <= 0 {
		cfg.API.RequestsPerMinute = 1200
	}

	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "coinbot.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

func validate(cfg *Config) error {
	if cfg.Risk.MaxPositionFraction > 1 {
		return fmt.Errorf("risk.max_position_fraction %.2f fuera de (0,1]", cfg.Risk.MaxPositionFraction)
	}
	if cfg.Bot.FeeRate >= 0.1 {
		return fmt.Errorf("bot.fee_rate %.4f no es plausible", cfg.Bot.FeeRate)
	}
	return nil
}
