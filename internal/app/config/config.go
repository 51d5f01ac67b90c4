// Package config loads the service configuration from the environment.
package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"stock_ingest/internal/feature/bars/domain/entity"
	"stock_ingest/internal/platform/clickhouse"
	"stock_ingest/internal/platform/db"
	"stock_ingest/internal/platform/events"
	"stock_ingest/internal/platform/externalapi/polygon"
	"stock_ingest/internal/platform/externalapi/twelvedata"
	"stock_ingest/internal/platform/externalapi/yahoo"
	"stock_ingest/internal/platform/logger"
	"stock_ingest/internal/platform/redis"
	"stock_ingest/internal/platform/scheduler"
)

// Provider names accepted in MARKET_PROVIDERS.
const (
	ProviderYahoo      = "yahoo"
	ProviderTwelveData = "twelvedata"
	ProviderPolygon    = "polygon"
)

// Store backends accepted in STORE_BACKEND.
const (
	StoreSQL        = "sql"
	StoreClickHouse = "clickhouse"
)

// Universe sources accepted in UNIVERSE_SOURCE.
const (
	UniverseFile = "file"
	UniverseDB   = "db"
)

// Config はシステム全体の設定です。ネストされた構造体はプレフィックス付きで読み込まれます（例: DB_HOST）。
type Config struct {
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`
	JWTSecret   string `envconfig:"JWT_SECRET"`
	DatabaseURL string `envconfig:"DATABASE_URL"`

	// Markets ingested by the scheduled job, in order.
	Markets []string `envconfig:"MARKETS" default:"usa" validate:"min=1,dive,required"`
	// MarketProviders maps a market to the upstream serving it, e.g. "usa:yahoo,japan:twelvedata".
	MarketProviders map[string]string `envconfig:"MARKET_PROVIDERS" default:"usa:yahoo,germany:yahoo,crypto:yahoo,japan:twelvedata" validate:"dive,oneof=yahoo twelvedata polygon"`

	StartDate string `envconfig:"START_DATE" default:"2020-01-01" validate:"datetime=2006-01-02"`
	// Empty means the run date.
	EndDate string `envconfig:"END_DATE" validate:"omitempty,datetime=2006-01-02"`

	PacingDelay  time.Duration `envconfig:"PACING_DELAY" default:"2s" validate:"gte=0"`
	FetchTimeout time.Duration `envconfig:"FETCH_TIMEOUT" default:"60s" validate:"gt=0"`
	StoreTimeout time.Duration `envconfig:"STORE_TIMEOUT" default:"30s" validate:"gt=0"`

	StoreBackend      string        `envconfig:"STORE_BACKEND" default:"sql" validate:"oneof=sql clickhouse"`
	StoreBatchSize    int           `envconfig:"STORE_BATCH_SIZE" default:"500" validate:"gte=0"`
	UniverseSource    string        `envconfig:"UNIVERSE_SOURCE" default:"file" validate:"oneof=file db"`
	StockListDir      string        `envconfig:"STOCK_LIST_DIR" default:"resources/stock_list"`
	ColumnMappingFile string        `envconfig:"COLUMN_MAPPING_FILE"`
	CacheTTL          time.Duration `envconfig:"CACHE_TTL"`
	LockTTL           time.Duration `envconfig:"LOCK_TTL" default:"6h"`
	ArchiveDir        string        `envconfig:"ARCHIVE_DIR"`
	ArchiveFormat     string        `envconfig:"ARCHIVE_FORMAT" default:"parquet" validate:"oneof=parquet csv json"`

	Log        logger.Config     `envconfig:"LOG"`
	DB         db.Config         `envconfig:"DB"`
	Redis      redis.Config      `envconfig:"REDIS"`
	ClickHouse clickhouse.Config `envconfig:"CLICKHOUSE"`
	Kafka      events.Config     `envconfig:"KAFKA"`
	Schedule   scheduler.Config  `envconfig:"SCHEDULE"`
	TwelveData twelvedata.Config `envconfig:"TWELVE_DATA"`
	Polygon    polygon.Config    `envconfig:"POLYGON"`
	Yahoo      yahoo.Config      `envconfig:"YAHOO"`
}

var validate = validator.New()

// Load は .env と環境変数から設定を読み込み、検証して返します。
func Load() (*Config, error) {
	// .env が存在しない環境（本番など）もあるためエラーは無視する
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.DatabaseURL != "" {
		cfg.DB.URL = cfg.DatabaseURL
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if _, err := cfg.MarketIDs(); err != nil {
		return nil, err
	}
	if _, _, err := cfg.Window(time.Now()); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MarketIDs returns the configured markets, normalized and de-duplicated in order.
func (c *Config) MarketIDs() ([]entity.Market, error) {
	seen := make(map[entity.Market]struct{}, len(c.Markets))
	out := make([]entity.Market, 0, len(c.Markets))
	for _, s := range c.Markets {
		m, err := entity.ParseMarket(s)
		if err != nil {
			return nil, fmt.Errorf("MARKETS: %w", err)
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out, nil
}

// Providers returns the provider of each market, sorted by market for stable wiring.
func (c *Config) Providers() ([]MarketProvider, error) {
	out := make([]MarketProvider, 0, len(c.MarketProviders))
	for k, v := range c.MarketProviders {
		m, err := entity.ParseMarket(k)
		if err != nil {
			return nil, fmt.Errorf("MARKET_PROVIDERS: %w", err)
		}
		out = append(out, MarketProvider{Market: m, Provider: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Market < out[j].Market })
	return out, nil
}

// MarketProvider pairs a market with its upstream.
type MarketProvider struct {
	Market   entity.Market
	Provider string
}

// Window returns the scheduled ingestion window. Without END_DATE the window ends on now's UTC date.
func (c *Config) Window(now time.Time) (time.Time, time.Time, error) {
	start, err := entity.ParseDate(c.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("START_DATE: %w", err)
	}
	end := entity.DateOf(now.UTC())
	if c.EndDate != "" {
		if end, err = entity.ParseDate(c.EndDate); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("END_DATE: %w", err)
		}
	}
	return start, end, nil
}
