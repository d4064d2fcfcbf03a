package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"nft_auction/internal/domain"
)

// Oracle kinds.
const (
	OracleStatic = "static"
	OracleHTTP   = "http"
)

// Config는 애플리케이션의 모든 설정을 담습니다.
// LoadConfig로 로드된 후에 환경 변수를 통해 민감 내용을 덮어씁니다.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Auction struct {
		Operator      string `yaml:"operator"`
		EscrowAccount string `yaml:"escrow_account"`
		Shards        int    `yaml:"shards"`
		InboxSize     int    `yaml:"inbox_size"`
		DumpPath      string `yaml:"dump_path"`
	} `yaml:"auction"`

	Server struct {
		HTTPAddr  string `yaml:"http_addr"`
		PprofAddr string `yaml:"pprof_addr"`
	} `yaml:"server"`

	Storage struct {
		DBPath string `yaml:"db_path"`
	} `yaml:"storage"`

	NATS struct {
		Enabled bool   `yaml:"enabled"`
		URL     string `yaml:"url"`
		Stream  string `yaml:"stream"`
		Subject string `yaml:"subject"`
	} `yaml:"nats"`

	Oracles []OracleConfig `yaml:"oracles"`

	// Feeds maps an asset address to an oracle ref. Applied at startup only
	// when the asset has no persisted feed.
	Feeds map[string]string `yaml:"feeds"`

	Sim SimConfig `yaml:"sim"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// OracleConfig describes one price source.
type OracleConfig struct {
	Ref             string          `yaml:"ref"`
	Kind            string          `yaml:"kind"` // static | http
	Price           decimal.Decimal `yaml:"price"`
	Decimals        int32           `yaml:"decimals"`
	URL             string          `yaml:"url"`
	PollIntervalSec int             `yaml:"poll_interval_sec"`
	MaxAgeSec       int             `yaml:"max_age_sec"`
}

// PollInterval returns the poll interval as a duration.
func (o OracleConfig) PollInterval() time.Duration {
	return time.Duration(o.PollIntervalSec) * time.Second
}

// MaxAge returns the staleness bound as a duration.
func (o OracleConfig) MaxAge() time.Duration {
	return time.Duration(o.MaxAgeSec) * time.Second
}

// SimConfig seeds the simulated token and item contracts.
type SimConfig struct {
	Balances []struct {
		Account string          `yaml:"account"`
		Asset   string          `yaml:"asset"`
		Amount  decimal.Decimal `yaml:"amount"`
	} `yaml:"balances"`
	Items []struct {
		Contract string `yaml:"contract"`
		TokenID  string `yaml:"token_id"`
		Owner    string `yaml:"owner"`
	} `yaml:"items"`
}

// LoadConfig는 설정 파일을 읽고 파싱합니다.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &domain.ConfigError{Field: "path", Err: fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)}
		}
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML, applies defaults and env overrides, then validates.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &domain.ConfigError{Field: "yaml", Err: err}
	}

	cfg.applyDefaults()

	// 보안 우선 - 환경 변수 오버라이드 지원
	overrideWithEnv(&cfg)

	// 설정 유효성 검사
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "nft-auction"
	}
	if c.Auction.Shards <= 0 {
		c.Auction.Shards = 4
	}
	if c.Auction.InboxSize <= 0 {
		c.Auction.InboxSize = 256
	}
	if c.Auction.DumpPath == "" {
		c.Auction.DumpPath = "panic_dump.json"
	}
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.NATS.Stream == "" {
		c.NATS.Stream = "AUCTION_EVENTS"
	}
	if c.NATS.Subject == "" {
		c.NATS.Subject = "auction.events"
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = "logs"
	}
	for i := range c.Oracles {
		if c.Oracles[i].Kind == "" {
			c.Oracles[i].Kind = OracleStatic
		}
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if domain.NewAddress(c.Auction.Operator).IsZero() {
		return &domain.ConfigError{Field: "auction.operator", Err: errors.New("operator address is required")}
	}
	if domain.NewAddress(c.Auction.EscrowAccount).IsZero() {
		return &domain.ConfigError{Field: "auction.escrow_account", Err: errors.New("escrow account is required")}
	}

	refs := make(map[string]bool, len(c.Oracles))
	for i, o := range c.Oracles {
		field := fmt.Sprintf("oracles[%d]", i)
		if o.Ref == "" {
			return &domain.ConfigError{Field: field + ".ref", Err: errors.New("ref is required")}
		}
		if refs[o.Ref] {
			return &domain.ConfigError{Field: field + ".ref", Err: fmt.Errorf("duplicate ref %q", o.Ref)}
		}
		refs[o.Ref] = true

		if o.Decimals < 0 || o.Decimals > 36 {
			return &domain.ConfigError{Field: field + ".decimals", Err: fmt.Errorf("out of range: %d", o.Decimals)}
		}
		switch o.Kind {
		case OracleStatic:
			if !o.Price.IsPositive() {
				return &domain.ConfigError{Field: field + ".price", Err: errors.New("static price must be positive")}
			}
		case OracleHTTP:
			if !hasPrefix(o.URL, "http://") && !hasPrefix(o.URL, "https://") {
				return &domain.ConfigError{Field: field + ".url", Err: fmt.Errorf("invalid URL: %s", o.URL)}
			}
		default:
			return &domain.ConfigError{Field: field + ".kind", Err: fmt.Errorf("unknown kind %q", o.Kind)}
		}
	}

	for asset, ref := range c.Feeds {
		if !refs[ref] {
			return &domain.ConfigError{Field: "feeds." + asset, Err: fmt.Errorf("%w: %s", domain.ErrUnknownOracle, ref)}
		}
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return &domain.ConfigError{Field: "nats.url", Err: errors.New("url is required when nats is enabled")}
	}

	return nil
}

func hasPrefix(s, prefix string) bool {
	return strings.HasPrefix(s, prefix)
}

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
func overrideWithEnv(cfg *Config) {
	if op := os.Getenv("AUCTION_OPERATOR"); op != "" {
		cfg.Auction.Operator = op
	}
	if path := os.Getenv("AUCTION_DB_PATH"); path != "" {
		cfg.Storage.DBPath = path
	}
	if url := os.Getenv("AUCTION_NATS_URL"); url != "" {
		cfg.NATS.URL = url
		cfg.NATS.Enabled = true
	}
	if addr := os.Getenv("AUCTION_HTTP_ADDR"); addr != "" {
		cfg.Server.HTTPAddr = addr
	}
}
