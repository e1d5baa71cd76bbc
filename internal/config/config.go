package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

// Config is the typed view over viper settings
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Ledger       LedgerConfig
	Tab          TabConfig
	OTP          OTPConfig
	Reminder     ReminderConfig
	Notification NotificationConfig
	Log          LogConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
}

// DSN returns the lib/pq connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return c.Host + ":" + c.Port
}

type JWTConfig struct {
	SecretKey string
}

// Asset describes how a tab currency is carried on the ledger
type Asset struct {
	// Token is the ERC-20 contract address; empty means the chain's native coin
	Token    string
	Decimals int32
}

func (a Asset) Native() bool {
	return a.Token == ""
}

type LedgerConfig struct {
	RPCURL            string
	ChainID           int64
	Confirmations     uint64
	Timeout           time.Duration
	SettlementAddress string
	Assets            map[string]Asset
}

type TabConfig struct {
	DefaultCurrency string
	DefaultPenalty  int
	DefaultScale    int32
	CurrencyScales  map[string]int32
}

// Scale returns the fixed decimal scale for a currency
func (c TabConfig) Scale(currency string) int32 {
	if s, ok := c.CurrencyScales[strings.ToUpper(currency)]; ok {
		return s
	}
	return c.DefaultScale
}

type OTPConfig struct {
	Length          int
	Expiry          time.Duration
	ResendLimit     int
	ResendWindow    time.Duration
	Pepper          string
	CleanupSchedule time.Duration
}

type ReminderConfig struct {
	Enabled     bool
	CronSpec    string
	Timezone    string
	Cooldown    time.Duration
	SendTimeout time.Duration
}

// Location resolves the configured timezone, falling back to UTC
func (c ReminderConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type NotificationConfig struct {
	WorkerPoolSize int
	PublishTimeout time.Duration
}

type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

var envBindings = map[string]string{
	"server.port":                  "PORT",
	"database.host":                "DATABASE_HOST",
	"database.port":                "DATABASE_PORT",
	"database.user":                "DATABASE_USER",
	"database.password":            "DATABASE_PASSWORD",
	"database.name":                "DATABASE_NAME",
	"database.ssl_mode":            "DATABASE_SSL_MODE",
	"redis.host":                   "REDIS_HOST",
	"redis.port":                   "REDIS_PORT",
	"redis.password":               "REDIS_PASSWORD",
	"redis.db":                     "REDIS_DB",
	"jwt.secret_key":               "JWT_SECRET_KEY",
	"ledger.rpc_url":               "LEDGER_RPC_URL",
	"ledger.chain_id":              "LEDGER_CHAIN_ID",
	"ledger.confirmations":         "LEDGER_CONFIRMATIONS",
	"ledger.settlement_address":    "LEDGER_SETTLEMENT_ADDRESS",
	"ledger.usdc_address":          "LEDGER_USDC_ADDRESS",
	"otp.pepper":                   "OTP_PEPPER",
	"reminder.enabled":             "REMINDER_ENABLED",
	"reminder.cron":                "REMINDER_CRON",
	"reminder.timezone":            "REMINDER_TIMEZONE",
	"log.level":                    "LOG_LEVEL",
	"log.file":                     "LOG_FILE",
	"notification.worker_pool":     "NOTIFICATION_WORKER_POOL",
	"tab.default_currency":         "TAB_DEFAULT_CURRENCY",
	"tab.default_penalty_bps":      "TAB_DEFAULT_PENALTY_BPS",
	"server.allowed_origins":       "ALLOWED_ORIGINS",
	"database.max_open_conns":      "DATABASE_MAX_OPEN_CONNS",
	"database.query_timeout":       "DATABASE_QUERY_TIMEOUT",
	"ledger.timeout":               "LEDGER_TIMEOUT",
	"notification.publish_timeout": "NOTIFICATION_PUBLISH_TIMEOUT",
}

func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.read_timeout", 15*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)
	viper.SetDefault("server.idle_timeout", 60*time.Second)
	viper.SetDefault("server.request_timeout", 25*time.Second)
	viper.SetDefault("server.shutdown_timeout", 30*time.Second)
	viper.SetDefault("server.allowed_origins", "https://*,http://*")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", "5432")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "password")
	viper.SetDefault("database.name", "ghosttab")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	viper.SetDefault("database.query_timeout", 5*time.Second)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", "6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("ledger.rpc_url", "https://mainnet.movementnetwork.xyz/v1")
	viper.SetDefault("ledger.chain_id", 126)
	viper.SetDefault("ledger.confirmations", 1)
	viper.SetDefault("ledger.timeout", 10*time.Second)
	viper.SetDefault("ledger.usdc_address", "")
	viper.SetDefault("ledger.usdc_decimals", 6)
	viper.SetDefault("ledger.native_symbol", "MOVE")
	viper.SetDefault("ledger.native_decimals", 18)

	viper.SetDefault("tab.default_currency", "MOVE")
	viper.SetDefault("tab.default_penalty_bps", 500)
	viper.SetDefault("tab.default_scale", 2)
	viper.SetDefault("tab.native_scale", 8)

	viper.SetDefault("otp.length", 6)
	viper.SetDefault("otp.expiry", 10*time.Minute)
	viper.SetDefault("otp.resend_limit", 3)
	viper.SetDefault("otp.resend_window", 10*time.Minute)
	viper.SetDefault("otp.cleanup_interval", time.Hour)

	viper.SetDefault("reminder.enabled", true)
	viper.SetDefault("reminder.cron", "0 9 * * *")
	viper.SetDefault("reminder.timezone", "UTC")
	viper.SetDefault("reminder.cooldown", 23*time.Hour)
	viper.SetDefault("reminder.send_timeout", 5*time.Second)

	viper.SetDefault("notification.worker_pool", 32)
	viper.SetDefault("notification.publish_timeout", 3*time.Second)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.file", "")
	viper.SetDefault("log.max_size_mb", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age_days", 28)
	viper.SetDefault("log.compress", true)
}

// ReadEnv points viper at .env and the process environment
func ReadEnv(file string) error {
	viper.SetConfigFile(file)
	viper.SetConfigType("env")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for key, env := range envBindings {
		if err := viper.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s: %w", env, err)
		}
	}

	return viper.ReadInConfig()
}

// Load builds a Config from the current viper state
func Load() (*Config, error) {
	setDefaults()

	nativeSymbol := strings.ToUpper(viper.GetString("ledger.native_symbol"))
	assets := map[string]Asset{
		nativeSymbol: {Decimals: int32(viper.GetInt("ledger.native_decimals"))},
	}
	if usdc := viper.GetString("ledger.usdc_address"); usdc != "" {
		assets["USDC"] = Asset{Token: usdc, Decimals: int32(viper.GetInt("ledger.usdc_decimals"))}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            viper.GetString("server.port"),
			ReadTimeout:     viper.GetDuration("server.read_timeout"),
			WriteTimeout:    viper.GetDuration("server.write_timeout"),
			IdleTimeout:     viper.GetDuration("server.idle_timeout"),
			RequestTimeout:  viper.GetDuration("server.request_timeout"),
			ShutdownTimeout: viper.GetDuration("server.shutdown_timeout"),
			AllowedOrigins:  splitList(viper.GetString("server.allowed_origins")),
		},
		Database: DatabaseConfig{
			Host:            viper.GetString("database.host"),
			Port:            viper.GetString("database.port"),
			User:            viper.GetString("database.user"),
			Password:        viper.GetString("database.password"),
			Name:            viper.GetString("database.name"),
			SSLMode:         viper.GetString("database.ssl_mode"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: viper.GetDuration("database.conn_max_lifetime"),
			QueryTimeout:    viper.GetDuration("database.query_timeout"),
		},
		Redis: RedisConfig{
			Host:     viper.GetString("redis.host"),
			Port:     viper.GetString("redis.port"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			SecretKey: viper.GetString("jwt.secret_key"),
		},
		Ledger: LedgerConfig{
			RPCURL:            viper.GetString("ledger.rpc_url"),
			ChainID:           viper.GetInt64("ledger.chain_id"),
			Confirmations:     uint64(viper.GetInt("ledger.confirmations")),
			Timeout:           viper.GetDuration("ledger.timeout"),
			SettlementAddress: viper.GetString("ledger.settlement_address"),
			Assets:            assets,
		},
		Tab: TabConfig{
			DefaultCurrency: strings.ToUpper(viper.GetString("tab.default_currency")),
			DefaultPenalty:  viper.GetInt("tab.default_penalty_bps"),
			DefaultScale:    int32(viper.GetInt("tab.default_scale")),
			CurrencyScales: map[string]int32{
				"USDC":       int32(viper.GetInt("tab.default_scale")),
				nativeSymbol: int32(viper.GetInt("tab.native_scale")),
			},
		},
		OTP: OTPConfig{
			Length:          viper.GetInt("otp.length"),
			Expiry:          viper.GetDuration("otp.expiry"),
			ResendLimit:     viper.GetInt("otp.resend_limit"),
			ResendWindow:    viper.GetDuration("otp.resend_window"),
			Pepper:          viper.GetString("otp.pepper"),
			CleanupSchedule: viper.GetDuration("otp.cleanup_interval"),
		},
		Reminder: ReminderConfig{
			Enabled:     viper.GetBool("reminder.enabled"),
			CronSpec:    viper.GetString("reminder.cron"),
			Timezone:    viper.GetString("reminder.timezone"),
			Cooldown:    viper.GetDuration("reminder.cooldown"),
			SendTimeout: viper.GetDuration("reminder.send_timeout"),
		},
		Notification: NotificationConfig{
			WorkerPoolSize: viper.GetInt("notification.worker_pool"),
			PublishTimeout: viper.GetDuration("notification.publish_timeout"),
		},
		Log: LogConfig{
			Level:      viper.GetString("log.level"),
			File:       viper.GetString("log.file"),
			MaxSizeMB:  viper.GetInt("log.max_size_mb"),
			MaxBackups: viper.GetInt("log.max_backups"),
			MaxAgeDays: viper.GetInt("log.max_age_days"),
			Compress:   viper.GetBool("log.compress"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.JWT.SecretKey == "" {
		errs = append(errs, errors.New("jwt.secret_key is required"))
	}
	if !common.IsHexAddress(c.Ledger.SettlementAddress) {
		errs = append(errs, errors.New("ledger.settlement_address must be a hex address"))
	}
	if c.Ledger.ChainID <= 0 {
		errs = append(errs, errors.New("ledger.chain_id must be positive"))
	}
	for symbol, asset := range c.Ledger.Assets {
		if !asset.Native() && !common.IsHexAddress(asset.Token) {
			errs = append(errs, fmt.Errorf("token address for %s must be a hex address", symbol))
		}
	}
	if _, ok := c.Ledger.Assets[c.Tab.DefaultCurrency]; !ok {
		errs = append(errs, fmt.Errorf("default currency %s has no ledger asset", c.Tab.DefaultCurrency))
	}
	if c.OTP.Length < 4 || c.OTP.Length > 10 {
		errs = append(errs, errors.New("otp.length must be between 4 and 10"))
	}
	if c.Reminder.Cooldown <= 0 {
		errs = append(errs, errors.New("reminder.cooldown must be positive"))
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
