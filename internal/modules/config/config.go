package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

const (
	configFilePathENV = "CONFIG_FILE"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	databaseDSN       = "DATABASE_DSN"

	defaultConfigFile = "values_local.yaml"
	configDir         = "configs"
)

// Config ...
type Config struct {
	Service struct {
		Name       string `yaml:"name"`
		Host       string `yaml:"host"`
		PublicPort int    `yaml:"public_port"`
		AdminPort  int    `yaml:"admin_port"`
	} `yaml:"service"`
	DB      string `yaml:"db_dsn"`
	Migrate bool   `yaml:"migrate"` // применять миграции при старте

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`

	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`

	Tracing struct {
		Enabled bool   `yaml:"enabled"`
		Host    string `yaml:"host"`
		Port    int    `yaml:"port"`
	} `yaml:"tracing"`

	Broker struct {
		BaseURL  string        `yaml:"base_url"`
		APIName  string        `yaml:"api_name"`
		Timeout  time.Duration `yaml:"timeout"`
		RPS      float64       `yaml:"rps"`
		Burst    int           `yaml:"burst"`
		Simulate bool          `yaml:"simulate"` // все стратегии без брокера
	} `yaml:"broker"`

	// Время биржи: HH:MM в часовом поясе timezone
	Market struct {
		Timezone  string `yaml:"timezone"`
		Open      string `yaml:"open"`
		Close     string `yaml:"close"`
		KickoffAt string `yaml:"kickoff_at"`
	} `yaml:"market"`

	Engine struct {
		Workers             int    `yaml:"workers"`
		BatchSize           int    `yaml:"batch_size"`
		SampleExchangeToken string `yaml:"sample_exchange_token"`
	} `yaml:"engine"`

	Orders struct {
		Quantity      int     `yaml:"quantity"`
		Variety       string  `yaml:"variety"`
		OrderType     string  `yaml:"order_type"`
		Product       string  `yaml:"product"`
		EntryValidity string  `yaml:"entry_validity"`
		ExitValidity  string  `yaml:"exit_validity"`
		StopPct       float64 `yaml:"stop_pct"`  // 0.01 => триггер на 1% ниже входа
		LimitPct      float64 `yaml:"limit_pct"` // 0.07 => лимит на 7% ниже триггера
		ExitTickSteps int     `yaml:"exit_tick_steps"`
	} `yaml:"orders"`

	Cache struct {
		MaxCost int64         `yaml:"max_cost"`
		TTL     time.Duration `yaml:"ttl"`
	} `yaml:"cache"`
}

var defaults = map[string]any{
	"service.name":        "rule-engine",
	"service.host":        "0.0.0.0",
	"service.public_port": 8080,
	"service.admin_port":  8081,
	"db_dsn":              "",
	"migrate":             false,

	"redis.enabled":  true,
	"redis.addr":     "localhost:6379",
	"redis.password": "",
	"redis.db":       0,

	"telegram.token":   "",
	"telegram.chat_id": 0,

	"kafka.brokers": []string{},
	"kafka.topic":   "engine.notifications",

	"tracing.enabled": false,
	"tracing.host":    "localhost",
	"tracing.port":    6831,

	"broker.base_url": "https://api.kite.trade",
	"broker.api_name": "kite",
	"broker.timeout":  "10s",
	"broker.rps":      10.0,
	"broker.burst":    5,
	"broker.simulate": false,

	"market.timezone":   "Asia/Kolkata",
	"market.open":       "09:15",
	"market.close":      "15:30",
	"market.kickoff_at": "09:15",

	"engine.workers":               8,
	"engine.batch_size":            100,
	"engine.sample_exchange_token": "2885",

	"orders.quantity":        1,
	"orders.variety":         "regular",
	"orders.order_type":      "SL",
	"orders.product":         "MIS",
	"orders.entry_validity":  "IOC",
	"orders.exit_validity":   "DAY",
	"orders.stop_pct":        0.01,
	"orders.limit_pct":       0.07,
	"orders.exit_tick_steps": 2,

	"cache.max_cost": 1 << 16,
	"cache.ttl":      "5m",
}

func NewConfig() (*Config, error) {
	// .env необязателен
	_ = godotenv.Load()

	configFileName := os.Getenv(configFilePathENV)
	if configFileName == "" {
		configFileName = defaultConfigFile
	}
	if !filepath.IsAbs(configFileName) {
		configFileName = filepath.Join(configDir, configFileName)
	}
	return Load(configFileName)
}

// Load читает yaml-файл поверх дефолтов, env-переменные (SECTION_KEY) перекрывают файл.
// Отсутствующий файл не ошибка: работаем на дефолтах и env.
func Load(file string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetConfigFile(file)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(file); statErr == nil {
			return nil, errors.Wrapf(err, "read config %s", file)
		}
	}

	normalize(v)
	bs, err := yaml.Marshal(v.AllSettings())
	if err != nil {
		return nil, errors.Wrap(err, "marshal settings")
	}
	var config Config
	if err := yaml.Unmarshal(bs, &config); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}

	token := os.Getenv(tokenTelegramENV)
	if token != "" {
		config.Telegram.Token = token
	}

	dsn := os.Getenv(databaseDSN)
	if dsn != "" {
		config.DB = dsn
	}

	return &config, nil
}

// normalize приводит значения из env (всегда строки) к типам дефолтов,
// иначе yaml не разложит их по числовым полям.
func normalize(v *viper.Viper) {
	for k, def := range defaults {
		switch def.(type) {
		case int:
			v.Set(k, v.GetInt(k))
		case float64:
			v.Set(k, v.GetFloat64(k))
		case bool:
			v.Set(k, v.GetBool(k))
		case []string:
			v.Set(k, v.GetStringSlice(k))
		}
	}
}
