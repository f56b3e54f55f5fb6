package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"ethmed_go/internal/monitoring"
	"ethmed_go/models"
)

// Config — настройки сервиса. Источники по убыванию приоритета: переменные окружения
// (в том числе из .env), YAML-файл, значения по умолчанию.
type Config struct {
	Server     ServerConfig          `yaml:"server"`
	Database   DatabaseConfig        `yaml:"database"`
	Telegram   TelegramConfig        `yaml:"telegram"`
	Proxy      *models.Proxy         `yaml:"proxy"`
	Data       DataConfig            `yaml:"data"`
	Detection  DetectionConfig       `yaml:"detection"`
	Pipeline   PipelineConfig        `yaml:"pipeline"`
	Monitoring monitoring.Thresholds `yaml:"monitoring"`
	Schedules  []string              `yaml:"schedules"`
	LogLevel   string                `yaml:"log_level"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

type TelegramConfig struct {
	APIID    int           `yaml:"api_id"`
	APIHash  string        `yaml:"api_hash"`
	Phone    string        `yaml:"phone"`
	Password string        `yaml:"password"` // облачный пароль, если включена 2FA
	Channels []string      `yaml:"channels"`
	Limit    int           `yaml:"limit"`
	PageSize int           `yaml:"page_size"`
	DelayMin time.Duration `yaml:"delay_min"`
	DelayMax time.Duration `yaml:"delay_max"`
}

type DataConfig struct {
	RawPath string `yaml:"raw_path"`
}

// DetectionConfig: либо внешняя команда модели, либо готовый CSV с результатами.
type DetectionConfig struct {
	Command   string   `yaml:"command"`
	Args      []string `yaml:"args"`
	CSV       string   `yaml:"csv"`
	Workers   int      `yaml:"workers"`
	Threshold float64  `yaml:"threshold"`
}

type PipelineConfig struct {
	StageTimeout      time.Duration `yaml:"stage_timeout"`
	ScrapeTimeout     time.Duration `yaml:"scrape_timeout"`
	DetectionTimeout  time.Duration `yaml:"detection_timeout"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HistorySize       int           `yaml:"history_size"`
}

// DefaultSchedules: ежедневный полный запуск в 02:00 и еженедельный в 03:00 по воскресеньям.
var DefaultSchedules = []string{"0 2 * * *", "0 3 * * 0"}

// DefaultChannels — медицинские каналы, с которых начинался сбор.
var DefaultChannels = []string{"chemed", "lobelia4cosmetics", "tikvahpharma"}

// Load читает .env, YAML из CONFIG_FILE (по умолчанию config.yaml, файла может не быть)
// и переменные окружения.
func Load() (*Config, error) {
	_ = godotenv.Load()

	configFile := os.Getenv("CONFIG_FILE")
	explicit := configFile != ""
	if !explicit {
		configFile = "config.yaml"
	}

	var cfg Config
	data, err := os.ReadFile(configFile)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configFile, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		// работаем на окружении и значениях по умолчанию
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Server.Port, "PORT")
	setString(&c.Database.URL, "DATABASE_URL")
	setString(&c.Database.Host, "DB_HOST")
	setString(&c.Database.Name, "DB_NAME")
	setString(&c.Database.User, "DB_USER")
	setString(&c.Database.Password, "DB_PASSWORD")
	setString(&c.Telegram.APIHash, "API_HASH")
	setString(&c.Telegram.Phone, "PHONE_NUMBER")
	setString(&c.Telegram.Password, "TELEGRAM_PASSWORD")
	setString(&c.Data.RawPath, "RAW_DATA_PATH")
	setString(&c.Detection.Command, "DETECTOR_COMMAND")
	setString(&c.Detection.CSV, "DETECTIONS_CSV")
	setString(&c.LogLevel, "LOG_LEVEL")

	if err := setInt(&c.Database.Port, "DB_PORT"); err != nil {
		return err
	}
	return setInt(&c.Telegram.APIID, "API_ID")
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.Name == "" {
		c.Database.Name = "ethmed_db"
	}
	if c.Database.User == "" {
		c.Database.User = "postgres"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if len(c.Telegram.Channels) == 0 {
		c.Telegram.Channels = append([]string(nil), DefaultChannels...)
	}
	if c.Telegram.Limit == 0 {
		c.Telegram.Limit = 1000
	}
	if c.Telegram.DelayMin == 0 && c.Telegram.DelayMax == 0 {
		c.Telegram.DelayMin, c.Telegram.DelayMax = time.Second, 2*time.Second
	}
	if c.Data.RawPath == "" {
		c.Data.RawPath = "data/raw"
	}
	if c.Detection.Workers == 0 {
		c.Detection.Workers = 4
	}
	if c.Pipeline.ScrapeTimeout == 0 {
		c.Pipeline.ScrapeTimeout = 2 * time.Hour
	}
	if c.Pipeline.DetectionTimeout == 0 {
		c.Pipeline.DetectionTimeout = 2 * time.Hour
	}
	if c.Pipeline.StageTimeout == 0 {
		c.Pipeline.StageTimeout = 30 * time.Minute
	}
	if c.Pipeline.HeartbeatTimeout == 0 {
		c.Pipeline.HeartbeatTimeout = 10 * time.Minute
	}
	if c.Pipeline.HeartbeatInterval == 0 {
		c.Pipeline.HeartbeatInterval = 30 * time.Second
	}
	if len(c.Schedules) == 0 {
		c.Schedules = append([]string(nil), DefaultSchedules...)
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c *Config) validate() error {
	if c.Telegram.APIID < 0 {
		return fmt.Errorf("telegram api id must not be negative (set API_ID or telegram.api_id)")
	}
	if c.Telegram.DelayMin < 0 || c.Telegram.DelayMax < c.Telegram.DelayMin {
		return fmt.Errorf("telegram delay range is invalid: [%s, %s]", c.Telegram.DelayMin, c.Telegram.DelayMax)
	}
	if c.Detection.Workers < 0 {
		return fmt.Errorf("detection workers must not be negative")
	}
	if c.Detection.Threshold < 0 || c.Detection.Threshold > 1 {
		return fmt.Errorf("detection threshold must be within [0, 1]")
	}
	if c.Proxy != nil {
		if err := c.Proxy.Validate(); err != nil {
			return fmt.Errorf("proxy: %w", err)
		}
	}
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return fmt.Errorf("server port %q is not a number", c.Server.Port)
	}
	return nil
}

// TelegramReady сообщает, заданы ли учётные данные для скрейпера.
func (c *Config) TelegramReady() error {
	if c.Telegram.APIID == 0 {
		return fmt.Errorf("Telegram API ID is required (set API_ID or telegram.api_id)")
	}
	if c.Telegram.APIHash == "" {
		return fmt.Errorf("Telegram API hash is required (set API_HASH or telegram.api_hash)")
	}
	if c.Telegram.Phone == "" {
		return fmt.Errorf("phone number is required (set PHONE_NUMBER or telegram.phone)")
	}
	return nil
}

// DSN возвращает строку подключения: DATABASE_URL как есть, иначе собирается из DB_*.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.Name,
		RawQuery: "sslmode=" + url.QueryEscape(d.SSLMode),
	}
	return u.String()
}

// Delay — диапазон пауз между запросами к Telegram.
func (t TelegramConfig) Delay() [2]time.Duration {
	return [2]time.Duration{t.DelayMin, t.DelayMax}
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s must be a number: %w", key, err)
	}
	*dst = n
	return nil
}
