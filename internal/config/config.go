// Package config carga la configuración del servicio: YAML como base y
// variables de entorno como override (el env siempre gana). Los defaults se
// aplican después de parsear, así un YAML mínimo alcanza para desarrollo.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"env"`
	} `yaml:"app"`

	Server struct {
		Addr               string   `yaml:"addr"`
		PublicBaseURL      string   `yaml:"public_base_url"` // base de las URLs firmadas
		CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	} `yaml:"server"`

	Storage struct {
		Driver   string `yaml:"driver"` // postgres | memory
		DSN      string `yaml:"dsn"`
		Postgres struct {
			MaxOpenConns    int    `yaml:"max_open_conns"`
			MaxIdleConns    int    `yaml:"max_idle_conns"`
			ConnMaxLifetime string `yaml:"conn_max_lifetime"`
		} `yaml:"postgres"`
		MigrationsDir string `yaml:"migrations_dir"`
	} `yaml:"storage"`

	Blob struct {
		Driver       string `yaml:"driver"` // fs | memory
		Root         string `yaml:"root"`
		SignedURLTTL string `yaml:"signed_url_ttl"`
		SignSecret   string `yaml:"sign_secret"`
	} `yaml:"blob"`

	Cache struct {
		Driver string `yaml:"driver"` // memory | redis
		Redis  struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Scorer struct {
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
		Timeout string `yaml:"timeout"` // base; la verificación combinada usa 2×
	} `yaml:"scorer"`

	Webhook struct {
		URL         string   `yaml:"url"`
		Secret      string   `yaml:"secret"`
		Timeout     string   `yaml:"timeout"`
		MaxAttempts int      `yaml:"max_attempts"`
		BaseDelay   string   `yaml:"base_delay"`
		MaxDelay    string   `yaml:"max_delay"`
		Events      []string `yaml:"events"` // allow-list; vacío = todos
		Workers     int      `yaml:"workers"`
		QueueSize   int      `yaml:"queue_size"`
	} `yaml:"webhook"`

	Rate struct {
		Enabled     bool   `yaml:"enabled"`
		Window      string `yaml:"window"`
		MaxRequests int    `yaml:"max_requests"`

		// Presupuesto extra de los endpoints caros.
		Sensitive struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"sensitive"`
	} `yaml:"rate"`

	KYC struct {
		RetryCooldown  string `yaml:"retry_cooldown"`
		ListLimit      int    `yaml:"list_limit"`
		MaxUploadBytes int64  `yaml:"max_upload_bytes"`
	} `yaml:"kyc"`

	SMTP struct {
		Host               string `yaml:"host"`
		Port               int    `yaml:"port"`
		Username           string `yaml:"username"`
		Password           string `yaml:"password"`
		From               string `yaml:"from"`
		TLS                string `yaml:"tls"` // auto | starttls | ssl | none
		InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	} `yaml:"smtp"`

	Security struct {
		// Hash PHC de la API key del integrador. Vacío = API abierta (dev).
		APIKeyHash string `yaml:"api_key_hash"`
	} `yaml:"security"`

	Audit struct {
		Path string `yaml:"path"` // vacío = auditoría deshabilitada
	} `yaml:"audit"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Flags struct {
		Migrate bool `yaml:"migrate"`
	} `yaml:"flags"`
}

// Load lee el YAML (path vacío = sólo env + defaults), aplica overrides de
// env, defaults y validación.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, err
		}
	}

	c.applyEnvOverrides()

	// sane defaults
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.PublicBaseURL == "" {
		c.Server.PublicBaseURL = "http://localhost:8080"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.MigrationsDir == "" {
		c.Storage.MigrationsDir = "migrations/postgres"
	}
	if c.Blob.Driver == "" {
		c.Blob.Driver = "memory"
	}
	if c.Blob.Root == "" {
		c.Blob.Root = "./data/blobs"
	}
	if c.Blob.SignedURLTTL == "" {
		c.Blob.SignedURLTTL = "15m"
	}
	if c.Cache.Driver == "" {
		c.Cache.Driver = "memory"
	}
	if c.Scorer.Timeout == "" {
		c.Scorer.Timeout = "15s"
	}
	if c.Webhook.Timeout == "" {
		c.Webhook.Timeout = "10s"
	}
	if c.Webhook.MaxAttempts == 0 {
		c.Webhook.MaxAttempts = 3
	}
	if c.Webhook.BaseDelay == "" {
		c.Webhook.BaseDelay = "500ms"
	}
	if c.Webhook.MaxDelay == "" {
		c.Webhook.MaxDelay = "30s"
	}
	if c.Webhook.Workers == 0 {
		c.Webhook.Workers = 2
	}
	if c.Webhook.QueueSize == 0 {
		c.Webhook.QueueSize = 64
	}
	if c.Rate.Window == "" {
		c.Rate.Window = "1m"
	}
	if c.Rate.MaxRequests == 0 {
		c.Rate.MaxRequests = 60
	}
	if c.Rate.Sensitive.Limit == 0 {
		c.Rate.Sensitive.Limit = 10
	}
	if c.Rate.Sensitive.Window == "" {
		c.Rate.Sensitive.Window = "1m"
	}
	if c.KYC.RetryCooldown == "" {
		c.KYC.RetryCooldown = "1h"
	}
	if c.KYC.ListLimit == 0 {
		c.KYC.ListLimit = 20
	}
	if c.KYC.MaxUploadBytes == 0 {
		c.KYC.MaxUploadBytes = 8 << 20
	}
	if c.SMTP.TLS == "" {
		c.SMTP.TLS = "auto"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate chequea coherencia y que las duraciones parseen.
func (c *Config) Validate() error {
	for name, v := range map[string]string{
		"blob.signed_url_ttl":               c.Blob.SignedURLTTL,
		"scorer.timeout":                    c.Scorer.Timeout,
		"webhook.timeout":                   c.Webhook.Timeout,
		"webhook.base_delay":                c.Webhook.BaseDelay,
		"webhook.max_delay":                 c.Webhook.MaxDelay,
		"rate.window":                       c.Rate.Window,
		"rate.sensitive.window":             c.Rate.Sensitive.Window,
		"kyc.retry_cooldown":                c.KYC.RetryCooldown,
		"storage.postgres.conn_max_lifetime": c.Storage.Postgres.ConnMaxLifetime,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	if c.Storage.Driver == "postgres" && c.Storage.DSN == "" {
		return fmt.Errorf("config: storage.dsn es requerido con driver postgres")
	}
	if c.Blob.SignSecret == "" && !strings.EqualFold(c.App.Env, "dev") && c.App.Env != "" {
		return fmt.Errorf("config: blob.sign_secret es requerido fuera de dev")
	}
	return nil
}

// Dur parsea una duración ya validada.
func Dur(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// ───────── env overrides ─────────

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvInt64(key string) (int64, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}
func getEnvCSV(key string) ([]string, bool) {
	if s, ok := getEnvStr(key); ok {
		if strings.TrimSpace(s) == "" {
			return []string{}, true
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	return nil, false
}

// applyEnvOverrides: pisa config.yaml con variables de entorno.
func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}

	// SERVER
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("PUBLIC_BASE_URL"); ok {
		c.Server.PublicBaseURL = v
	}
	if v, ok := getEnvCSV("SERVER_CORS_ALLOWED_ORIGINS"); ok {
		c.Server.CORSAllowedOrigins = v
	}

	// STORAGE
	if v, ok := getEnvStr("STORAGE_DRIVER"); ok {
		c.Storage.Driver = v
	}
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvStr("STORAGE_MIGRATIONS_DIR"); ok {
		c.Storage.MigrationsDir = v
	}

	// BLOB
	if v, ok := getEnvStr("BLOB_DRIVER"); ok {
		c.Blob.Driver = v
	}
	if v, ok := getEnvStr("BLOB_ROOT"); ok {
		c.Blob.Root = v
	}
	if v, ok := getEnvStr("BLOB_SIGN_SECRET"); ok {
		c.Blob.SignSecret = v
	}
	if v, ok := getEnvStr("BLOB_SIGNED_URL_TTL"); ok {
		c.Blob.SignedURLTTL = v
	}

	// CACHE
	if v, ok := getEnvStr("CACHE_DRIVER"); ok {
		c.Cache.Driver = v
	}
	if v, ok := getEnvStr("CACHE_REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvStr("CACHE_REDIS_PASSWORD"); ok {
		c.Cache.Redis.Password = v
	}
	if v, ok := getEnvInt("CACHE_REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}

	// SCORER
	if v, ok := getEnvStr("SCORER_BASE_URL"); ok {
		c.Scorer.BaseURL = v
	}
	if v, ok := getEnvStr("SCORER_API_KEY"); ok {
		c.Scorer.APIKey = v
	}
	if v, ok := getEnvStr("SCORER_TIMEOUT"); ok {
		c.Scorer.Timeout = v
	}

	// WEBHOOK
	if v, ok := getEnvStr("WEBHOOK_URL"); ok {
		c.Webhook.URL = v
	}
	if v, ok := getEnvStr("WEBHOOK_SECRET"); ok {
		c.Webhook.Secret = v
	}
	if v, ok := getEnvStr("WEBHOOK_TIMEOUT"); ok {
		c.Webhook.Timeout = v
	}
	// WEBHOOK_RETRIES es el nombre documentado; MAX_ATTEMPTS queda como alias.
	if v, ok := getEnvInt("WEBHOOK_RETRIES"); ok {
		c.Webhook.MaxAttempts = v
	}
	if v, ok := getEnvInt("WEBHOOK_MAX_ATTEMPTS"); ok {
		c.Webhook.MaxAttempts = v
	}
	if v, ok := getEnvCSV("WEBHOOK_EVENTS"); ok {
		c.Webhook.Events = v
	}

	// RATE
	if v, ok := getEnvBool("RATE_ENABLED"); ok {
		c.Rate.Enabled = v
	}
	if v, ok := getEnvInt("RATE_MAX_REQUESTS"); ok {
		c.Rate.MaxRequests = v
	}
	if v, ok := getEnvStr("RATE_WINDOW"); ok {
		c.Rate.Window = v
	}

	// KYC
	if v, ok := getEnvStr("KYC_RETRY_COOLDOWN"); ok {
		c.KYC.RetryCooldown = v
	}
	if v, ok := getEnvInt64("KYC_MAX_UPLOAD_BYTES"); ok {
		c.KYC.MaxUploadBytes = v
	}

	// SMTP
	if v, ok := getEnvStr("SMTP_HOST"); ok {
		c.SMTP.Host = v
	}
	if v, ok := getEnvInt("SMTP_PORT"); ok {
		c.SMTP.Port = v
	}
	if v, ok := getEnvStr("SMTP_USERNAME"); ok {
		c.SMTP.Username = v
	}
	if v, ok := getEnvStr("SMTP_PASSWORD"); ok {
		c.SMTP.Password = v
	}
	if v, ok := getEnvStr("SMTP_FROM"); ok {
		c.SMTP.From = v
	}

	// SECURITY / AUDIT / LOG
	if v, ok := getEnvStr("API_KEY_HASH"); ok {
		c.Security.APIKeyHash = v
	}
	if v, ok := getEnvStr("AUDIT_PATH"); ok {
		c.Audit.Path = v
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := getEnvBool("FLAGS_MIGRATE"); ok {
		c.Flags.Migrate = v
	}
}
