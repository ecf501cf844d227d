package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds everything the api and worker binaries need at start-up.
type Config struct {
	// Secret is the default shared secret for tests created without one.
	Secret   string `yaml:"secret"`
	Hostname string `yaml:"hostname"`
	Port     int    `yaml:"port"`
	Bind     string `yaml:"bind"`

	Database  DatabaseConfig `yaml:"database"`
	Admin     AdminConfig    `yaml:"admin"`
	Log       LogConfig      `yaml:"log"`
	RedisAddr string         `yaml:"redis_addr"`
	S3        S3Config       `yaml:"s3"`
	MQTT      MQTTConfig     `yaml:"mqtt"`
}

// DatabaseConfig selects the sql driver and its DSN.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "pgx"
	DSN    string `yaml:"dsn"`
}

// AdminConfig holds the basic-auth credentials for the admin API.
type AdminConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// S3Config points at an S3-compatible bucket used for the raw post archive.
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
}

// Enabled reports whether enough is configured to talk to a bucket.
func (s S3Config) Enabled() bool {
	return s.Endpoint != "" && s.Bucket != ""
}

// MQTTConfig configures state-change notifications.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
}

func (m MQTTConfig) Enabled() bool {
	return m.Broker != ""
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"

	defaultSecret      = "changeme"
	defaultHostname    = "localhost"
	defaultPort        = 4567
	defaultBind        = "0.0.0.0"
	defaultDSN         = "cmxtests.db"
	defaultLogLevel    = "info"
	defaultLogFormat   = "console"
	defaultTopicPrefix = "autocmx"
	defaultS3Region    = "us-east-1"
)

// Default returns a configuration usable for local development.
func Default() Config {
	return Config{
		Secret:   defaultSecret,
		Hostname: defaultHostname,
		Port:     defaultPort,
		Bind:     defaultBind,
		Database: DatabaseConfig{Driver: DriverSQLite, DSN: defaultDSN},
		Log:      LogConfig{Level: defaultLogLevel, Format: defaultLogFormat},
		S3:       S3Config{Region: defaultS3Region},
		MQTT:     MQTTConfig{TopicPrefix: defaultTopicPrefix},
	}
}

// Load reads .env (if present), the YAML file at path (if non-empty) and then
// applies environment overrides. The result is validated.
func Load(path string) (Config, error) {
	// a missing .env is normal outside development
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}

	setString(&c.Secret, "CMX_SECRET")
	setString(&c.Hostname, "CMX_HOSTNAME")
	setString(&c.Bind, "CMX_BIND")
	setString(&c.Database.Driver, "CMX_DB_DRIVER")
	setString(&c.Database.DSN, "CMX_DATABASE_URL", "DATABASE_URL")
	setString(&c.Admin.Username, "CMX_ADMIN_USER")
	setString(&c.Admin.Password, "CMX_ADMIN_PASSWORD")
	setString(&c.Log.Level, "CMX_LOG_LEVEL")
	setString(&c.Log.Format, "CMX_LOG_FORMAT")
	setString(&c.RedisAddr, "CMX_REDIS_ADDR", "REDIS_ADDR")
	setString(&c.S3.Endpoint, "CMX_S3_ENDPOINT", "MINIO_ENDPOINT")
	setString(&c.S3.Bucket, "CMX_S3_BUCKET", "MINIO_BUCKET")
	setString(&c.S3.AccessKey, "CMX_S3_ACCESS_KEY", "MINIO_ACCESS_KEY")
	setString(&c.S3.SecretKey, "CMX_S3_SECRET_KEY", "MINIO_SECRET_KEY")
	setString(&c.MQTT.Broker, "CMX_MQTT_BROKER")
	setString(&c.MQTT.Username, "CMX_MQTT_USERNAME")
	setString(&c.MQTT.Password, "CMX_MQTT_PASSWORD")

	if v := os.Getenv("CMX_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid CMX_PORT: %w", err)
		}
		c.Port = port
	}
	return nil
}

// Validate checks the fields that would otherwise fail late at runtime.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Secret) == "" {
		errs = append(errs, errors.New("secret must not be empty"))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be between 1 and 65535, got %d", c.Port))
	}
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("database.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn must not be empty"))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be console or json, got %q", c.Log.Format))
	}
	if (c.Admin.Username == "") != (c.Admin.Password == "") {
		errs = append(errs, errors.New("admin.username and admin.password must be set together"))
	}

	return errors.Join(errs...)
}

// ListenAddr is the address the HTTP server binds to.
func (c Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Bind, c.Port)
}

// PushURL is the informational callback URL shown for a test.
func (c Config) PushURL(testID string) string {
	return fmt.Sprintf("http://%s:%d/data/%s", c.Hostname, c.Port, testID)
}
