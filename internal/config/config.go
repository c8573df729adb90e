package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"callmerge/internal/merge"
)

// Config holds all configuration required by the api and merger processes.
// All values must come from env (or the env file named by ENV_FILE).
// No business logic should depend on raw environment variables.
type Config struct {
	App   AppConfig
	DB    DBConfig
	Redis RedisConfig
	Auth  AuthConfig
	Merge MergeConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

type AuthConfig struct {
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
	TokenTTL    time.Duration
}

type MergeConfig struct {
	// Schedule is a robfig/cron spec, e.g. "@every 1m" or "*/5 * * * *".
	Schedule    string
	PassTimeout time.Duration
	// LockTTL must outlive PassTimeout so the lock never lapses mid-pass.
	LockTTL     time.Duration
	LockKey     string
	IVRDedup    string
	PageSize    int
	// LockRedis is set by Validate when a Redis host is configured.
	LockRedis   bool
}

const (
	defaultSchedule    = "@every 1m"
	defaultPassTimeout = 2 * time.Minute
	defaultLockTTL     = 5 * time.Minute
	defaultLockKey     = "callmerge:pass"
	defaultPageSize    = 5000
	defaultTokenTTL    = time.Hour
)

// Load reads ENV_FILE (when set) into the environment, then parses and
// validates the configuration. Variables already set in the environment win
// over the file.
func Load() (Config, error) {
	if f := strings.TrimSpace(os.Getenv("ENV_FILE")); f != "" {
		if err := godotenv.Load(f); err != nil {
			return Config{}, fmt.Errorf("ENV_FILE %q: %w", f, err)
		}
	}

	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	{
		n, err := optionalInt("REDIS_PORT", 6379)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))

	// Durations are optional; defaults applied in Validate().
	var err error
	c.Auth.TokenTTL, err = optionalDuration("JWT_TTL")
	parseErrs = appendErr(parseErrs, err)

	c.Merge.Schedule = strings.TrimSpace(os.Getenv("MERGE_SCHEDULE"))
	c.Merge.PassTimeout, err = optionalDuration("MERGE_PASS_TIMEOUT")
	parseErrs = appendErr(parseErrs, err)
	c.Merge.LockTTL, err = optionalDuration("MERGE_LOCK_TTL")
	parseErrs = appendErr(parseErrs, err)
	c.Merge.LockKey = strings.TrimSpace(os.Getenv("MERGE_LOCK_KEY"))
	c.Merge.IVRDedup = strings.ToLower(strings.TrimSpace(os.Getenv("MERGE_IVR_DEDUP")))
	{
		n, err := optionalInt("MERGE_PAGE_SIZE", 0)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Merge.PageSize = n
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	// Redis is optional: without it the merger only guards against overlap in-process.
	if c.Redis.Host != "" {
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
		c.Merge.LockRedis = true
	} else if c.IsProduction() {
		errs = append(errs, errors.New("REDIS_HOST is required in production"))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = defaultTokenTTL
	}

	if c.Merge.Schedule == "" {
		c.Merge.Schedule = defaultSchedule
	}
	if c.Merge.PassTimeout <= 0 {
		c.Merge.PassTimeout = defaultPassTimeout
	}
	if c.Merge.LockTTL <= 0 {
		c.Merge.LockTTL = defaultLockTTL
	}
	if c.Merge.LockTTL <= c.Merge.PassTimeout {
		errs = append(errs, errors.New("MERGE_LOCK_TTL must be greater than MERGE_PASS_TIMEOUT"))
	}
	if c.Merge.LockKey == "" {
		c.Merge.LockKey = defaultLockKey
	}
	if mode, err := merge.ParseDedupMode(c.Merge.IVRDedup); err != nil {
		errs = append(errs, fmt.Errorf("MERGE_IVR_DEDUP must be adjacent or global, got %q", c.Merge.IVRDedup))
	} else {
		c.Merge.IVRDedup = string(mode)
	}
	if c.Merge.PageSize < 0 {
		errs = append(errs, fmt.Errorf("MERGE_PAGE_SIZE must be positive, got %d", c.Merge.PageSize))
	} else if c.Merge.PageSize == 0 {
		c.Merge.PageSize = defaultPageSize
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string, def int) (int, error) {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return def, nil
	}
	return mustInt(key)
}

func optionalDuration(key string) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration, got %q", key, v)
	}
	return d, nil
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	return n, appendErr(errs, err)
}

func appendErr(errs []error, err error) []error {
	if err != nil {
		errs = append(errs, err)
	}
	return errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
