package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"outbound-dialer/internal/queue"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App    AppConfig
	DB     DBConfig
	Redis  RedisConfig
	Auth   AuthConfig
	Twilio TwilioConfig
	Dialer DialerConfig
}

type AppConfig struct {
	Env  string
	Port int
}

// DBConfig is optional outside production; without DB_HOST queues live in memory.
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

// RedisConfig is optional outside production; without REDIS_HOST the line cap,
// caller ID cache and activity stream fall back to in-process implementations.
type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration
}

// TwilioConfig is optional: without an account SID the API dials through the sandbox transport.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string

	// PublicBaseURL is where Twilio reaches this API (answer and status webhooks).
	PublicBaseURL string
	Record        bool
}

type DialerConfig struct {
	// MaxLines caps legs per parallel batch and, with Redis, concurrent legs per workspace.
	MaxLines int
	Stagger  time.Duration
	// LineTTL expires line slots a crashed replica never released.
	LineTTL          time.Duration
	MachineDetection bool

	// DefaultsFile optionally overrides QueueDefaults with a YAML document.
	DefaultsFile  string
	QueueDefaults queue.Settings
}

func (c Config) TwilioEnabled() bool { return c.Twilio.AccountSID != "" }
func (c Config) PostgresEnabled() bool { return c.DB.Host != "" }
func (c Config) RedisEnabled() bool    { return c.Redis.Host != "" }

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.Port, parseErrs = intEnv(parseErrs, "APP_PORT", 0, true)

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port, parseErrs = intEnv(parseErrs, "DB_PORT", 5432, false)
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port, parseErrs = intEnv(parseErrs, "REDIS_PORT", 6379, false)

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL, parseErrs = durationEnv(parseErrs, "JWT_ACCESS_TTL")

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.PublicBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("TWILIO_PUBLIC_BASE_URL")), "/")
	c.Twilio.Record, parseErrs = boolEnv(parseErrs, "TWILIO_RECORD")

	c.Dialer.MaxLines, parseErrs = intEnv(parseErrs, "DIALER_MAX_LINES", 0, false)
	c.Dialer.Stagger, parseErrs = durationEnv(parseErrs, "DIALER_STAGGER")
	c.Dialer.LineTTL, parseErrs = durationEnv(parseErrs, "DIALER_LINE_TTL")
	c.Dialer.MachineDetection, parseErrs = boolEnv(parseErrs, "DIALER_MACHINE_DETECTION")
	c.Dialer.DefaultsFile = strings.TrimSpace(os.Getenv("DIALER_DEFAULTS_FILE"))

	c.Dialer.QueueDefaults = queue.DefaultSettings()
	if c.Dialer.DefaultsFile != "" {
		s, err := LoadQueueDefaults(c.Dialer.DefaultsFile)
		if err != nil {
			parseErrs = append(parseErrs, err)
		} else {
			c.Dialer.QueueDefaults = s
		}
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// LoadQueueDefaults reads a YAML settings document. Keys it omits keep the
// built-in defaults.
func LoadQueueDefaults(path string) (queue.Settings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return queue.Settings{}, fmt.Errorf("DIALER_DEFAULTS_FILE: %w", err)
	}
	return ParseQueueDefaults(raw)
}

func ParseQueueDefaults(raw []byte) (queue.Settings, error) {
	s := queue.DefaultSettings()
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return queue.Settings{}, fmt.Errorf("DIALER_DEFAULTS_FILE: %w", err)
	}
	if err := s.Validate(); err != nil {
		return queue.Settings{}, fmt.Errorf("DIALER_DEFAULTS_FILE: %w", err)
	}
	return s, nil
}

// Validate checks the configuration and fills defaults in place.
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
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_HOST is required in production"))
		}
	} else {
		if c.DB.Port <= 0 || c.DB.Port > 65535 {
			errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
		}
		if c.DB.User == "" {
			errs = append(errs, errors.New("DB_USER is required"))
		}
		if c.DB.Name == "" {
			errs = append(errs, errors.New("DB_NAME is required"))
		}
		if c.DB.SSLMode == "" {
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
	}

	if c.Redis.Host == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("REDIS_HOST is required in production"))
		}
	} else if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
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
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}

	if c.TwilioEnabled() {
		if c.Twilio.AuthToken == "" {
			errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required with TWILIO_ACCOUNT_SID"))
		}
		if !strings.HasPrefix(c.Twilio.PublicBaseURL, "https://") && !strings.HasPrefix(c.Twilio.PublicBaseURL, "http://") {
			errs = append(errs, fmt.Errorf("TWILIO_PUBLIC_BASE_URL must be an absolute http(s) URL, got %q", c.Twilio.PublicBaseURL))
		}
	} else if c.IsProduction() {
		errs = append(errs, errors.New("TWILIO_ACCOUNT_SID is required in production"))
	}

	if c.Dialer.MaxLines == 0 {
		c.Dialer.MaxLines = 3
	}
	if c.Dialer.MaxLines < 1 {
		errs = append(errs, fmt.Errorf("DIALER_MAX_LINES must be >= 1, got %d", c.Dialer.MaxLines))
	}
	if c.Dialer.Stagger <= 0 {
		c.Dialer.Stagger = 500 * time.Millisecond
	}
	if c.Dialer.LineTTL <= 0 {
		c.Dialer.LineTTL = 2 * time.Hour
	}
	if c.Dialer.QueueDefaults == (queue.Settings{}) {
		c.Dialer.QueueDefaults = queue.DefaultSettings()
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

func intEnv(errs []error, key string, def int, required bool) (int, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		if required {
			return 0, append(errs, fmt.Errorf("%s is required", key))
		}
		return def, errs
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be an integer, got %q", key, v))
	}
	return n, errs
}

// durationEnv returns 0 when unset; Validate applies defaults.
func durationEnv(errs []error, key string) (time.Duration, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, errs
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be a duration, got %q", key, v))
	}
	return d, errs
}

func boolEnv(errs []error, key string) (bool, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return false, errs
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, append(errs, fmt.Errorf("%s must be a boolean, got %q", key, v))
	}
	return b, errs
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
