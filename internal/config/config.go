package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the dialer process.
// All values must come from env (or an env-file loaded by the process
// runner). No business logic should depend on raw environment variables.
type Config struct {
	App    AppConfig
	DB     DBConfig
	Redis  RedisConfig
	Auth   AuthConfig
	Twilio TwilioConfig
	AMQP   AMQPConfig
	Dialer DialerConfig
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

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type TwilioConfig struct {
	AccountSID    string
	AuthToken     string
	WebhookSecret string

	// BaseURL overrides the provider endpoint, normally only in tests.
	BaseURL string
}

// AMQPConfig is optional: with an empty URL the process runs on the
// in-process notifier only.
type AMQPConfig struct {
	URL         string
	QueuePrefix string
}

// DialerConfig tunes the campaign execution loops.
type DialerConfig struct {
	// PublicBaseURL is the externally reachable address provider webhooks
	// are delivered to.
	PublicBaseURL string

	// VoiceStreamURL is the voice-AI media websocket answered calls bridge
	// to. Optional; without it answered calls are hung up.
	VoiceStreamURL string

	DiscoverInterval time.Duration
	TickInterval     time.Duration

	SweepInterval   time.Duration
	StuckCallMaxAge time.Duration

	// SlotTTL bounds how long a leaked concurrency slot survives a crash.
	SlotTTL time.Duration
}

func Load() (Config, error) {
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
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate().
	c.Auth.AccessTokenTTL = optDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = optDuration("JWT_REFRESH_TTL")

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.WebhookSecret = os.Getenv("TWILIO_WEBHOOK_SECRET")
	c.Twilio.BaseURL = strings.TrimSpace(os.Getenv("TWILIO_BASE_URL"))

	c.AMQP.URL = strings.TrimSpace(os.Getenv("AMQP_URL"))
	c.AMQP.QueuePrefix = strings.TrimSpace(os.Getenv("AMQP_QUEUE_PREFIX"))

	c.Dialer.PublicBaseURL = strings.TrimSpace(os.Getenv("DIALER_PUBLIC_BASE_URL"))
	c.Dialer.VoiceStreamURL = strings.TrimSpace(os.Getenv("DIALER_VOICE_STREAM_URL"))
	c.Dialer.DiscoverInterval = optDuration("DIALER_DISCOVER_INTERVAL")
	c.Dialer.TickInterval = optDuration("DIALER_TICK_INTERVAL")
	c.Dialer.SweepInterval = optDuration("DIALER_SWEEP_INTERVAL")
	c.Dialer.StuckCallMaxAge = optDuration("DIALER_STUCK_CALL_MAX_AGE")
	c.Dialer.SlotTTL = optDuration("DIALER_SLOT_TTL")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required settings and fills environment-appropriate
// defaults in place.
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

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
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
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Twilio.AccountSID == "" {
		errs = append(errs, errors.New("TWILIO_ACCOUNT_SID is required"))
	}
	if c.Twilio.AuthToken == "" {
		errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required"))
	}
	if c.IsProduction() && c.Twilio.WebhookSecret == "" {
		errs = append(errs, errors.New("TWILIO_WEBHOOK_SECRET is required in production"))
	}

	if c.AMQP.URL != "" && c.AMQP.QueuePrefix == "" {
		c.AMQP.QueuePrefix = "outdial"
	}

	if c.Dialer.PublicBaseURL == "" {
		errs = append(errs, errors.New("DIALER_PUBLIC_BASE_URL is required"))
	} else if !strings.HasPrefix(c.Dialer.PublicBaseURL, "http://") && !strings.HasPrefix(c.Dialer.PublicBaseURL, "https://") {
		errs = append(errs, fmt.Errorf("DIALER_PUBLIC_BASE_URL must be an http(s) URL, got %q", c.Dialer.PublicBaseURL))
	}
	if c.Dialer.DiscoverInterval <= 0 {
		c.Dialer.DiscoverInterval = 5 * time.Second
	}
	if c.Dialer.TickInterval <= 0 {
		c.Dialer.TickInterval = time.Second
	}
	if c.Dialer.SweepInterval <= 0 {
		c.Dialer.SweepInterval = time.Minute
	}
	if c.Dialer.StuckCallMaxAge <= 0 {
		c.Dialer.StuckCallMaxAge = 15 * time.Minute
	}
	if c.Dialer.SlotTTL <= 0 {
		c.Dialer.SlotTTL = c.Dialer.StuckCallMaxAge + 5*time.Minute
	}
	if c.Dialer.SlotTTL <= c.Dialer.StuckCallMaxAge {
		// The sweeper must get a chance to finalize before the slot counter
		// expires underneath it.
		errs = append(errs, errors.New("DIALER_SLOT_TTL must be greater than DIALER_STUCK_CALL_MAX_AGE"))
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

// StatusCallbackURL is where the provider posts call status webhooks.
func (c Config) StatusCallbackURL() string {
	return strings.TrimRight(c.Dialer.PublicBaseURL, "/") + "/webhooks/twilio/status"
}

// AnswerURL serves call instructions when the callee picks up.
func (c Config) AnswerURL() string {
	return strings.TrimRight(c.Dialer.PublicBaseURL, "/") + "/webhooks/twilio/answer"
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

func optDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
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
