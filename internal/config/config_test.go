package config

import (
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		App:    AppConfig{Env: "local", Port: 8080},
		DB:     DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "outdial"},
		Redis:  RedisConfig{Host: "localhost", Port: 6379},
		Auth:   AuthConfig{JWTSecret: "secret"},
		Twilio: TwilioConfig{AccountSID: "AC123", AuthToken: "tok"},
		Dialer: DialerConfig{PublicBaseURL: "https://dialer.example.com"},
	}
}

func TestValidateReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidateAcceptsLocalDefaults(t *testing.T) {
	c := validConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Dialer.TickInterval != time.Second {
		t.Fatalf("expected tick interval default, got %v", c.Dialer.TickInterval)
	}
	if c.Dialer.SlotTTL <= c.Dialer.StuckCallMaxAge {
		t.Fatalf("slot ttl %v must outlive stuck-call max age %v", c.Dialer.SlotTTL, c.Dialer.StuckCallMaxAge)
	}
}

func TestValidateProductionRequiresExplicitSecurity(t *testing.T) {
	c := validConfig()
	c.App.Env = "production"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without SSL mode, issuer, webhook secret")
	}
}

func TestValidateRejectsBadPublicBaseURL(t *testing.T) {
	c := validConfig()
	c.Dialer.PublicBaseURL = "dialer.example.com"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for scheme-less public base URL")
	}
}

func TestStatusCallbackURL(t *testing.T) {
	c := validConfig()
	c.Dialer.PublicBaseURL = "https://dialer.example.com/"
	if got, want := c.StatusCallbackURL(), "https://dialer.example.com/webhooks/twilio/status"; got != want {
		t.Fatalf("StatusCallbackURL = %q, want %q", got, want)
	}
}
