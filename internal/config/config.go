package config

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/jrsteele09/go-smart-launch/internal/errors"
	"github.com/jrsteele09/go-smart-launch/smart"
	"github.com/spf13/viper"
)

const (
	EnvDev  = "DEV"
	EnvProd = "PROD"

	devClientID     = "dev-smart-client"
	devClientSecret = "dev-only-insecure-secret"

	minSessionSecretLength = 32
)

type Config interface {
	EnvConfig
	SMARTConfig
	SecurityConfig
	StorageConfig
}

type EnvConfig interface {
	GetHost() string
	GetPort() string
	GetAddr() string
	GetAppName() string
	GetEnv() string
	IsDev() bool
	GetLogLevel() string
	GetStaticDir() string
}

// settings is the flattened view of every variable the service reads.
type settings struct {
	Env       string `mapstructure:"ENV"`
	AppName   string `mapstructure:"APP_NAME"`
	Host      string `mapstructure:"HOST"`
	Port      string `mapstructure:"PORT"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	StaticDir string `mapstructure:"STATIC_DIR"`

	ClientID     string `mapstructure:"SMART_CLIENT_ID"`
	ClientSecret string `mapstructure:"SMART_CLIENT_SECRET"`
	RedirectURL  string `mapstructure:"SMART_REDIRECT_URL"`
	Scope        string `mapstructure:"SMART_SCOPE"`
	PKCE         bool   `mapstructure:"SMART_PKCE"`

	StateTTL           time.Duration `mapstructure:"STATE_TTL"`
	StateCapacity      int           `mapstructure:"STATE_CAPACITY"`
	StateSweepInterval time.Duration `mapstructure:"STATE_SWEEP_INTERVAL"`
	DiscoveryTTL       time.Duration `mapstructure:"DISCOVERY_TTL"`
	DiscoveryGrace     time.Duration `mapstructure:"DISCOVERY_GRACE"`
	HTTPTimeout        time.Duration `mapstructure:"HTTP_TIMEOUT"`
	SessionTTL         time.Duration `mapstructure:"SESSION_TTL"`
	SessionSecret      string        `mapstructure:"SESSION_SECRET"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	devDefaults            bool
	generatedSessionSecret bool
}

var keys = []string{
	"ENV", "APP_NAME", "HOST", "PORT", "LOG_LEVEL", "STATIC_DIR",
	"SMART_CLIENT_ID", "SMART_CLIENT_SECRET", "SMART_REDIRECT_URL", "SMART_SCOPE", "SMART_PKCE",
	"STATE_TTL", "STATE_CAPACITY", "STATE_SWEEP_INTERVAL",
	"DISCOVERY_TTL", "DISCOVERY_GRACE", "HTTP_TIMEOUT",
	"SESSION_TTL", "SESSION_SECRET",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
}

// Load reads the configuration from the environment and an optional .env
// file. Missing client credentials outside of DEV are a ConfigurationError.
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("ENV", EnvProd)
	v.SetDefault("APP_NAME", "SMART Launch")
	v.SetDefault("HOST", "")
	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SMART_REDIRECT_URL", "http://localhost:8080/callback")
	v.SetDefault("SMART_SCOPE", "patient/Patient.read patient/Observation.read launch online_access openid profile")
	v.SetDefault("SMART_PKCE", true)
	v.SetDefault("STATE_TTL", 10*time.Minute)
	v.SetDefault("STATE_CAPACITY", 10000)
	v.SetDefault("STATE_SWEEP_INTERVAL", time.Minute)
	v.SetDefault("DISCOVERY_TTL", time.Hour)
	v.SetDefault("DISCOVERY_GRACE", time.Duration(0))
	v.SetDefault("HTTP_TIMEOUT", 10*time.Second)
	v.SetDefault("SESSION_TTL", time.Hour)
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)

	for _, key := range keys {
		_ = v.BindEnv(key)
	}

	// The .env file is optional
	_ = v.ReadInConfig()

	s := &settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrConfiguration, "unmarshal config: %v", err)
	}

	s.Env = strings.ToUpper(strings.TrimSpace(s.Env))
	s.Scope = smart.NormaliseScope(s.Scope)

	if err := s.applyDevDefaults(); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *settings) applyDevDefaults() error {
	if s.SessionSecret == "" {
		secret := make([]byte, minSessionSecretLength)
		if _, err := rand.Read(secret); err != nil {
			return apperrors.Wrapf(apperrors.ErrConfiguration, "generate session secret: %v", err)
		}
		s.SessionSecret = hex.EncodeToString(secret)
		s.generatedSessionSecret = true
	}

	if !s.IsDev() {
		return nil
	}
	if s.ClientID == "" {
		s.ClientID = devClientID
		s.devDefaults = true
	}
	if s.ClientSecret == "" {
		s.ClientSecret = devClientSecret
		s.devDefaults = true
	}
	return nil
}

// Validate checks the loaded values. Every failure wraps ErrConfiguration.
func (s *settings) Validate() error {
	if s.ClientID == "" {
		return fmt.Errorf("%w: SMART_CLIENT_ID is required", apperrors.ErrConfiguration)
	}
	if s.ClientSecret == "" {
		return fmt.Errorf("%w: SMART_CLIENT_SECRET is required", apperrors.ErrConfiguration)
	}

	redirect, err := url.Parse(s.RedirectURL)
	if err != nil || !redirect.IsAbs() || redirect.Host == "" {
		return fmt.Errorf("%w: SMART_REDIRECT_URL must be an absolute URL", apperrors.ErrConfiguration)
	}
	if redirect.Scheme != "https" && redirect.Scheme != "http" {
		return fmt.Errorf("%w: SMART_REDIRECT_URL must use http or https", apperrors.ErrConfiguration)
	}
	if s.Env == EnvProd && redirect.Scheme != "https" {
		return fmt.Errorf("%w: SMART_REDIRECT_URL must use https in %s", apperrors.ErrConfiguration, EnvProd)
	}

	for name, d := range map[string]time.Duration{
		"STATE_TTL":     s.StateTTL,
		"DISCOVERY_TTL": s.DiscoveryTTL,
		"HTTP_TIMEOUT":  s.HTTPTimeout,
		"SESSION_TTL":   s.SessionTTL,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive", apperrors.ErrConfiguration, name)
		}
	}
	if s.DiscoveryGrace < 0 {
		return fmt.Errorf("%w: DISCOVERY_GRACE must not be negative", apperrors.ErrConfiguration)
	}
	if s.StateCapacity < 1 {
		return fmt.Errorf("%w: STATE_CAPACITY must be at least 1", apperrors.ErrConfiguration)
	}
	if len(s.SessionSecret) < minSessionSecretLength {
		return fmt.Errorf("%w: SESSION_SECRET must be at least %d bytes", apperrors.ErrConfiguration, minSessionSecretLength)
	}
	return nil
}

// Fingerprint returns a short, non-reversible identifier for a secret so it
// can be correlated in logs without being disclosed.
func Fingerprint(secret string) string {
	if secret == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])[:8]
}
