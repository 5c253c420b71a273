package config

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	gconfig "github.com/goliatone/go-config/config"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
)

// DefaultPath is the configuration file read when none is given
const DefaultPath = "config/app.json"

type Config struct {
	Server      Server      `koanf:"server" json:"server"`
	Auth        Auth        `koanf:"auth" json:"auth"`
	Persistence Persistence `koanf:"persistence" json:"persistence"`
	Redis       Redis       `koanf:"redis" json:"redis"`
	Telemetry   Telemetry   `koanf:"telemetry" json:"telemetry"`
	Log         Log         `koanf:"log" json:"log"`
}

type Server struct {
	Addr        string `koanf:"addr" json:"addr"`
	SiteURL     string `koanf:"site_url" json:"site_url"`
	MetricsAddr string `koanf:"metrics_addr" json:"metrics_addr"`
}

type Auth struct {
	SigningKey       string        `koanf:"signing_key" json:"signing_key"`
	Issuer           string        `koanf:"issuer" json:"issuer"`
	Audience         []string      `koanf:"audience" json:"audience"`
	TokenTTL         time.Duration `koanf:"token_ttl" json:"token_ttl"`
	BcryptCost       int           `koanf:"bcrypt_cost" json:"bcrypt_cost"`
	AutoConfirm      bool          `koanf:"auto_confirm" json:"auto_confirm"`
	BootstrapTimeout time.Duration `koanf:"bootstrap_timeout" json:"bootstrap_timeout"`
	LoadingWait      time.Duration `koanf:"loading_wait" json:"loading_wait"`
	AdminWait        time.Duration `koanf:"admin_wait" json:"admin_wait"`
	IdleTTL          time.Duration `koanf:"idle_ttl" json:"idle_ttl"`
	MaxProviders     int           `koanf:"max_providers" json:"max_providers"`
	CookieSecure     bool          `koanf:"cookie_secure" json:"cookie_secure"`
}

type Persistence struct {
	Driver string `koanf:"driver" json:"driver"`
	DSN    string `koanf:"dsn" json:"dsn"`
	Debug  bool   `koanf:"debug" json:"debug"`
}

type Redis struct {
	URL     string `koanf:"url" json:"url"`
	Channel string `koanf:"channel" json:"channel"`
}

type Telemetry struct {
	Tracing bool `koanf:"tracing" json:"tracing"`
}

type Log struct {
	Debug bool `koanf:"debug" json:"debug"`
}

// Defaults returns the base configuration every file is layered on
func Defaults() *Config {
	return &Config{
		Server: Server{
			Addr:        ":8978",
			SiteURL:     "http://localhost:8978",
			MetricsAddr: ":9090",
		},
		Auth: Auth{
			SigningKey:       "development-signing-key-change-me",
			Issuer:           "go-portal",
			Audience:         []string{"portal-web"},
			TokenTTL:         time.Hour,
			BcryptCost:       12,
			BootstrapTimeout: 5 * time.Second,
			LoadingWait:      2 * time.Second,
			AdminWait:        time.Second,
			IdleTTL:          30 * time.Minute,
			MaxProviders:     10000,
		},
		Persistence: Persistence{
			Driver: "sqlite",
			DSN:    "file:portal.db?cache=shared",
		},
		Redis: Redis{
			Channel: "portal:session-events",
		},
	}
}

// Load layers the file at path over Defaults and validates the result.
// An empty path reads DefaultPath.
func Load(ctx context.Context, path string, logger glog.Logger) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	container := gconfig.New(Defaults()).
		WithConfigPath(path).
		WithLogger(logger)

	if err := container.Load(ctx); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "failed to load configuration").
			WithMetadata(map[string]any{"path": path})
	}

	cfg := container.Raw()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if verr := goerrors.ValidateWithOzzo(func() error {
		return validation.Errors{
			"server":      c.Server.validate(),
			"auth":        c.Auth.validate(),
			"persistence": c.Persistence.validate(),
			"redis":       c.Redis.validate(),
		}.Filter()
	}, "invalid configuration"); verr != nil {
		return verr
	}
	return nil
}

func (s Server) validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Addr, validation.Required),
		validation.Field(&s.SiteURL, validation.Required, is.URL),
	)
}

func (a Auth) validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.SigningKey, validation.Required, validation.Length(16, 0)),
		validation.Field(&a.TokenTTL, validation.Required, validation.Min(time.Minute)),
		validation.Field(&a.BcryptCost, validation.Min(4), validation.Max(31)),
		validation.Field(&a.BootstrapTimeout, validation.Min(time.Duration(0))),
		validation.Field(&a.IdleTTL, validation.Min(time.Duration(0))),
		validation.Field(&a.MaxProviders, validation.Min(0)),
	)
}

func (p Persistence) validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Driver, validation.Required, validation.In("sqlite", "postgres")),
		validation.Field(&p.DSN, validation.When(p.Driver == "postgres", validation.Required)),
	)
}

func (r Redis) validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Channel, validation.When(r.URL != "", validation.Required)),
	)
}
