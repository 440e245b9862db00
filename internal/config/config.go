// Package config loads opsbridge settings from defaults, an optional TOML
// file and the environment (OPSBRIDGE_* plus the legacy variable names the
// original deployment used).
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"opsbridge.org/internal/errs"
)

const envPrefix = "OPSBRIDGE"

// Config is the complete process configuration.
type Config struct {
	Server    Server    `mapstructure:"server"`
	Log       Log       `mapstructure:"log"`
	Graph     Graph     `mapstructure:"graph"`
	Twilio    Twilio    `mapstructure:"twilio"`
	Tasks     Tasks     `mapstructure:"tasks"`
	Assistant Assistant `mapstructure:"assistant"`
	Storage   Storage   `mapstructure:"storage"`
	Reminder  Reminder  `mapstructure:"reminder"`
}

type Server struct {
	Addr            string        `mapstructure:"addr"`
	AuthSecret      string        `mapstructure:"auth_secret"`
	RateBurst       int           `mapstructure:"rate_burst"`
	RatePerSecond   int           `mapstructure:"rate_per_second"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type Log struct {
	JSON  bool   `mapstructure:"json"`
	Level string `mapstructure:"level"`
}

// Graph holds the identity-protected document/collaboration API settings.
// One credential set backs the document, calendar/contacts and mail
// dispatchers.
type Graph struct {
	TenantID     string `mapstructure:"tenant_id"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	Scope        string `mapstructure:"scope"`
	TokenURL     string `mapstructure:"token_url"`
	BaseURL      string `mapstructure:"base_url"`
	SiteURL      string `mapstructure:"site_url"`
	MailFrom     string `mapstructure:"mail_from"`
}

type Twilio struct {
	AccountSID     string `mapstructure:"account_sid"`
	AuthToken      string `mapstructure:"auth_token"`
	FromNumber     string `mapstructure:"from_number"`
	WhatsAppNumber string `mapstructure:"whatsapp_number"`
	BaseURL        string `mapstructure:"base_url"`
}

type Tasks struct {
	IntegrationKey string `mapstructure:"integration_key"`
	ProviderID     string `mapstructure:"provider_id"`
	BaseURL        string `mapstructure:"base_url"`
}

type Assistant struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Version string `mapstructure:"version"`
}

type Storage struct {
	DSN           string `mapstructure:"dsn"`
	JobsTable     string `mapstructure:"jobs_table"`
	ContactsTable string `mapstructure:"contacts_table"`
}

type Reminder struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
	Timezone string `mapstructure:"timezone"`
}

// Load reads configuration. path may be empty.
func Load(path string) (*Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errs.Wrapf(err, "read config file %s", path)
		}
	}
	return FromViper(v)
}

// New returns a viper instance with defaults and environment bindings.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	bindLegacyEnv(v)
	return v
}

// FromViper unmarshals and validates a prepared viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errs.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// bindLegacyEnv keeps the variable names of the original deployment working.
func bindLegacyEnv(v *viper.Viper) {
	legacy := map[string]string{
		"graph.tenant_id":        "SP_TENANT_ID",
		"graph.client_id":        "SP_CLIENT_ID",
		"graph.client_secret":    "SP_CLIENT_SECRET",
		"graph.site_url":         "SP_SITE_URL",
		"graph.mail_from":        "MAIL_FROM",
		"twilio.account_sid":     "TWILIO_ACCOUNT_SID",
		"twilio.auth_token":      "TWILIO_AUTH_TOKEN",
		"twilio.from_number":     "TWILIO_FROM_NUMBER",
		"twilio.whatsapp_number": "TWILIO_WHATSAPP_NUMBER",
		"tasks.integration_key":  "APPENATE_INTEGRATION_KEY",
		"tasks.provider_id":      "APPENATE_PROVIDER_ID",
		"assistant.api_key":      "ANTHROPIC_API_KEY",
	}
	for key, env := range legacy {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, prefixed, env)
	}
}
