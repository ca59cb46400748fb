package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "MSLINK"

	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabasePath      = "mslink.db"
	defaultLogLevel          = "info"
	defaultLoginType         = LoginTypeMicrosoft
	defaultTenant            = "common"
	defaultMaxUsernameLength = 150
	defaultSessionTTLMinutes = 30
)

// Login types supported by the authentication pipeline.
const (
	LoginTypeMicrosoft = "microsoft"
	LoginTypeXbox      = "xbox"
)

// AppConfig captures runtime configuration for the identity-linking service.
type AppConfig struct {
	HTTPAddress  string
	DatabasePath string
	LogLevel     string

	LoginEnabled bool
	LoginType    string
	TenantID     string
	ClientID     string
	ClientSecret string
	ExtraScopes  []string

	AutoCreate          bool
	AutoReplaceAccounts bool
	MaxUsernameLength   int
	XboxSyncUsername    bool

	AuthenticateHook string
	CallbackHook     string

	SessionSigningKey string
	SessionTTL        time.Duration

	Proxies map[string]string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)

	configViper.SetDefault("login.enabled", true)
	configViper.SetDefault("login.type", defaultLoginType)
	configViper.SetDefault("azure.tenant_id", defaultTenant)
	configViper.SetDefault("azure.extra_scopes", "")

	configViper.SetDefault("accounts.auto_create", true)
	configViper.SetDefault("accounts.auto_replace", false)
	configViper.SetDefault("accounts.max_username_length", defaultMaxUsernameLength)
	configViper.SetDefault("xbox.sync_username", false)

	configViper.SetDefault("session.ttl_minutes", defaultSessionTTLMinutes)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:  configViper.GetString("http.address"),
		DatabasePath: configViper.GetString("database.path"),
		LogLevel:     configViper.GetString("log.level"),

		LoginEnabled: configViper.GetBool("login.enabled"),
		LoginType:    configViper.GetString("login.type"),
		TenantID:     configViper.GetString("azure.tenant_id"),
		ClientID:     configViper.GetString("azure.client_id"),
		ClientSecret: configViper.GetString("azure.client_secret"),
		ExtraScopes:  splitScopes(configViper.GetString("azure.extra_scopes")),

		AutoCreate:          configViper.GetBool("accounts.auto_create"),
		AutoReplaceAccounts: configViper.GetBool("accounts.auto_replace"),
		MaxUsernameLength:   configViper.GetInt("accounts.max_username_length"),
		XboxSyncUsername:    configViper.GetBool("xbox.sync_username"),

		AuthenticateHook: configViper.GetString("hooks.authenticate"),
		CallbackHook:     configViper.GetString("hooks.callback"),

		SessionSigningKey: configViper.GetString("session.signing_secret"),
		SessionTTL:        time.Duration(configViper.GetInt("session.ttl_minutes")) * time.Minute,

		Proxies: configViper.GetStringMapString("http.proxies"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningKey) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.LoginType != LoginTypeMicrosoft && c.LoginType != LoginTypeXbox {
		return fmt.Errorf("login.type must be %q or %q, got %q", LoginTypeMicrosoft, LoginTypeXbox, c.LoginType)
	}
	if c.LoginEnabled {
		if strings.TrimSpace(c.ClientID) == "" {
			return fmt.Errorf("azure.client_id is required when login is enabled")
		}
		if strings.TrimSpace(c.ClientSecret) == "" {
			return fmt.Errorf("azure.client_secret is required when login is enabled")
		}
	}
	if c.MaxUsernameLength <= 0 {
		return fmt.Errorf("accounts.max_username_length must be positive")
	}
	return nil
}

// splitScopes parses a space-delimited scope string into a slice.
func splitScopes(raw string) []string {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil
	}
	return fields
}
