package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
	"github.com/vitalsync/vitalsync/pkg/model"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Security  SecurityConfig
	Providers ProvidersConfig
	OpenAI    OpenAIConfig
	Sync      SyncConfig
	Profile   ProfileConfig
	Logging   LoggingConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port            string
	Environment     string
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	URL            string
	MigrationsPath string
}

// SecurityConfig holds credential-encryption configuration
type SecurityConfig struct {
	EncryptionSecret string
}

// ProviderConfig holds one vendor's API endpoints, OAuth client and
// rate-limit interval. Intervals differ by orders of magnitude between
// vendors; they mirror published API quotas and are overridable here.
type ProviderConfig struct {
	BaseURL         string
	TokenURL        string
	ClientID        string
	ClientSecret    string
	MinSyncInterval time.Duration
}

// ProvidersConfig holds per-vendor configuration
type ProvidersConfig struct {
	Fitbit ProviderConfig
	Garmin ProviderConfig
	Oura   ProviderConfig
	Whoop  ProviderConfig
}

// For returns the configuration for a vendor
func (p *ProvidersConfig) For(source model.Source) (ProviderConfig, error) {
	switch source {
	case model.SourceFitbit:
		return p.Fitbit, nil
	case model.SourceGarmin:
		return p.Garmin, nil
	case model.SourceOura:
		return p.Oura, nil
	case model.SourceWhoop:
		return p.Whoop, nil
	default:
		return ProviderConfig{}, fmt.Errorf("unknown source: %s", source)
	}
}

// MinIntervals returns the rate-limit interval per vendor
func (p *ProvidersConfig) MinIntervals() map[model.Source]time.Duration {
	return map[model.Source]time.Duration{
		model.SourceFitbit: p.Fitbit.MinSyncInterval,
		model.SourceGarmin: p.Garmin.MinSyncInterval,
		model.SourceOura:   p.Oura.MinSyncInterval,
		model.SourceWhoop:  p.Whoop.MinSyncInterval,
	}
}

// OpenAIConfig holds the narrative-enrichment collaborator configuration.
// The collaborator is optional; an empty API key disables it.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// SyncConfig holds background sync scheduling configuration
type SyncConfig struct {
	Schedule          string
	EmergencySchedule string
	Lookback          time.Duration
}

// ProfileConfig holds the external profile service endpoint
type ProfileConfig struct {
	BaseURL string
	Timeout time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string // json or console
}

// Load reads configuration from environment variables and config files
func Load() (*Config, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Read from environment variables
	v.AutomaticEnv()

	// Bind specific environment variables
	bindEnvVars(v)

	// Unmarshal into config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.shutdowntimeout", 30*time.Second)

	// Database defaults
	v.SetDefault("database.migrationspath", "migrations")

	// Vendor API defaults. Rate-limit intervals reflect published quotas:
	// Fitbit and Whoop allow frequent polling, Oura asks for minutes
	// between calls, Garmin's wellness API is effectively hourly.
	v.SetDefault("providers.fitbit.baseurl", "https://api.fitbit.com")
	v.SetDefault("providers.fitbit.tokenurl", "https://api.fitbit.com/oauth2/token")
	v.SetDefault("providers.fitbit.minsyncinterval", 30*time.Second)
	v.SetDefault("providers.garmin.baseurl", "https://apis.garmin.com/wellness-api/rest")
	v.SetDefault("providers.garmin.tokenurl", "https://diauth.garmin.com/di-oauth2-service/oauth/token")
	v.SetDefault("providers.garmin.minsyncinterval", time.Hour)
	v.SetDefault("providers.oura.baseurl", "https://api.ouraring.com/v2")
	v.SetDefault("providers.oura.tokenurl", "https://api.ouraring.com/oauth/token")
	v.SetDefault("providers.oura.minsyncinterval", 5*time.Minute)
	v.SetDefault("providers.whoop.baseurl", "https://api.prod.whoop.com/developer/v1")
	v.SetDefault("providers.whoop.tokenurl", "https://api.prod.whoop.com/oauth/oauth2/token")
	v.SetDefault("providers.whoop.minsyncinterval", 500*time.Millisecond)

	// OpenAI defaults
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.timeout", 10*time.Second)

	// Sync defaults: every 15 minutes, covering the last 24 hours.
	// The emergency check is a lighter pass and runs on a tighter cadence.
	v.SetDefault("sync.schedule", "*/15 * * * *")
	v.SetDefault("sync.emergencyschedule", "@every 1m")
	v.SetDefault("sync.lookback", 24*time.Hour)

	// Profile service defaults
	v.SetDefault("profile.timeout", 5*time.Second)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// bindEnvVars binds environment variables to config keys
func bindEnvVars(v *viper.Viper) {
	// Server
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.environment", "ENV", "ENVIRONMENT")

	// Database
	v.BindEnv("database.url", "DATABASE_URL")
	v.BindEnv("database.migrationspath", "MIGRATIONS_PATH")

	// Security
	v.BindEnv("security.encryptionsecret", "CREDENTIAL_ENCRYPTION_SECRET")

	// Vendor OAuth clients
	v.BindEnv("providers.fitbit.clientid", "FITBIT_CLIENT_ID")
	v.BindEnv("providers.fitbit.clientsecret", "FITBIT_CLIENT_SECRET")
	v.BindEnv("providers.garmin.clientid", "GARMIN_CLIENT_ID")
	v.BindEnv("providers.garmin.clientsecret", "GARMIN_CLIENT_SECRET")
	v.BindEnv("providers.oura.clientid", "OURA_CLIENT_ID")
	v.BindEnv("providers.oura.clientsecret", "OURA_CLIENT_SECRET")
	v.BindEnv("providers.whoop.clientid", "WHOOP_CLIENT_ID")
	v.BindEnv("providers.whoop.clientsecret", "WHOOP_CLIENT_SECRET")

	// OpenAI
	v.BindEnv("openai.apikey", "OPENAI_API_KEY")
	v.BindEnv("openai.model", "OPENAI_MODEL")

	// Sync schedule
	v.BindEnv("sync.schedule", "SYNC_SCHEDULE")
	v.BindEnv("sync.emergencyschedule", "EMERGENCY_SCHEDULE")

	// Profile service
	v.BindEnv("profile.baseurl", "PROFILE_SERVICE_URL")

	// Logging
	v.BindEnv("logging.level", "LOG_LEVEL")
	v.BindEnv("logging.format", "LOG_FORMAT")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}

	if c.Security.EncryptionSecret == "" {
		return fmt.Errorf("security.encryptionsecret is required")
	}

	for _, pc := range []struct {
		name string
		cfg  ProviderConfig
	}{
		{"fitbit", c.Providers.Fitbit},
		{"garmin", c.Providers.Garmin},
		{"oura", c.Providers.Oura},
		{"whoop", c.Providers.Whoop},
	} {
		if pc.cfg.MinSyncInterval <= 0 {
			return fmt.Errorf("providers.%s.minsyncinterval must be positive", pc.name)
		}
	}

	return nil
}
