// file: internal/config/config.go
// version: 2.0.0
// guid: 7b8c9d0e-1f2a-3b4c-5d6e-7f8a9b0c1d2e

package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/viper"
)

// Provider types understood by the provider factory.
const (
	ProviderTypeMemory      = "memory"
	ProviderTypeLocal       = "local"
	ProviderTypeGoogleDrive = "gdrive"
	ProviderTypeOneDrive    = "onedrive"
)

// ProviderConfig describes one configured cloud provider account.
type ProviderConfig struct {
	Type              string  `mapstructure:"type" yaml:"type"`
	Enabled           bool    `mapstructure:"enabled" yaml:"enabled"`
	BaseURL           string  `mapstructure:"base_url" yaml:"base_url,omitempty"`
	Root              string  `mapstructure:"root" yaml:"root,omitempty"`
	FolderID          string  `mapstructure:"folder_id" yaml:"folder_id,omitempty"`
	AccessToken       string  `mapstructure:"access_token" yaml:"-"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second,omitempty"`
}

// Config holds application configuration
type Config struct {
	DatabasePath string `yaml:"database_path"`
	DatabaseType string `yaml:"database_type"` // "pebble" (default) or "sqlite"
	EnableSQLite bool   `yaml:"enable_sqlite3_i_know_the_risks"`

	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Sync engine
	SyncWorkers            int           `yaml:"sync_workers"`
	MaxConcurrentDownloads int           `yaml:"max_concurrent_downloads"`
	SyncMaxPagesPerPass    int           `yaml:"sync_max_pages_per_pass"`
	SyncMaxPassDuration    time.Duration `yaml:"sync_max_pass_duration"`
	RetryMaxAttempts       int           `yaml:"retry_max_attempts"`
	RetryInitialInterval   time.Duration `yaml:"retry_initial_interval"`
	RetryMaxInterval       time.Duration `yaml:"retry_max_interval"`
	PauseErrorThreshold    int           `yaml:"pause_error_threshold"`
	RequestTimeout         time.Duration `yaml:"request_timeout"`
	SyncSchedule           string        `yaml:"sync_schedule"`
	WatchLocalFolders      bool          `yaml:"watch_local_folders"`

	// Metadata enrichment
	EnableMetadataLookup          bool    `yaml:"enable_metadata_lookup"`
	EnrichmentConfidenceThreshold float64 `yaml:"enrichment_confidence_threshold"`
	OpenLibraryBaseURL            string  `yaml:"openlibrary_base_url"`
	OpenLibraryRequestsPerSecond  float64 `yaml:"openlibrary_requests_per_second"`

	LogLevel string `yaml:"log_level"`

	Providers map[string]ProviderConfig `yaml:"providers"`
}

var AppConfig Config

// SetDefaults registers every default with viper.
func SetDefaults() {
	viper.SetDefault("database_path", "ebooks.pebble")
	viper.SetDefault("database_type", "pebble")
	viper.SetDefault("enable_sqlite3_i_know_the_risks", false)
	viper.SetDefault("host", "localhost")
	viper.SetDefault("port", 8080)

	viper.SetDefault("sync_workers", 2)
	viper.SetDefault("max_concurrent_downloads", 4)
	viper.SetDefault("sync_max_pages_per_pass", 50)
	viper.SetDefault("sync_max_pass_duration", "10m")
	viper.SetDefault("retry_max_attempts", 5)
	viper.SetDefault("retry_initial_interval", "500ms")
	viper.SetDefault("retry_max_interval", "30s")
	viper.SetDefault("pause_error_threshold", 3)
	viper.SetDefault("request_timeout", "30s")
	viper.SetDefault("sync_schedule", "")
	viper.SetDefault("watch_local_folders", true)

	viper.SetDefault("enable_metadata_lookup", true)
	viper.SetDefault("enrichment_confidence_threshold", 0.75)
	viper.SetDefault("openlibrary_base_url", "")
	viper.SetDefault("openlibrary_requests_per_second", 1.0)

	viper.SetDefault("log_level", "info")
}

// InitConfig initializes the application configuration
func InitConfig() {
	SetDefaults()

	AppConfig = Config{
		DatabasePath: viper.GetString("database_path"),
		DatabaseType: viper.GetString("database_type"),
		EnableSQLite: viper.GetBool("enable_sqlite3_i_know_the_risks"),
		Host:         viper.GetString("host"),
		Port:         viper.GetInt("port"),

		SyncWorkers:            viper.GetInt("sync_workers"),
		MaxConcurrentDownloads: viper.GetInt("max_concurrent_downloads"),
		SyncMaxPagesPerPass:    viper.GetInt("sync_max_pages_per_pass"),
		SyncMaxPassDuration:    viper.GetDuration("sync_max_pass_duration"),
		RetryMaxAttempts:       viper.GetInt("retry_max_attempts"),
		RetryInitialInterval:   viper.GetDuration("retry_initial_interval"),
		RetryMaxInterval:       viper.GetDuration("retry_max_interval"),
		PauseErrorThreshold:    viper.GetInt("pause_error_threshold"),
		RequestTimeout:         viper.GetDuration("request_timeout"),
		SyncSchedule:           viper.GetString("sync_schedule"),
		WatchLocalFolders:      viper.GetBool("watch_local_folders"),

		EnableMetadataLookup:          viper.GetBool("enable_metadata_lookup"),
		EnrichmentConfidenceThreshold: viper.GetFloat64("enrichment_confidence_threshold"),
		OpenLibraryBaseURL:            viper.GetString("openlibrary_base_url"),
		OpenLibraryRequestsPerSecond:  viper.GetFloat64("openlibrary_requests_per_second"),

		LogLevel: viper.GetString("log_level"),
	}

	providers := make(map[string]ProviderConfig)
	if err := viper.UnmarshalKey("providers", &providers); err != nil {
		fmt.Printf("Warning: invalid providers section: %v\n", err)
	}
	for id, p := range providers {
		// A provider listed without an explicit enabled flag is on.
		if !viper.IsSet("providers." + id + ".enabled") {
			p.Enabled = true
		}
		providers[id] = p
	}
	AppConfig.Providers = providers

	// Normalize database type
	if AppConfig.DatabaseType == "sqlite3" {
		AppConfig.DatabaseType = "sqlite"
	}
	if AppConfig.DatabaseType == "" {
		AppConfig.DatabaseType = "pebble"
	}
}

// ProviderIDs returns the configured provider ids in sorted order.
func (c *Config) ProviderIDs() []string {
	ids := make([]string, 0, len(c.Providers))
	for id := range c.Providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Validate checks values the sync engine cannot run with.
func (c *Config) Validate() error {
	switch c.DatabaseType {
	case "pebble":
	case "sqlite":
		if !c.EnableSQLite {
			return fmt.Errorf("sqlite requires enable_sqlite3_i_know_the_risks")
		}
	default:
		return fmt.Errorf("unsupported database_type %q", c.DatabaseType)
	}
	if c.SyncWorkers < 1 {
		return fmt.Errorf("sync_workers must be at least 1, got %d", c.SyncWorkers)
	}
	if c.MaxConcurrentDownloads < 1 {
		return fmt.Errorf("max_concurrent_downloads must be at least 1, got %d", c.MaxConcurrentDownloads)
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("retry_max_attempts must be at least 1, got %d", c.RetryMaxAttempts)
	}
	if c.PauseErrorThreshold < 1 {
		return fmt.Errorf("pause_error_threshold must be at least 1, got %d", c.PauseErrorThreshold)
	}
	for _, id := range c.ProviderIDs() {
		p := c.Providers[id]
		switch p.Type {
		case ProviderTypeMemory, ProviderTypeGoogleDrive, ProviderTypeOneDrive:
		case ProviderTypeLocal:
			if p.Root == "" {
				return fmt.Errorf("provider %s: local providers need a root", id)
			}
		default:
			return fmt.Errorf("provider %s: unsupported type %q", id, p.Type)
		}
	}
	return nil
}
