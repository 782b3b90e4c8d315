// file: internal/config/config_test.go
// version: 2.0.0
// guid: b2c3d4e5-f6a7-8b9c-0d1e-2f3a4b5c6d7e

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// TestInitConfig tests configuration initialization with defaults
func TestInitConfig(t *testing.T) {
	// Arrange
	viper.Reset()

	// Act
	InitConfig()

	// Assert
	assert.Equal(t, "pebble", AppConfig.DatabaseType)
	assert.Equal(t, "ebooks.pebble", AppConfig.DatabasePath)
	assert.False(t, AppConfig.EnableSQLite)
	assert.Equal(t, 2, AppConfig.SyncWorkers)
	assert.Equal(t, 4, AppConfig.MaxConcurrentDownloads)
	assert.Equal(t, 50, AppConfig.SyncMaxPagesPerPass)
	assert.Equal(t, 10*time.Minute, AppConfig.SyncMaxPassDuration)
	assert.Equal(t, 5, AppConfig.RetryMaxAttempts)
	assert.Equal(t, 500*time.Millisecond, AppConfig.RetryInitialInterval)
	assert.Equal(t, 30*time.Second, AppConfig.RetryMaxInterval)
	assert.Equal(t, 3, AppConfig.PauseErrorThreshold)
	assert.Equal(t, 30*time.Second, AppConfig.RequestTimeout)
	assert.Empty(t, AppConfig.SyncSchedule)
	assert.True(t, AppConfig.WatchLocalFolders)
	assert.InDelta(t, 0.75, AppConfig.EnrichmentConfidenceThreshold, 1e-9)
	assert.Empty(t, AppConfig.Providers)
	assert.NoError(t, AppConfig.Validate())
}

// TestDatabaseTypeNormalization tests sqlite3 alias handling
func TestDatabaseTypeNormalization(t *testing.T) {
	viper.Reset()
	viper.Set("database_type", "sqlite3")
	InitConfig()
	assert.Equal(t, "sqlite", AppConfig.DatabaseType)

	err := AppConfig.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enable_sqlite3_i_know_the_risks")

	AppConfig.EnableSQLite = true
	assert.NoError(t, AppConfig.Validate())
}

// TestProvidersFromFile tests the providers section of a YAML config file
func TestProvidersFromFile(t *testing.T) {
	// Arrange
	viper.Reset()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
providers:
  gdrive:
    type: gdrive
    folder_id: abc123
    requests_per_second: 5
  shelf:
    type: local
    root: /srv/books
    enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	viper.SetConfigFile(path)
	require.NoError(t, viper.ReadInConfig())

	// Act
	InitConfig()

	// Assert
	require.Len(t, AppConfig.Providers, 2)
	assert.Equal(t, []string{"gdrive", "shelf"}, AppConfig.ProviderIDs())
	gd := AppConfig.Providers["gdrive"]
	assert.Equal(t, ProviderTypeGoogleDrive, gd.Type)
	assert.True(t, gd.Enabled)
	assert.Equal(t, "abc123", gd.FolderID)
	assert.InDelta(t, 5.0, gd.RequestsPerSecond, 1e-9)
	shelf := AppConfig.Providers["shelf"]
	assert.False(t, shelf.Enabled)
	assert.Equal(t, "/srv/books", shelf.Root)
	assert.NoError(t, AppConfig.Validate())
}

// TestConfigurationValidation tests rejected configurations
func TestConfigurationValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"unknown database", func(c *Config) { c.DatabaseType = "mysql" }, "unsupported database_type"},
		{"no workers", func(c *Config) { c.SyncWorkers = 0 }, "sync_workers"},
		{"no downloads", func(c *Config) { c.MaxConcurrentDownloads = 0 }, "max_concurrent_downloads"},
		{"no attempts", func(c *Config) { c.RetryMaxAttempts = 0 }, "retry_max_attempts"},
		{"no threshold", func(c *Config) { c.PauseErrorThreshold = 0 }, "pause_error_threshold"},
		{"local without root", func(c *Config) {
			c.Providers = map[string]ProviderConfig{"shelf": {Type: ProviderTypeLocal}}
		}, "need a root"},
		{"unknown provider type", func(c *Config) {
			c.Providers = map[string]ProviderConfig{"box": {Type: "box"}}
		}, "unsupported type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			InitConfig()
			cfg := AppConfig
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

// TestSaveConfigToFile tests that saved configs omit tokens and read back
func TestSaveConfigToFile(t *testing.T) {
	viper.Reset()
	InitConfig()
	cfg := AppConfig
	cfg.Providers = map[string]ProviderConfig{
		"gdrive": {Type: ProviderTypeGoogleDrive, Enabled: true, AccessToken: "secret"},
	}
	path := filepath.Join(t.TempDir(), "nested", ConfigFileName)

	require.NoError(t, SaveConfigToFile(&cfg, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(data), "secret"))

	var back map[string]any
	require.NoError(t, yaml.Unmarshal(data, &back))
	assert.Equal(t, "pebble", back["database_type"])
	assert.Equal(t, "10m0s", back["sync_max_pass_duration"])
}

// TestSyncConfigFromEnv tests token overrides from the environment
func TestSyncConfigFromEnv(t *testing.T) {
	viper.Reset()
	InitConfig()
	AppConfig.Providers = map[string]ProviderConfig{"my-drive": {Type: ProviderTypeOneDrive}}
	assert.Equal(t, "EBOOK_ORGANIZER_MY_DRIVE_TOKEN", TokenEnvVar("my-drive"))

	t.Setenv("EBOOK_ORGANIZER_MY_DRIVE_TOKEN", "tok")
	SyncConfigFromEnv()
	assert.Equal(t, "tok", AppConfig.Providers["my-drive"].AccessToken)
}
