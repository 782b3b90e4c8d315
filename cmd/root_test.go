// file: cmd/root_test.go
// version: 2.0.0
// guid: 7eae8d0c-7fda-4f45-8f73-5d1e0c7c9f1a

package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"

	"github.com/jdfalk/ebook-organizer/internal/config"
)

func TestInitConfigCreatesDirectories(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "db", "ebooks.pebble")

	origCfgFile := cfgFile
	origDBPath := databasePath
	origConfig := config.AppConfig
	defer func() {
		cfgFile = origCfgFile
		databasePath = origDBPath
		config.AppConfig = origConfig
	}()

	cfgFile = filepath.Join(tempDir, "config.yaml")
	databasePath = dbPath

	initConfig()

	if _, err := os.Stat(filepath.Dir(dbPath)); err != nil {
		t.Fatalf("expected database directory to exist: %v", err)
	}
}

func TestInitConfigUsesHomeConfig(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, config.ConfigFileName)
	body := []byte("sync_workers: 7\nproviders:\n  shelf:\n    type: local\n    root: /srv/books\n")
	if err := os.WriteFile(configPath, body, 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	origCfgFile := cfgFile
	origDBPath := databasePath
	origConfig := config.AppConfig
	defer func() {
		cfgFile = origCfgFile
		databasePath = origDBPath
		config.AppConfig = origConfig
		viper.Reset()
	}()

	t.Setenv("HOME", tempDir)
	cfgFile = ""
	databasePath = ""

	viper.Reset()
	initConfig()

	if config.AppConfig.SyncWorkers != 7 {
		t.Fatalf("expected sync_workers from home config, got %d", config.AppConfig.SyncWorkers)
	}
	shelf, ok := config.AppConfig.Providers["shelf"]
	if !ok {
		t.Fatal("expected provider from home config")
	}
	if !shelf.Enabled || shelf.Root != "/srv/books" {
		t.Fatalf("unexpected provider config: %+v", shelf)
	}
}

func TestInitConfigReadsTokenFromEnv(t *testing.T) {
	tempDir := t.TempDir()
	cfg := filepath.Join(tempDir, "config.yaml")
	if err := os.WriteFile(cfg, []byte("providers:\n  drive:\n    type: gdrive\n"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	origCfgFile := cfgFile
	origDBPath := databasePath
	origConfig := config.AppConfig
	defer func() {
		cfgFile = origCfgFile
		databasePath = origDBPath
		config.AppConfig = origConfig
		viper.Reset()
	}()

	t.Setenv(config.TokenEnvVar("drive"), "secret-token")
	viper.Reset()
	cfgFile = cfg
	databasePath = ""

	initConfig()

	if got := config.AppConfig.Providers["drive"].AccessToken; got != "secret-token" {
		t.Fatalf("expected token from env, got %q", got)
	}
}

func TestExecuteHelp(t *testing.T) {
	tempDir := t.TempDir()

	origCfg := cfgFile
	origDBPath := databasePath
	defer func() {
		cfgFile = origCfg
		databasePath = origDBPath
	}()

	cfgFile = filepath.Join(tempDir, "config.yaml")
	databasePath = filepath.Join(tempDir, "ebooks.pebble")

	rootCmd.SetArgs([]string{"--db", databasePath, "--help"})
	defer rootCmd.SetArgs(nil)

	if err := Execute(); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
}

func TestServerConfigFromFlags(t *testing.T) {
	origConfig := config.AppConfig
	defer func() {
		config.AppConfig = origConfig
		_ = serveCmd.Flags().Set("port", "")
		_ = serveCmd.Flags().Set("read-timeout", "15s")
	}()

	config.AppConfig.Host = "0.0.0.0"
	config.AppConfig.Port = 9090

	cfg := serverConfigFromFlags(serveCmd)
	if cfg.Host != "0.0.0.0" || cfg.Port != "9090" {
		t.Fatalf("expected config values, got %s:%s", cfg.Host, cfg.Port)
	}

	if err := serveCmd.Flags().Set("port", "7070"); err != nil {
		t.Fatalf("failed to set flag: %v", err)
	}
	if err := serveCmd.Flags().Set("read-timeout", "2m"); err != nil {
		t.Fatalf("failed to set flag: %v", err)
	}
	cfg = serverConfigFromFlags(serveCmd)
	if cfg.Port != "7070" {
		t.Fatalf("expected flag to override port, got %s", cfg.Port)
	}
	if cfg.ReadTimeout.Minutes() != 2 {
		t.Fatalf("expected 2m read timeout, got %v", cfg.ReadTimeout)
	}
}
