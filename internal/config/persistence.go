// file: internal/config/persistence.go
// version: 2.0.0
// guid: 9c8d7e6f-5a4b-3c2d-1e0f-9a8b7c6d5e4f

package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the config file looked up in the home directory.
const ConfigFileName = ".ebook-organizer.yaml"

// DefaultConfigFilePath returns $HOME/.ebook-organizer.yaml, or "" when the
// home directory is unknown.
func DefaultConfigFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ConfigFileName)
}

// Marshal renders the effective configuration as YAML. Access tokens are
// never written.
func Marshal(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

// SaveConfigToFile writes the effective configuration to path.
func SaveConfigToFile(cfg *Config, path string) error {
	if path == "" {
		return fmt.Errorf("cannot determine config file path")
	}
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	log.Printf("[INFO] Configuration saved to file: %s", path)
	return nil
}

// TokenEnvVar names the environment variable holding a provider's access
// token, e.g. EBOOK_ORGANIZER_GDRIVE_TOKEN.
func TokenEnvVar(providerID string) string {
	id := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(providerID))
	return "EBOOK_ORGANIZER_" + id + "_TOKEN"
}

// SyncConfigFromEnv fills provider access tokens from the environment.
// Only non-empty values override what the config file supplied.
func SyncConfigFromEnv() {
	for id, p := range AppConfig.Providers {
		if val := os.Getenv(TokenEnvVar(id)); val != "" {
			p.AccessToken = val
			AppConfig.Providers[id] = p
			log.Printf("[DEBUG] SyncConfigFromEnv: access token for %s loaded from env (length: %d)", id, len(val))
		}
	}
}
