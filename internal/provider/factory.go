// file: internal/provider/factory.go
// version: 2.0.0
// guid: be6a33cc-3062-42b7-b395-1892d8829540

package provider

import (
	"fmt"
	"log"
	"net/http"
	"path/filepath"

	"github.com/jdfalk/ebook-organizer/internal/config"
)

// ClientFunc supplies the authenticated HTTP client of a cloud provider.
type ClientFunc func(id string, cfg config.ProviderConfig) (*http.Client, error)

// TokenClient authenticates with the provider's configured access token.
func TokenClient(_ string, cfg config.ProviderConfig) (*http.Client, error) {
	return BearerClient(cfg.AccessToken)
}

// NewAdapterFromConfig builds the adapter for one configured provider.
// stateDir holds local snapshots; clients supplies HTTP clients and may be
// nil to use TokenClient.
func NewAdapterFromConfig(id string, cfg config.ProviderConfig, app *config.Config, stateDir string, clients ClientFunc) (Adapter, error) {
	if clients == nil {
		clients = TokenClient
	}
	switch cfg.Type {
	case config.ProviderTypeMemory:
		return NewMemoryAdapter(id, 0), nil
	case config.ProviderTypeLocal:
		return NewLocalFolderAdapter(id, cfg.Root, filepath.Join(stateDir, id), 0)
	case config.ProviderTypeGoogleDrive:
		client, err := clients(id, cfg)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", id, err)
		}
		return NewGoogleDriveAdapter(id, client, GoogleDriveOptions{
			BaseURL:           cfg.BaseURL,
			FolderID:          cfg.FolderID,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Timeout:           app.RequestTimeout,
		}), nil
	case config.ProviderTypeOneDrive:
		client, err := clients(id, cfg)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", id, err)
		}
		return NewOneDriveAdapter(id, client, OneDriveOptions{
			BaseURL:           cfg.BaseURL,
			FolderID:          cfg.FolderID,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Timeout:           app.RequestTimeout,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", cfg.Type)
	}
}

// NewRegistryFromConfig registers an adapter for every configured provider.
// Disabled providers are registered too so their status can be reported;
// the coordinator skips them.
func NewRegistryFromConfig(app *config.Config, stateDir string, clients ClientFunc) (*Registry, error) {
	reg := NewRegistry()
	for _, id := range app.ProviderIDs() {
		cfg := app.Providers[id]
		a, err := NewAdapterFromConfig(id, cfg, app, stateDir, clients)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(a); err != nil {
			return nil, err
		}
		log.Printf("[INFO] provider %s registered (type %s, enabled %t)", id, cfg.Type, cfg.Enabled)
	}
	return reg, nil
}
