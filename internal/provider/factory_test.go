// file: internal/provider/factory_test.go
// version: 2.0.0
// guid: 71c8f3e2-0a4d-4b95-a6e1-9d2f5c8b3e07

package provider

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdfalk/ebook-organizer/internal/config"
)

func TestNewAdapterFromConfig(t *testing.T) {
	app := &config.Config{}
	stubClient := func(string, config.ProviderConfig) (*http.Client, error) { return http.DefaultClient, nil }

	tests := []struct {
		name    string
		cfg     config.ProviderConfig
		wantErr bool
		check   func(t *testing.T, a Adapter)
	}{
		{"memory", config.ProviderConfig{Type: config.ProviderTypeMemory}, false, func(t *testing.T, a Adapter) {
			assert.IsType(t, &MemoryAdapter{}, a)
		}},
		{"local", config.ProviderConfig{Type: config.ProviderTypeLocal, Root: t.TempDir()}, false, func(t *testing.T, a Adapter) {
			assert.IsType(t, &LocalFolderAdapter{}, a)
		}},
		{"local missing root", config.ProviderConfig{Type: config.ProviderTypeLocal, Root: "/does/not/exist"}, true, nil},
		{"gdrive", config.ProviderConfig{Type: config.ProviderTypeGoogleDrive, FolderID: "books"}, false, func(t *testing.T, a Adapter) {
			g, ok := a.(*GoogleDriveAdapter)
			require.True(t, ok)
			assert.Equal(t, "books", g.folderID)
			assert.Equal(t, defaultGoogleDriveURL, g.baseURL)
		}},
		{"onedrive", config.ProviderConfig{Type: config.ProviderTypeOneDrive, BaseURL: "http://graph.test/"}, false, func(t *testing.T, a Adapter) {
			o, ok := a.(*OneDriveAdapter)
			require.True(t, ok)
			assert.Equal(t, "http://graph.test", o.baseURL)
		}},
		{"unknown", config.ProviderConfig{Type: "ftp"}, true, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := NewAdapterFromConfig(tt.name, tt.cfg, app, t.TempDir(), stubClient)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.name, a.ID())
			tt.check(t, a)
		})
	}
}

func TestNewAdapterFromConfigNeedsToken(t *testing.T) {
	_, err := NewAdapterFromConfig("gdrive", config.ProviderConfig{Type: config.ProviderTypeGoogleDrive}, &config.Config{}, t.TempDir(), nil)
	assert.Error(t, err)

	failing := func(string, config.ProviderConfig) (*http.Client, error) { return nil, errors.New("no credentials") }
	_, err = NewAdapterFromConfig("onedrive", config.ProviderConfig{Type: config.ProviderTypeOneDrive}, &config.Config{}, t.TempDir(), failing)
	assert.ErrorContains(t, err, "no credentials")

	a, err := NewAdapterFromConfig("gdrive", config.ProviderConfig{Type: config.ProviderTypeGoogleDrive, AccessToken: "tok"}, &config.Config{}, t.TempDir(), nil)
	require.NoError(t, err)
	assert.Equal(t, "gdrive", a.ID())
}

func TestNewRegistryFromConfig(t *testing.T) {
	app := &config.Config{Providers: map[string]config.ProviderConfig{
		"shelf": {Type: config.ProviderTypeLocal, Root: t.TempDir(), Enabled: true},
		"mem":   {Type: config.ProviderTypeMemory, Enabled: false},
	}}

	reg, err := NewRegistryFromConfig(app, t.TempDir(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"mem", "shelf"}, reg.IDs())

	app.Providers["bad"] = config.ProviderConfig{Type: "ftp"}
	_, err = NewRegistryFromConfig(app, t.TempDir(), nil)
	assert.Error(t, err)
}
