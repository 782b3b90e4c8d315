// file: cmd/serve.go
// version: 1.0.0
// guid: 1f4c7a90-2b6d-4e83-9a51-c0d8e3f6b274

package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jdfalk/ebook-organizer/internal/config"
	"github.com/jdfalk/ebook-organizer/internal/server"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sync engine and the HTTP API",
	Long: `Start the sync engine with its scheduler and folder watchers, and serve
the search, library and sync API until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer func() {
			fmt.Println("Shutting down sync engine...")
			if err := eng.Close(); err != nil {
				fmt.Printf("Warning: engine shutdown error: %v\n", err)
			}
		}()

		fmt.Printf("Using database: %s (%s)\n", config.AppConfig.DatabasePath, config.AppConfig.DatabaseType)

		ctx, cancel := context.WithCancel(commandContext(cmd))
		defer cancel()
		if err := eng.Start(ctx); err != nil {
			return fmt.Errorf("failed to start sync engine: %w", err)
		}
		fmt.Printf("Sync engine started with %d providers and %d workers\n",
			len(eng.Registry.IDs()), config.AppConfig.SyncWorkers)
		if next := eng.Scheduler.NextRun(); next != nil {
			fmt.Printf("Next scheduled sync: %s\n", next.Format(time.RFC3339))
		}

		srv := server.NewServer(eng)
		cfg := serverConfigFromFlags(cmd)
		return srv.Start(cfg)
	},
}

func init() {
	serveCmd.Flags().String("port", "", "port to run the web server on (default from config, 8080)")
	serveCmd.Flags().String("host", "", "host to bind the web server to (default from config, localhost)")
	serveCmd.Flags().String("read-timeout", "15s", "read timeout (e.g. 15s, 1m)")
	serveCmd.Flags().String("write-timeout", "15s", "write timeout (e.g. 15s, 1m)")
	serveCmd.Flags().String("idle-timeout", "60s", "idle timeout (e.g. 60s, 2m)")
}

// serverConfigFromFlags layers config file values and then flags over the
// server defaults.
func serverConfigFromFlags(cmd *cobra.Command) server.ServerConfig {
	cfg := server.GetDefaultServerConfig()
	if config.AppConfig.Port > 0 {
		cfg.Port = strconv.Itoa(config.AppConfig.Port)
	}
	if config.AppConfig.Host != "" {
		cfg.Host = config.AppConfig.Host
	}

	if port, _ := cmd.Flags().GetString("port"); port != "" {
		cfg.Port = port
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Host = host
	}
	if rt, _ := cmd.Flags().GetString("read-timeout"); rt != "" {
		if d, err := time.ParseDuration(rt); err == nil {
			cfg.ReadTimeout = d
		}
	}
	if wt, _ := cmd.Flags().GetString("write-timeout"); wt != "" {
		if d, err := time.ParseDuration(wt); err == nil {
			cfg.WriteTimeout = d
		}
	}
	if it, _ := cmd.Flags().GetString("idle-timeout"); it != "" {
		if d, err := time.ParseDuration(it); err == nil {
			cfg.IdleTimeout = d
		}
	}
	return cfg
}
