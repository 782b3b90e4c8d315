// file: cmd/root.go
// version: 2.1.0
// guid: 6a7b8c9d-0e1f-2a3b-4c5d-6e7f8a9b0c1d

package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jdfalk/ebook-organizer/internal/config"
	"github.com/jdfalk/ebook-organizer/internal/engine"
)

var cfgFile string
var databasePath string
var databaseType string
var enableSQLite bool

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ebook-organizer",
	Short: "Sync, categorize and search an ebook library spread across cloud drives",
	Long: `Ebook Organizer keeps a local cache of the ebooks stored in your cloud
drives and local folders. It syncs incrementally from each provider's change
feed, fills in missing metadata, and serves a ranked full-text search over the
whole library.

Local edits and tags are kept as overlays; when a book changed on both sides
the conflict is held until you resolve it.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/"+config.ConfigFileName+")")
	rootCmd.PersistentFlags().StringVar(&databasePath, "db", "ebooks.pebble", "path to the library cache database")
	rootCmd.PersistentFlags().StringVar(&databaseType, "db-type", "pebble", "database type: pebble (default) or sqlite")
	rootCmd.PersistentFlags().BoolVar(&enableSQLite, "enable-sqlite3-i-know-the-risks", false, "enable SQLite3 database (WARNING: cross-compilation issues, PebbleDB recommended)")

	viper.BindPFlag("database_path", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("database_type", rootCmd.PersistentFlags().Lookup("db-type"))
	viper.BindPFlag("enable_sqlite3_i_know_the_risks", rootCmd.PersistentFlags().Lookup("enable-sqlite3-i-know-the-risks"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(reindexCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(tagCmd)
	rootCmd.AddCommand(enrichCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(taxonomyCmd)
	rootCmd.AddCommand(organizeCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(diagnosticsCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".ebook-organizer")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	// Ensure database directory exists
	if databasePath != "" {
		dbDir := filepath.Dir(databasePath)
		if dbDir != "." {
			if err := os.MkdirAll(dbDir, 0755); err != nil {
				fmt.Printf("Error creating database directory: %v\n", err)
			}
		}
	}

	config.InitConfig()
	config.SyncConfigFromEnv()
}

// openEngine opens the engine over the current configuration. One-shot
// commands use it without Start, so no watchers or schedules run.
func openEngine(opts ...engine.Option) (*engine.Engine, error) {
	eng, err := engine.Open(&config.AppConfig, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open library: %w", err)
	}
	return eng, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
