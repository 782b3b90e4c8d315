// file: cmd/config.go
// version: 1.0.0
// guid: 2a9f6e13-7c4b-4d58-9e21-b3c8d0f5a617

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jdfalk/ebook-organizer/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or save the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML (access tokens omitted)",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := config.Marshal(&config.AppConfig)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var configSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Write the effective configuration to a file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("path")
		if path == "" {
			path = config.DefaultConfigFilePath()
		}
		if err := config.AppConfig.Validate(); err != nil {
			return fmt.Errorf("refusing to save invalid configuration: %w", err)
		}
		if err := config.SaveConfigToFile(&config.AppConfig, path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
		return nil
	},
}

func init() {
	configSaveCmd.Flags().String("path", "", "destination file (default $HOME/"+config.ConfigFileName+")")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSaveCmd)
}
