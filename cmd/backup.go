// file: cmd/backup.go
// version: 1.0.0
// guid: 6d3a9f52-1e8b-4c07-b4a6-8f2e7c5d1a39

package cmd

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jdfalk/ebook-organizer/internal/backup"
	"github.com/jdfalk/ebook-organizer/internal/config"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create, list and restore library cache backups",
}

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Archive the library cache and provider state",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		cfg := backupConfig(cmd)
		info, err := backup.Create(backup.Source{
			Store:        eng.Store,
			DatabaseType: config.AppConfig.DatabaseType,
			StateDir:     eng.StateDir,
		}, cfg)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Backup written to %s (%d bytes, sha256 %s)\n", info.Path, info.Size, info.Checksum)
		return nil
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		backups, err := backup.List(backupConfig(cmd).Dir)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(backups) == 0 {
			fmt.Fprintln(out, "No backups")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "FILE\tTYPE\tSIZE\tCREATED")
		for _, b := range backups {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", b.Filename, b.DatabaseType, b.Size, b.CreatedAt.Local().Format(time.RFC3339))
		}
		return tw.Flush()
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore <archive>",
	Short: "Replace the library cache with a backup (stop the server first)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if force, _ := cmd.Flags().GetBool("yes"); !force {
			confirmed, err := promptYesNo(cmd.InOrStdin(), out,
				fmt.Sprintf("Replace %s with %s", config.AppConfig.DatabasePath, args[0]))
			if err != nil {
				return err
			}
			if !confirmed {
				fmt.Fprintln(out, "Aborted. Nothing was restored.")
				return nil
			}
		}
		skipVerify, _ := cmd.Flags().GetBool("skip-verify")
		target := backup.Target{
			DatabasePath: config.AppConfig.DatabasePath,
			DatabaseType: config.AppConfig.DatabaseType,
			StateDir:     filepath.Join(filepath.Dir(config.AppConfig.DatabasePath), "provider-state"),
		}
		if err := backup.Restore(args[0], target, !skipVerify); err != nil {
			return err
		}
		fmt.Fprintf(out, "Restored %s\n", args[0])
		return nil
	},
}

func backupConfig(cmd *cobra.Command) backup.Config {
	cfg := backup.DefaultConfig(config.AppConfig.DatabasePath)
	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		cfg.Dir = dir
	}
	if keep, err := cmd.Flags().GetInt("keep"); err == nil {
		cfg.MaxBackups = keep
	}
	return cfg
}

func init() {
	for _, c := range []*cobra.Command{backupCreateCmd, backupListCmd} {
		c.Flags().String("dir", "", "backup directory (default: backups next to the database)")
	}
	backupCreateCmd.Flags().Int("keep", 10, "number of backups to keep (0 keeps all)")
	backupRestoreCmd.Flags().Bool("yes", false, "Skip confirmation prompt")
	backupRestoreCmd.Flags().Bool("skip-verify", false, "restore even without a matching checksum file")

	backupCmd.AddCommand(backupCreateCmd)
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupRestoreCmd)
}
