// file: cmd/diagnostics.go
// version: 2.0.0
// guid: c8f6a0d4-2a8b-48cf-9d08-02cc9915d9fc

package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cockroachdb/pebble/v2"
	"github.com/spf13/cobra"

	"github.com/jdfalk/ebook-organizer/internal/config"
	"github.com/jdfalk/ebook-organizer/internal/database"
)

var (
	diagnosticsCmd = &cobra.Command{
		Use:   "diagnostics",
		Short: "Debugging and cleanup helpers",
		Long:  "Diagnostic utilities for inspecting and resetting the library cache.",
	}

	resetCmd = &cobra.Command{
		Use:   "reset",
		Short: "Erase the library cache so the next sync starts from scratch",
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("yes")
			return runDiagnosticsReset(cmd, force)
		},
	}

	queryCmd = &cobra.Command{
		Use:   "query",
		Short: "Inspect stored ebook records",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			prefix, _ := cmd.Flags().GetString("prefix")
			raw, _ := cmd.Flags().GetBool("raw")
			return runDiagnosticsQuery(cmd.OutOrStdout(), limit, prefix, raw)
		},
	}
)

func init() {
	resetCmd.Flags().Bool("yes", false, "Skip confirmation prompt")

	queryCmd.Flags().Int("limit", 5, "Number of records to display")
	queryCmd.Flags().String("prefix", "record:", "Key prefix to inspect when --raw is set")
	queryCmd.Flags().Bool("raw", false, "Show raw Pebble key/value data (Pebble only)")

	diagnosticsCmd.AddCommand(resetCmd)
	diagnosticsCmd.AddCommand(queryCmd)
}

func runDiagnosticsReset(cmd *cobra.Command, force bool) error {
	out := cmd.OutOrStdout()
	if !force {
		confirmed, err := promptYesNo(cmd.InOrStdin(), out,
			fmt.Sprintf("Erase every record, overlay and cursor in %s", config.AppConfig.DatabasePath))
		if err != nil {
			return err
		}
		if !confirmed {
			fmt.Fprintln(out, "Aborted. Nothing was erased.")
			return nil
		}
	}

	store, err := database.OpenStore(config.AppConfig.DatabaseType, config.AppConfig.DatabasePath, config.AppConfig.EnableSQLite)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	if err := store.Reset(); err != nil {
		return fmt.Errorf("failed to reset database: %w", err)
	}
	fmt.Fprintln(out, "Library cache erased. Run a sync to repopulate it.")
	return nil
}

func runDiagnosticsQuery(out io.Writer, limit int, prefix string, raw bool) error {
	if limit <= 0 {
		return errors.New("limit must be positive")
	}

	if raw {
		if config.AppConfig.DatabaseType != "pebble" {
			return fmt.Errorf("raw inspection is only available for Pebble databases")
		}
		return runRawPebbleQuery(out, limit, prefix)
	}

	store, err := database.OpenStore(config.AppConfig.DatabaseType, config.AppConfig.DatabasePath, config.AppConfig.EnableSQLite)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	records, err := store.ListRecords(database.RecordFilter{IncludeDeleted: true, Limit: limit})
	if err != nil {
		return fmt.Errorf("failed to fetch records: %w", err)
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "No records found.")
		return nil
	}

	for i, rec := range records {
		fmt.Fprintf(out, "%2d. Ref: %s\n", i+1, rec.Ref())
		fmt.Fprintf(out, "    Title: %s\n", rec.Title)
		fmt.Fprintf(out, "    Path: %s\n", rec.RemotePath)
		fmt.Fprintf(out, "    State: %s\n", rec.SyncState)
		if rec.ContentHash != "" {
			fmt.Fprintf(out, "    ContentHash: %s\n", rec.ContentHash)
		}
		if rec.Deleted && rec.DeletedAt != nil {
			fmt.Fprintf(out, "    DeletedAt: %s\n", rec.DeletedAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Fprintln(out, "---")
	}

	return nil
}

func runRawPebbleQuery(out io.Writer, limit int, prefix string) error {
	db, err := pebble.Open(config.AppConfig.DatabasePath, &pebble.Options{
		FormatMajorVersion: pebble.FormatNewest,
	})
	if err != nil {
		return fmt.Errorf("failed to open Pebble database: %w", err)
	}
	defer db.Close()

	iterOpts := &pebble.IterOptions{}
	if prefix != "" {
		iterOpts.LowerBound = []byte(prefix)
		iterOpts.UpperBound = append([]byte(prefix), 0xFF)
	}

	iter, err := db.NewIter(iterOpts)
	if err != nil {
		return fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	count := 0
	for ok := iter.First(); ok && iter.Valid(); ok = iter.Next() {
		fmt.Fprintf(out, "Key: %s\n", string(iter.Key()))
		val := iter.Value()
		fmt.Fprintf(out, "Value length: %d bytes\n", len(val))
		fmt.Fprintf(out, "Value preview: %s\n", truncateString(string(val), 500))
		fmt.Fprintln(out, "---")

		count++
		if count >= limit {
			break
		}
	}

	if err := iter.Error(); err != nil {
		return fmt.Errorf("iterator error: %w", err)
	}

	if count == 0 {
		fmt.Fprintln(out, "No keys matched the requested prefix.")
	}

	return nil
}

func promptYesNo(in io.Reader, out io.Writer, action string) (bool, error) {
	fmt.Fprintf(out, "%s? Type 'yes' to confirm: ", action)
	reader := bufio.NewReader(in)
	response, err := reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && response != "") {
		return false, err
	}
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "yes", nil
}

func truncateString(in string, max int) string {
	if len(in) <= max {
		return in
	}
	return in[:max] + "..."
}
