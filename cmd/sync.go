// file: cmd/sync.go
// version: 1.0.0
// guid: 5b8e2d17-3c4a-4f90-a6d1-7e2c9b0f4a63

package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/jdfalk/ebook-organizer/internal/realtime"
	"github.com/jdfalk/ebook-organizer/internal/syncer"
)

// syncCmd runs passes in the foreground and reports their counts.
var syncCmd = &cobra.Command{
	Use:   "sync [provider]",
	Short: "Run a sync pass for one provider or all enabled providers",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
		defer stop()

		quiet, _ := cmd.Flags().GetBool("quiet")
		var done func()
		if !quiet {
			done = showSyncProgress(eng.Hub, cmd.ErrOrStderr())
		}

		var results map[string]*syncer.PassResult
		if len(args) == 1 {
			var res *syncer.PassResult
			res, err = eng.Coordinator.RunPass(ctx, args[0])
			if res != nil {
				results = map[string]*syncer.PassResult{args[0]: res}
			}
		} else {
			results, err = eng.Coordinator.SyncAll(ctx)
		}
		if done != nil {
			done()
		}

		printPassResults(cmd.OutOrStdout(), results)
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
		return nil
	},
}

// showSyncProgress renders page progress events as a spinner until the
// returned func is called.
func showSyncProgress(hub *realtime.EventHub, w io.Writer) func() {
	sub := hub.Subscribe("cli-sync", realtime.EventSyncProgress)
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("syncing"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionShowCount(),
	)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for ev := range sub.Events() {
			bar.Describe(fmt.Sprintf("%v: %v", ev.Data["provider"], ev.Data["message"]))
			_ = bar.Add(1)
		}
	}()
	return func() {
		hub.Unsubscribe(sub)
		<-finished
		_ = bar.Finish()
		fmt.Fprintln(w)
	}
}

func printPassResults(w io.Writer, results map[string]*syncer.PassResult) {
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		r := results[id]
		fmt.Fprintf(w, "%s: created=%d updated=%d deleted=%d conflicts=%d skipped=%d pages=%d (%s, %s)\n",
			id, r.Created, r.Updated, r.Deleted, r.Conflicts, r.Skipped, r.Pages,
			r.StopReason, r.Duration.Round(time.Millisecond))
		if r.Error != "" {
			fmt.Fprintf(w, "  error: %s\n", r.Error)
		}
	}
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the sync state of every configured provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		statuses, err := eng.Coordinator.Statuses()
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PROVIDER\tSTATE\tLAST SYNC\tPENDING\tERRORS\tNOTE")
		for _, st := range statuses {
			last := "never"
			if st.LastSyncAt != nil {
				last = st.LastSyncAt.Local().Format(time.RFC3339)
			}
			note := st.PauseReason
			if note == "" {
				note = st.LastError
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
				st.Provider, st.State, last, st.PendingCount, st.ConsecutiveErrorCount, truncateString(note, 60))
		}
		return tw.Flush()
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <provider>",
	Short: "Clear a provider's pause so it syncs again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		if err := eng.Coordinator.ResumeProvider(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Provider %s resumed\n", args[0])
		return nil
	},
}

func init() {
	syncCmd.Flags().Bool("quiet", false, "do not show a progress spinner")
}

