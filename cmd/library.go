// file: cmd/library.go
// version: 1.1.0
// guid: 9c2e4a71-8b5d-4e36-b0f2-6d1a3c7e5b84

package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jdfalk/ebook-organizer/internal/database"
	"github.com/jdfalk/ebook-organizer/internal/library"
	"github.com/jdfalk/ebook-organizer/internal/models"
	"github.com/jdfalk/ebook-organizer/internal/search"
)

var searchCmd = &cobra.Command{
	Use:   "search <query...>",
	Short: "Search the cached library",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		if err := eng.Indexer.Rebuild(); err != nil {
			return err
		}

		q := search.Query{Text: strings.Join(args, " ")}
		q.Category, _ = cmd.Flags().GetString("category")
		q.Format, _ = cmd.Flags().GetString("format")
		q.Page, _ = cmd.Flags().GetInt("page")
		q.PageSize, _ = cmd.Flags().GetInt("page-size")

		resp := eng.Index.Search(q)
		out := cmd.OutOrStdout()
		if resp.Total == 0 {
			fmt.Fprintln(out, "No matches")
			return nil
		}
		fmt.Fprintf(out, "%d matches (page %d)\n", resp.Total, resp.Page)
		for _, r := range resp.Results {
			marker := ""
			if r.Conflict {
				marker = " [conflict]"
			}
			fmt.Fprintf(out, "%6.2f  %s by %s  (%s)%s\n", r.Score, r.Title, r.Author, r.Ref, marker)
			if r.Snippet != "" {
				fmt.Fprintf(out, "        %s\n", r.Snippet)
			}
		}
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached ebooks",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		var records []models.EbookRecord
		if conflicts, _ := cmd.Flags().GetBool("conflicts"); conflicts {
			records, err = eng.Library.Conflicts()
		} else {
			filter := database.RecordFilter{}
			filter.Provider, _ = cmd.Flags().GetString("provider")
			filter.Category, _ = cmd.Flags().GetString("category")
			filter.SubGenre, _ = cmd.Flags().GetString("sub-genre")
			filter.Format, _ = cmd.Flags().GetString("format")
			filter.Limit, _ = cmd.Flags().GetInt("limit")
			if tag, _ := cmd.Flags().GetString("tag"); tag != "" {
				filter.Tag = library.NormalizeTag(tag)
			}
			records, err = eng.Library.List(filter)
		}
		if err != nil {
			return err
		}
		return printRecords(cmd.OutOrStdout(), records)
	},
}

func printRecords(w io.Writer, records []models.EbookRecord) error {
	if len(records) == 0 {
		fmt.Fprintln(w, "No ebooks")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REF\tTITLE\tAUTHOR\tCATEGORY\tFORMAT\tSTATE")
	for i := range records {
		r := &records[i]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Ref(), truncateString(r.Title, 40), truncateString(r.Author, 30), r.Category, r.Format, r.SyncState)
	}
	return tw.Flush()
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the search index from the cached library",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		start := time.Now()
		if err := eng.Indexer.Rebuild(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d ebooks in %s\n", eng.Index.Len(), time.Since(start).Round(time.Millisecond))
		return nil
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <provider/remote_id> <keep_local|keep_remote>",
	Short: "Resolve a sync conflict",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, err := models.ParseRecordRef(args[0])
		if err != nil {
			return err
		}
		resolution, err := library.ParseResolution(args[1])
		if err != nil {
			return err
		}

		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		rec, err := eng.Coordinator.ResolveConflict(ref, resolution)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Resolved %s with %s: %s by %s\n", ref, resolution, rec.Title, rec.Author)
		return nil
	},
}

var tagCmd = &cobra.Command{
	Use:   "tag",
	Short: "Add or remove local tags",
}

var tagAddCmd = &cobra.Command{
	Use:   "add <provider/remote_id> <tag>",
	Short: "Add a tag to an ebook",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTag(cmd, args, true)
	},
}

var tagRemoveCmd = &cobra.Command{
	Use:   "remove <provider/remote_id> <tag>",
	Short: "Remove a tag from an ebook",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTag(cmd, args, false)
	},
}

func runTag(cmd *cobra.Command, args []string, add bool) error {
	ref, err := models.ParseRecordRef(args[0])
	if err != nil {
		return err
	}
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	var changed bool
	if add {
		changed, err = eng.Library.AddTag(ref, args[1])
	} else {
		changed, err = eng.Library.RemoveTag(ref, args[1])
	}
	if err != nil {
		return err
	}
	tags, err := eng.Library.Tags(ref)
	if err != nil {
		return err
	}
	if !changed {
		fmt.Fprintln(cmd.OutOrStdout(), "No change")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s tags: %s\n", ref, strings.Join(tags, ", "))
	return nil
}

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Retry metadata lookup for ebooks still missing title, author or category",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		updated, err := eng.Enricher.ReEnrich(commandContext(cmd), eng.Library, limit)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Enriched %d ebooks\n", updated)
		return nil
	},
}

// exportDocument is the YAML layout written by the export command.
type exportDocument struct {
	ExportedAt time.Time            `yaml:"exported_at"`
	Records    []models.EbookRecord `yaml:"records"`
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the cached library as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		includeDeleted, _ := cmd.Flags().GetBool("include-deleted")
		records, err := eng.Library.List(database.RecordFilter{IncludeDeleted: includeDeleted})
		if err != nil {
			return err
		}
		if records == nil {
			records = []models.EbookRecord{}
		}

		var w io.Writer = cmd.OutOrStdout()
		if path, _ := cmd.Flags().GetString("output"); path != "" && path != "-" {
			f, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("failed to create export file: %w", err)
			}
			defer f.Close()
			w = f
		}

		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(exportDocument{ExportedAt: time.Now().UTC(), Records: records}); err != nil {
			return fmt.Errorf("failed to encode export: %w", err)
		}
		return enc.Close()
	},
}

func init() {
	searchCmd.Flags().String("category", "", "only ebooks in this category")
	searchCmd.Flags().String("format", "", "only ebooks in this format (epub, pdf, ...)")
	searchCmd.Flags().Int("page", 1, "result page")
	searchCmd.Flags().Int("page-size", 20, "results per page")

	listCmd.Flags().String("provider", "", "only ebooks from this provider")
	listCmd.Flags().String("category", "", "only ebooks in this category")
	listCmd.Flags().String("sub-genre", "", "only ebooks in this sub-genre")
	listCmd.Flags().String("format", "", "only ebooks in this format")
	listCmd.Flags().String("tag", "", "only ebooks carrying this tag")
	listCmd.Flags().Bool("conflicts", false, "only ebooks in conflict")
	listCmd.Flags().Int("limit", 0, "maximum number of ebooks (0 for all)")

	tagCmd.AddCommand(tagAddCmd)
	tagCmd.AddCommand(tagRemoveCmd)

	enrichCmd.Flags().Int("limit", 0, "maximum number of ebooks to look up (0 for all)")

	exportCmd.Flags().StringP("output", "o", "", "write to this file instead of stdout")
	exportCmd.Flags().Bool("include-deleted", false, "include tombstoned ebooks")
}
