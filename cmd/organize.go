// file: cmd/organize.go
// version: 1.0.0
// guid: 1b3d5f72-9a4c-4e6b-8d0f-2c4e6a8b0d13

package cmd

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jdfalk/ebook-organizer/internal/models"
	"github.com/jdfalk/ebook-organizer/internal/organizer"
)

var taxonomyCmd = &cobra.Command{
	Use:   "taxonomy",
	Short: "Print the category and sub-genre tree",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		for _, node := range organizer.Taxonomy() {
			fmt.Fprintln(out, node.Category)
			for _, sg := range node.SubGenres {
				fmt.Fprintf(out, "  %s\n", sg)
			}
		}
		return nil
	},
}

var organizeCmd = &cobra.Command{
	Use:   "organize",
	Short: "Classify cached ebooks into the taxonomy",
}

func scopeFlags(cmd *cobra.Command) organizer.Scope {
	var scope organizer.Scope
	scope.Provider, _ = cmd.Flags().GetString("provider")
	scope.PathPrefix, _ = cmd.Flags().GetString("path-prefix")
	return scope
}

var organizeStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show classification coverage",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		st, err := eng.Organizer.Stats(scopeFlags(cmd))
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%d of %d ebooks classified (%.1f%%)\n", st.ClassifiedBooks, st.TotalBooks, st.CoveragePercent)
		categories := make([]string, 0, len(st.ByCategory))
		for name := range st.ByCategory {
			categories = append(categories, name)
		}
		sort.Strings(categories)
		for _, name := range categories {
			fmt.Fprintf(out, "  %-28s %d\n", name, st.ByCategory[name])
		}
		return nil
	},
}

var organizePreviewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Show where unclassified ebooks would be placed, without changing anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		pv, err := eng.Organizer.Preview(scopeFlags(cmd), limit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if pv.TotalToClassify == 0 {
			fmt.Fprintln(out, "Nothing to classify")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "REF\tTITLE\tPROPOSED")
		for _, p := range pv.Books {
			fmt.Fprintf(tw, "%s\t%s\t%s / %s\n", p.Ref, truncateString(p.Title, 40), p.ProposedCategory, p.ProposedSubGenre)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(out, "%d ebooks to classify\n", pv.TotalToClassify)
		return nil
	},
}

var organizeUnclassifiedCmd = &cobra.Command{
	Use:   "unclassified",
	Short: "List ebooks without a category and sub-genre",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		records, total, err := eng.Organizer.Unclassified(scopeFlags(cmd), limit, 0)
		if err != nil {
			return err
		}
		if err := printRecords(cmd.OutOrStdout(), records); err != nil {
			return err
		}
		if total > len(records) {
			fmt.Fprintf(cmd.OutOrStdout(), "... %d more\n", total-len(records))
		}
		return nil
	},
}

var organizeClassifyCmd = &cobra.Command{
	Use:   "classify [provider/remote_id...]",
	Short: "Run the classifier over the given ebooks, or over every unclassified ebook",
	RunE: func(cmd *cobra.Command, args []string) error {
		req := organizer.BatchRequest{Scope: scopeFlags(cmd)}
		req.Force, _ = cmd.Flags().GetBool("force")
		req.Limit, _ = cmd.Flags().GetInt("limit")
		for _, arg := range args {
			ref, err := models.ParseRecordRef(arg)
			if err != nil {
				return err
			}
			req.Refs = append(req.Refs, ref)
		}

		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		res, err := eng.Organizer.BatchClassify(commandContext(cmd), req)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Processed %d: %d newly classified, %d already classified, %d unmatched, %d failed\n",
			res.TotalProcessed, res.NewlyClassified, res.AlreadyClassified, res.Unmatched, res.Failed)
		return nil
	},
}

var organizeSetCmd = &cobra.Command{
	Use:   "set <provider/remote_id> <category> [sub-genre]",
	Short: "Place an ebook by hand",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, err := models.ParseRecordRef(args[0])
		if err != nil {
			return err
		}
		subGenre := ""
		if len(args) == 3 {
			subGenre = args[2]
		}
		if _, err := organizer.Validate(args[1], subGenre); err != nil {
			return err
		}

		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		rec, err := eng.Organizer.SetClassification(ref, args[1], subGenre)
		if err != nil {
			return err
		}
		placement := rec.Category
		if rec.SubGenre != "" {
			placement += " / " + rec.SubGenre
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", ref, placement)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{organizeStatsCmd, organizePreviewCmd, organizeUnclassifiedCmd, organizeClassifyCmd} {
		c.Flags().String("provider", "", "only ebooks from this provider")
		c.Flags().String("path-prefix", "", "only ebooks whose remote path starts with this prefix")
	}
	organizePreviewCmd.Flags().Int("limit", 100, "maximum number of ebooks to preview (up to 500)")
	organizeUnclassifiedCmd.Flags().Int("limit", 50, "maximum number of ebooks to list")
	organizeClassifyCmd.Flags().Int("limit", 100, "maximum number of ebooks to classify (up to 500)")
	organizeClassifyCmd.Flags().Bool("force", false, "reclassify ebooks that already have a placement")

	organizeCmd.AddCommand(organizeStatsCmd)
	organizeCmd.AddCommand(organizePreviewCmd)
	organizeCmd.AddCommand(organizeUnclassifiedCmd)
	organizeCmd.AddCommand(organizeClassifyCmd)
	organizeCmd.AddCommand(organizeSetCmd)
}
