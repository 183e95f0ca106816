package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperjump/lumimind/internal/models"
)

var (
	ingestPath   string
	ingestReset  bool
	ingestOutput string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <mental_health|communication>",
	Short: "Load a corpus directory into a domain's knowledge base",
	Long: `Loads every supported file under the domain's corpus directory (or --path) into its
collection. Unchanged files are skipped; ingestion stops at the first embedding failure and
reports where.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestPath, "path", "", "corpus directory (default: knowledge.collections.<domain>.path)")
	ingestCmd.Flags().BoolVar(&ingestReset, "reset", false, "wipe the collection before ingesting")
	ingestCmd.Flags().StringVarP(&ingestOutput, "output", "o", "text", "output format: text or json")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	domain := models.Domain(args[0])
	if !domain.Valid() {
		return fmt.Errorf("unknown domain %q", args[0])
	}
	format, err := parseFormat(ingestOutput)
	if err != nil {
		return err
	}
	s, err := open(cmd.Context())
	if err != nil {
		return err
	}
	defer s.close()

	if ingestReset {
		if _, err := s.c.Knowledge.Reset(cmd.Context(), s.cfg.Knowledge.Collections[domain].Name); err != nil {
			return err
		}
	}
	res, runErr := s.c.IngestDir(cmd.Context(), domain, ingestPath)
	if format == OutputJSON {
		if err := WriteJSON(cmd.OutOrStdout(), res); err != nil {
			return err
		}
		return runErr
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "collection: %s\n", res.Collection)
	fmt.Fprintf(out, "documents:  %d\n", res.Documents)
	fmt.Fprintf(out, "added:      %d chunks\n", res.Added)
	fmt.Fprintf(out, "skipped:    %d chunks\n", res.Skipped)
	fmt.Fprintf(out, "removed:    %d chunks\n", res.Removed)
	for _, f := range res.Failures {
		fmt.Fprintf(out, "skipped file %s: %s\n", f.Path, f.Reason)
	}
	if res.Failed != nil {
		fmt.Fprintf(out, "stopped at %s chunk %d: %s\n", res.Failed.SourcePath, res.Failed.ChunkIndex, res.Failed.Reason)
	}
	return runErr
}
