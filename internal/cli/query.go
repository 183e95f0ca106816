package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hyperjump/lumimind/internal/models"
)

var (
	queryOutput string
	queryRaw    bool
	queryTopK   int
)

var queryCmd = &cobra.Command{
	Use:   "query <mental_health|communication> <text...>",
	Short: "Retrieve passages from a domain's knowledge base",
	Long: `Runs a retrieval against the domain's collection. By default the similarity floor and
lexical fallback apply as in conversation; --raw queries the vector index directly.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVarP(&queryOutput, "output", "o", "text", "output format: text or json")
	queryCmd.Flags().BoolVar(&queryRaw, "raw", false, "skip the similarity floor and lexical fallback")
	queryCmd.Flags().IntVarP(&queryTopK, "limit", "n", 0, "maximum hits with --raw (default: knowledge.top_k)")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	domain := models.Domain(args[0])
	if !domain.Valid() {
		return fmt.Errorf("unknown domain %q", args[0])
	}
	format, err := parseFormat(queryOutput)
	if err != nil {
		return err
	}
	text := strings.Join(args[1:], " ")
	s, err := open(cmd.Context())
	if err != nil {
		return err
	}
	defer s.close()

	var res models.RetrievalResult
	if queryRaw {
		k := queryTopK
		if k <= 0 {
			k = s.cfg.Knowledge.TopK
		}
		res, err = s.c.Knowledge.Query(cmd.Context(), s.cfg.Knowledge.Collections[domain].Name, text, k)
	} else {
		res, err = s.c.Retriever.Retrieve(cmd.Context(), domain, text)
	}
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	return WriteRetrieval(cmd.OutOrStdout(), res, format)
}
