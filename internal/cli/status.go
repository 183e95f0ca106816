package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var (
	statusServer string
	statusOutput string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show knowledge base and provider status",
	Long: `Prints collection sizes and embedding settings. With --server, queries a running
instance's /api/v1/status instead of opening the local indexes.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusServer, "server", "", "base URL of a running server, e.g. http://localhost:8080")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "text", "output format: text or json")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	format, err := parseFormat(statusOutput)
	if err != nil {
		return err
	}
	if statusServer != "" {
		return statusViaHTTP(cmd.OutOrStdout(), statusServer)
	}
	s, err := open(cmd.Context())
	if err != nil {
		return err
	}
	defer s.close()

	var stats []any
	out := cmd.OutOrStdout()
	if format == OutputText {
		fmt.Fprintf(out, "config:     %s\n", s.path)
		fmt.Fprintf(out, "embedding:  %s %s\n", s.cfg.Embedding.Provider, s.c.Embedder.Model())
		fmt.Fprintf(out, "llm:        %s %s\n", s.cfg.LLM.Provider, s.cfg.LLM.Model)
		fmt.Fprintf(out, "crisis:     %d terms, threshold %.2f\n", s.c.Detector.Lexicon().Len(), s.cfg.Crisis.Threshold)
	}
	for _, name := range s.c.Knowledge.Collections() {
		st, err := s.c.Knowledge.Stats(cmd.Context(), name)
		if err != nil {
			if format == OutputText {
				fmt.Fprintf(out, "collection %s: %v\n", name, err)
			}
			continue
		}
		if format == OutputJSON {
			stats = append(stats, st)
			continue
		}
		if st.Broken != "" {
			fmt.Fprintf(out, "collection %s: unusable: %s\n", st.Name, st.Broken)
			continue
		}
		fmt.Fprintf(out, "collection %s: %d documents, %d chunks (%s, %d dims)\n",
			st.Name, st.Documents, st.Chunks, st.Embedding.Model, st.Embedding.Dimensions)
	}
	if format == OutputJSON {
		return WriteJSON(out, map[string]any{"config_path": s.path, "collections": stats})
	}
	return nil
}

func statusViaHTTP(w io.Writer, serverURL string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(serverURL + "/api/v1/status")
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("failed to decode status: %w", err)
	}
	return WriteJSON(w, body)
}
