package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

var crisisOutput string

var crisisCmd = &cobra.Command{
	Use:   "crisis",
	Short: "Inspect crisis detection",
}

var crisisCheckCmd = &cobra.Command{
	Use:   "check <text...>",
	Short: "Score an utterance with the crisis detector",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCrisisCheck,
}

var crisisReloadCmd = &cobra.Command{
	Use:   "reload [keywords-file]",
	Short: "Validate and load a crisis keyword file",
	Long: `Parses the keyword file (default: crisis.keywords_path) and reports the number of terms.
A running server reloads through POST /api/v1/crisis/reload or its file watcher.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCrisisReload,
}

func init() {
	crisisCheckCmd.Flags().StringVarP(&crisisOutput, "output", "o", "text", "output format: text or json")
	crisisCmd.AddCommand(crisisCheckCmd, crisisReloadCmd)
	rootCmd.AddCommand(crisisCmd)
}

func runCrisisCheck(cmd *cobra.Command, args []string) error {
	format, err := parseFormat(crisisOutput)
	if err != nil {
		return err
	}
	s, err := open(cmd.Context())
	if err != nil {
		return err
	}
	defer s.close()
	d := s.c.Detector.Detect(cmd.Context(), strings.Join(args, " "))
	return WriteDecision(cmd.OutOrStdout(), d, format)
}

func runCrisisReload(cmd *cobra.Command, args []string) error {
	s, err := open(cmd.Context())
	if err != nil {
		return err
	}
	defer s.close()
	path := ""
	if len(args) == 1 {
		path = args[0]
	}
	n, err := s.c.Detector.ReloadKeywords(path)
	if err != nil {
		return err
	}
	cmd.Printf("loaded %d crisis terms\n", n)
	return nil
}
