package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"vaultsearch/internal/api"
	"vaultsearch/internal/summarizer"
)

var (
	searchTopK int
	searchJSON bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Embed the vault and print the notes most similar to a query",
	Long: `Embed the vault in-process and print the best matching notes.

Examples:
  vaultsearch search "weekly review template"
  vaultsearch search -k 10 --json "kubernetes operators"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", api.DefaultTopK, "Number of results")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "Print results as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	if err := a.indexer.Rebuild(ctx, a.reader); err != nil {
		return fmt.Errorf("load vault: %w", err)
	}

	query := strings.Join(args, " ")
	results, err := a.searcher.Search(ctx, query, searchTopK)
	if err != nil {
		return err
	}

	if searchJSON {
		data, err := json.MarshalIndent(api.SearchResponse{Query: query, Results: api.ToSearchResults(results)}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	ex := summarizer.New()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCORE\tNOTE\tTAGS\tEXCERPT")
	for _, r := range results {
		excerpt := ex.Excerpt(r.Content, query, 1)
		if len([]rune(excerpt)) > 80 {
			excerpt = string([]rune(excerpt)[:77]) + "..."
		}
		fmt.Fprintf(w, "%.3f\t%s\t%s\t%s\n", r.Score, r.Path, strings.Join(r.Tags, " "), excerpt)
	}
	return w.Flush()
}
