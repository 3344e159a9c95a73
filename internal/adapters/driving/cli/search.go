package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/testseek/internal/adapters/driving/tui"
	"github.com/custodia-labs/testseek/internal/core/domain"
)

var (
	searchTopK        int
	searchScope       string
	searchJSON        bool
	searchInteractive bool
	searchTags        []string
	searchPlatforms   []string
	searchPriority    string
	searchTestType    string
	searchFolder      string
	searchKeyPattern  string
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search tests by meaning",
	Long: `Runs a hybrid semantic search over test documents and their steps.
Steps of a test that matched the query are annotated on each hit.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "n", domain.DefaultTopK, "maximum number of results")
	searchCmd.Flags().StringVar(&searchScope, "scope", "all", "search scope: all, docs or steps")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	searchCmd.Flags().BoolVarP(&searchInteractive, "interactive", "i", false, "open the interactive search browser")
	searchCmd.Flags().StringSliceVar(&searchTags, "tag", nil, "require a tag (repeatable)")
	searchCmd.Flags().StringSliceVar(&searchPlatforms, "platform", nil, "require a platform (repeatable)")
	searchCmd.Flags().StringVar(&searchPriority, "priority", "", "exact priority (Critical, High, Medium, Low)")
	searchCmd.Flags().StringVar(&searchTestType, "type", "", "exact test type")
	searchCmd.Flags().StringVar(&searchFolder, "folder", "", "folder path prefix, '/'-separated")
	searchCmd.Flags().StringVar(&searchKeyPattern, "key", "", "external key glob (* and ? only)")
	rootCmd.AddCommand(searchCmd)
}

func searchFilter() *domain.Filter {
	f := &domain.Filter{
		Tags:               searchTags,
		Platforms:          searchPlatforms,
		Priority:           searchPriority,
		TestType:           searchTestType,
		RelatedKeys:        nil,
		ExternalKeyPattern: searchKeyPattern,
	}
	if searchFolder != "" {
		for _, seg := range strings.Split(searchFolder, "/") {
			if seg = strings.TrimSpace(seg); seg != "" {
				f.FolderPrefix = append(f.FolderPrefix, seg)
			}
		}
	}
	if f.IsZero() {
		return nil
	}
	return f
}

func runSearch(cmd *cobra.Command, args []string) error {
	if searchService == nil {
		return errors.New("search service not configured")
	}

	if searchInteractive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			return errors.New("interactive mode needs a terminal")
		}
		initial := ""
		if len(args) > 0 {
			initial = args[0]
		}
		return tui.Run(cmd.Context(), searchService, initial)
	}

	if len(args) == 0 {
		return errors.New("query argument is required (or use --interactive)")
	}

	opts := domain.SearchOptions{
		TopK:   searchTopK,
		Filter: searchFilter(),
		Scope:  domain.Scope(searchScope),
	}
	result, err := searchService.Search(cmd.Context(), args[0], opts)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		return printJSON(cmd, result)
	}
	printHits(cmd, result)
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func printHits(cmd *cobra.Command, result *domain.SearchResult) {
	if result.Warning != "" {
		cmd.Printf("warning: %s\n\n", result.Warning)
	}
	if len(result.Hits) == 0 {
		cmd.Println("No results found.")
		return
	}

	cmd.Println("Results:")
	cmd.Println()
	for i, hit := range result.Hits {
		cmd.Printf("  [%d] %s (%.2f)\n", i+1, hit.Doc.Title, hit.Score)
		if hit.Doc.ExternalKey != "" {
			cmd.Printf("      Key: %s\n", hit.Doc.ExternalKey)
		}
		if len(hit.MatchedStepIndices) > 0 {
			cmd.Printf("      Matched steps: %s\n", joinInts(hit.MatchedStepIndices))
		}
		cmd.Println()
	}
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return strings.Join(parts, ", ")
}
