package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/testseek/internal/core/domain"
)

var (
	similarKey  string
	similarTopK int
	similarJSON bool
)

var similarCmd = &cobra.Command{
	Use:   "similar [uid]",
	Short: "Find tests similar to a reference test",
	Long: `Ranks tests by similarity to a stored reference test, reusing its
indexed vector. The reference is excluded from the results. Address the
reference by uid argument or by --key.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSimilar,
}

func init() {
	similarCmd.Flags().StringVar(&similarKey, "key", "", "external key of the reference test")
	similarCmd.Flags().IntVarP(&similarTopK, "top-k", "n", domain.DefaultTopK, "maximum number of results")
	similarCmd.Flags().BoolVar(&similarJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(similarCmd)
}

func runSimilar(cmd *cobra.Command, args []string) error {
	if searchService == nil {
		return errors.New("search service not configured")
	}

	uid := ""
	if len(args) > 0 {
		uid = args[0]
	}
	switch {
	case uid != "" && similarKey != "":
		return errors.New("pass either a uid argument or --key, not both")
	case uid == "" && similarKey == "":
		return errors.New("pass a uid argument or --key")
	case uid == "":
		doc, err := searchService.GetByExternalKey(cmd.Context(), similarKey)
		if err != nil {
			return fmt.Errorf("resolve reference: %w", err)
		}
		uid = doc.UID
	}

	result, err := searchService.FindSimilar(cmd.Context(), uid, domain.SearchOptions{TopK: similarTopK})
	if err != nil {
		return fmt.Errorf("similar search failed: %w", err)
	}

	if similarJSON {
		return printJSON(cmd, result)
	}
	printHits(cmd, result)
	return nil
}
