package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/meridell/docqa-go/internal/history"
)

// NewHistoryCmd constructs the `docqa history` command, which prints
// recently answered questions from the query history log.
func NewHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently answered questions",
		Long: `Print the most recent questions docqa answered, oldest first.

Both the server and 'docqa ask' record every successful answer with its
sources and relevance score. DOCQA_HISTORY_DB overrides the default
database path (~/.docqa/history.db); set it to "disabled" to turn
recording off.

Examples:
  docqa history
  docqa history --limit 5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			historyLog, err := history.FromPath(os.Getenv("DOCQA_HISTORY_DB"))
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}
			defer func() { _ = historyLog.Close() }()

			entries, err := historyLog.Recent(ctx, limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No recorded queries.")
				return nil
			}

			for _, e := range entries {
				fmt.Printf("[%s] Q: %s\n", e.CreatedAt.Format("2006-01-02 15:04"), e.Question)
				fmt.Printf("  A: %s\n", e.Answer)
				if len(e.Sources) > 0 {
					fmt.Printf("  sources: %s (relevance %.2f, model %s)\n",
						strings.Join(e.Sources, ", "), e.Score, e.Model)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of entries to show")

	return cmd
}
