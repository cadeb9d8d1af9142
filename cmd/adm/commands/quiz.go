package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/OrtoQBank/ortoqbank-sub001/internal/models"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/observability"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/query"
)

// QuizCommands returns the quiz command tree
func QuizCommands(engine *query.Engine, logger *observability.Logger) *cobra.Command {
	quizCmd := &cobra.Command{
		Use:   "quiz",
		Short: "Count and sample questions from the aggregate index",
	}

	var themes, subthemes, groups, mode, userID string
	addScopeFlags := func(cmd *cobra.Command) {
		cmd.Flags().StringVar(&themes, "themes", "", "comma separated theme ids")
		cmd.Flags().StringVar(&subthemes, "subthemes", "", "comma separated subtheme ids")
		cmd.Flags().StringVar(&groups, "groups", "", "comma separated group ids")
		cmd.Flags().StringVar(&mode, "mode", "all", "filter mode: all, unanswered, incorrect, bookmarked")
		cmd.Flags().StringVar(&userID, "user", "", "user id for user-scoped modes")
	}

	buildSelection := func() models.ScopeSelection {
		return models.ScopeSelection{
			ThemeIDs:    splitFlag(themes),
			SubthemeIDs: splitFlag(subthemes),
			GroupIDs:    splitFlag(groups),
		}
	}

	countCmd := &cobra.Command{
		Use:   "count",
		Short: "Count questions in a scope",
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := engine.Count(cmd.Context(), buildSelection(), models.FilterMode(mode), userID)
			if err != nil {
				return err
			}
			fmt.Println(n)
			return nil
		},
	}
	addScopeFlags(countCmd)

	var size int
	sampleCmd := &cobra.Command{
		Use:   "sample",
		Short: "Sample distinct question ids from a scope",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ids, err := engine.Sample(cmd.Context(), buildSelection(), models.FilterMode(mode), userID, size)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			if len(ids) < size {
				fmt.Printf("(%d of %d requested)\n", len(ids), size)
			}
			return nil
		},
	}
	addScopeFlags(sampleCmd)
	sampleCmd.Flags().IntVar(&size, "size", 10, "number of questions to sample")

	quizCmd.AddCommand(countCmd, sampleCmd)
	return quizCmd
}

func splitFlag(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
