// Package commands implements the admin CLI subcommands.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/OrtoQBank/ortoqbank-sub001/internal/models"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/observability"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/repair"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/services"
)

// PrimaryAdapter exposes the services as the repair workflow's primary store.
type PrimaryAdapter struct {
	questions services.QuestionServiceInterface
	facts     services.UserFactServiceInterface
}

// NewPrimaryAdapter creates a primary store adapter over the services.
func NewPrimaryAdapter(questions services.QuestionServiceInterface, facts services.UserFactServiceInterface) *PrimaryAdapter {
	return &PrimaryAdapter{questions: questions, facts: facts}
}

// ScanQuestions pages through questions for the rebuild scan.
func (p *PrimaryAdapter) ScanQuestions(ctx context.Context, cursor string, pageSize int) ([]*models.Question, string, bool, error) {
	return p.questions.ScanQuestions(ctx, cursor, pageSize)
}

// ScanUserFacts pages through user facts for the rebuild scan.
func (p *PrimaryAdapter) ScanUserFacts(ctx context.Context, cursor string, pageSize int) ([]*models.UserFact, string, bool, error) {
	return p.facts.ScanUserFacts(ctx, cursor, pageSize)
}

// GetQuestionsByIDs batch-loads questions for fact indexing.
func (p *PrimaryAdapter) GetQuestionsByIDs(ctx context.Context, ids []string) ([]*models.Question, error) {
	return p.questions.GetQuestionsByIDs(ctx, ids)
}

// RepairCommands returns the repair command tree
func RepairCommands(workflow *repair.Workflow, logger *observability.Logger) *cobra.Command {
	repairCmd := &cobra.Command{
		Use:   "repair",
		Short: "Consistency repair operations",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a full repair synchronously and wait for it to finish",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			runID, err := workflow.Start(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Repair run %s started\n", runID)

			// Poll until the background run reaches a terminal state.
			for {
				time.Sleep(2 * time.Second)
				st, err := workflow.GetStatus(ctx, runID)
				if err != nil {
					return err
				}
				fmt.Printf("  state=%s phase=%s cursor=%q\n", st.State, st.Phase, st.LastCursor)
				if st.Terminal() {
					if st.State == repair.StateFailed {
						return fmt.Errorf("repair run %s failed: %s", runID, st.Error)
					}
					fmt.Printf("Repair run %s finished, %d namespaces, %d mismatches\n",
						runID, len(st.Counts), st.Mismatches)
					return nil
				}
			}
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show the persisted status of a repair run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := workflow.GetStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		},
	}

	resumeCmd := &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Resume an interrupted repair run from its last checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := workflow.Resume(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Repair run %s resumed\n", args[0])
			return nil
		},
	}

	repairCmd.AddCommand(runCmd, statusCmd, resumeCmd)
	return repairCmd
}
