package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/theapemachine/indexpilot/logger"
)

var (
	approveID string
	rejectID  string
)

/*
approveCmd lists and resolves decisions parked in the approval queue. An
approved decision resumes the pipeline at the mutation executor step; a
rejected one is finalized without touching the schema.
*/
var approveCmd = &cobra.Command{
	Use:   "approve",
	Short: "List or resolve decisions awaiting approval",
	Long: `Without flags, list every decision currently awaiting approval.
With --id, approve the decision and run the build immediately.
With --reject, finalize the decision as rejected.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := buildEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		if approveID != "" {
			outcome, err := eng.Approve(cmd.Context(), approveID)
			if err != nil {
				return err
			}
			logger.Info("Approval resolved", "decision", approveID, "outcome", outcome)
			fmt.Printf("Decision %s approved: %s\n", approveID, outcome)
			return nil
		}

		if rejectID != "" {
			if err := eng.Reject(cmd.Context(), rejectID); err != nil {
				return err
			}
			logger.Info("Approval rejected", "decision", rejectID)
			fmt.Printf("Decision %s rejected\n", rejectID)
			return nil
		}

		store, err := newAuditStore()
		if err != nil {
			return err
		}
		defer store.Close()

		pending, err := store.PendingApprovals(cmd.Context())
		if err != nil {
			return err
		}

		if len(pending) == 0 {
			fmt.Println("No decisions awaiting approval")
			return nil
		}

		for _, decision := range pending {
			fmt.Printf("%s  tenant=%s table=%s field=%s score=%.0f confidence=%.2f\n",
				decision.ID,
				decision.Candidate.TenantID,
				decision.Candidate.Table,
				decision.Candidate.Field,
				decision.Score,
				decision.Confidence)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(approveCmd)

	approveCmd.Flags().StringVar(&approveID, "id", "", "Decision ID to approve and build")
	approveCmd.Flags().StringVar(&rejectID, "reject", "", "Decision ID to reject")
}
