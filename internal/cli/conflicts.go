package cli

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/joelkehle/projectfacts/internal/insight"
	"github.com/joelkehle/projectfacts/internal/reconcile"
)

// ConflictsCmd returns the conflicts command group.
func ConflictsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Inspect and resolve the conflict ledger",
	}
	cmd.AddCommand(conflictsListCmd())
	cmd.AddCommand(conflictsResolveCmd())
	return cmd
}

func conflictsListCmd() *cobra.Command {
	var projectID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending conflicts for a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(projectID) == "" {
				return fmt.Errorf("--project is required")
			}
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			pending, err := st.PendingConflicts(projectID)
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				fmt.Println("no pending conflicts")
				return nil
			}

			yellow := color.New(color.FgYellow)
			for _, c := range pending {
				fmt.Printf("%s  %s\n", yellow.Sprint(c.ID), c.ConflictType)
				if a, err := st.GetFact(c.FactAID); err == nil {
					fmt.Printf("  key: %s\n", a.CanonicalKey)
					fmt.Printf("  A (%d%%): %s\n", a.Confidence, a.Statement)
				}
				if b, err := st.GetFact(c.FactBID); err == nil {
					fmt.Printf("  B (%d%%): %s\n", b.Confidence, b.Statement)
				}
				fmt.Println()
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&projectID, "project", "p", "", "project identifier")
	return cmd
}

func conflictsResolveCmd() *cobra.Command {
	var resolution string
	var mergedText string

	cmd := &cobra.Command{
		Use:   "resolve <conflict-id>",
		Short: "Close a conflict with a terminal resolution",
		Long: `Close a conflict. Resolutions: accept_a, accept_b, merge, ignore.
A merge requires --merged-text with the replacement statement.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			ledger := reconcile.NewLedger(st, st)
			status := insight.ResolutionStatus(strings.TrimSpace(resolution))
			if err := ledger.Resolve(args[0], status, mergedText); err != nil {
				return err
			}
			fmt.Printf("%s conflict %s resolved as %s\n",
				color.New(color.FgGreen).Sprint("✓"), args[0], status)
			return nil
		},
	}

	cmd.Flags().StringVarP(&resolution, "resolution", "r", "", "accept_a, accept_b, merge, or ignore")
	cmd.Flags().StringVarP(&mergedText, "merged-text", "m", "", "replacement statement for a merge")
	_ = cmd.MarkFlagRequired("resolution")
	return cmd
}
