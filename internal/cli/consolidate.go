package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/joelkehle/projectfacts/internal/consolidate"
	"github.com/joelkehle/projectfacts/internal/oracle"
	"github.com/joelkehle/projectfacts/internal/reconcile"
)

// ConsolidateCmd returns the consolidate command.
func ConsolidateCmd() *cobra.Command {
	var projectID string

	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Run the full consolidation pipeline for a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(projectID) == "" {
				return fmt.Errorf("--project is required")
			}

			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			caller, err := newCaller()
			if err != nil {
				return err
			}
			engine := reconcile.NewEngine(st, oracle.New(caller))
			applier := reconcile.NewApplier(st, st)
			pipeline := consolidate.NewPipeline(st, engine, applier, caller, newGeocoder())

			res, err := pipeline.Run(context.Background(), projectID, func(pr consolidate.Progress) {
				fmt.Printf("[%3d%%] %s\n", pr.Percent, pr.Message)
			})
			if err != nil {
				return err
			}

			fmt.Println()
			fmt.Printf("merged facts:  %d\n", res.MergedFacts)
			fmt.Printf("new conflicts: %d\n", res.NewConflicts)
			fmt.Printf("narratives:    %d\n", res.Narratives)
			if res.JobCreated {
				fmt.Println(color.New(color.FgGreen).Sprint("simulation job created"))
			}
			if len(res.StagesFailed) > 0 {
				fmt.Println(color.New(color.FgYellow).Sprintf("failed stages: %s", strings.Join(res.StagesFailed, ", ")))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&projectID, "project", "p", "", "project identifier")
	return cmd
}
