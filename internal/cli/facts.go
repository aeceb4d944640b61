package cli

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/joelkehle/projectfacts/internal/insight"
)

// FactsCmd returns the facts listing command.
func FactsCmd() *cobra.Command {
	var projectID string
	var section string

	cmd := &cobra.Command{
		Use:   "facts",
		Short: "List live facts grouped by document section",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(projectID) == "" {
				return fmt.Errorf("--project is required")
			}
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			facts, err := st.LiveByProject(projectID)
			if err != nil {
				return err
			}

			grouped := map[string][]insight.Fact{}
			for _, f := range facts {
				grouped[insight.NormalizeSection(f.Category)] = append(grouped[insight.NormalizeSection(f.Category)], f)
			}

			heading := color.New(color.FgCyan, color.Bold)
			for _, name := range insight.Sections() {
				group := grouped[name]
				if len(group) == 0 {
					continue
				}
				if section != "" && name != insight.NormalizeSection(section) {
					continue
				}
				heading.Printf("%s (%d)\n", name, len(group))
				for _, f := range group {
					marker := " "
					if f.ConflictID != "" {
						marker = color.New(color.FgYellow).Sprint("!")
					}
					fmt.Printf(" %s [%3d%%] %s: %s\n", marker, f.Confidence, f.CanonicalKey, f.Statement)
				}
				fmt.Println()
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&projectID, "project", "p", "", "project identifier")
	cmd.Flags().StringVarP(&section, "section", "s", "", "only show one section")
	return cmd
}
