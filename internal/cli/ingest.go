package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/joelkehle/projectfacts/internal/extract"
	"github.com/joelkehle/projectfacts/internal/ingest"
	"github.com/joelkehle/projectfacts/internal/insight"
	"github.com/joelkehle/projectfacts/internal/oracle"
	"github.com/joelkehle/projectfacts/internal/reconcile"
)

// IngestCmd returns the ingest command.
func IngestCmd() *cobra.Command {
	var projectID string
	var docType string

	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Extract and reconcile facts from document files",
		Args:  cobra.MinimumNArgs(1),
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
			ingestor := ingest.NewIngestor(st, extract.NewOrchestrator(caller), engine, applier)

			for _, path := range args {
				blob, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
				doc := &insight.Document{
					ProjectID: projectID,
					Name:      filepath.Base(path),
					DocType:   docType,
					Text:      string(blob),
				}
				res, err := ingestor.Ingest(context.Background(), doc)
				if err != nil {
					return fmt.Errorf("ingest %s: %w", path, err)
				}
				fmt.Printf("%s %s: %d candidates, %d inserted, %d enriched, %d conflicted\n",
					color.New(color.FgGreen).Sprint("✓"), doc.Name,
					res.Candidates, res.Inserted, res.Updated, res.Conflicted)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&projectID, "project", "p", "", "project identifier")
	cmd.Flags().StringVarP(&docType, "type", "t", "", "document type (e.g. feasibility, weather)")
	return cmd
}
