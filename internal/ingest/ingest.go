// Package ingest is the per-document intake path: store the document text,
// extract candidate facts, and reconcile each candidate into the project's
// fact store.
package ingest

import (
	"context"
	"fmt"
	"log"

	"github.com/joelkehle/projectfacts/internal/extract"
	"github.com/joelkehle/projectfacts/internal/insight"
	"github.com/joelkehle/projectfacts/internal/reconcile"
	"github.com/joelkehle/projectfacts/internal/store"
)

type Ingestor struct {
	docs         store.Documents
	orchestrator *extract.Orchestrator
	engine       *reconcile.Engine
	applier      *reconcile.Applier
}

func NewIngestor(docs store.Documents, orchestrator *extract.Orchestrator, engine *reconcile.Engine, applier *reconcile.Applier) *Ingestor {
	return &Ingestor{docs: docs, orchestrator: orchestrator, engine: engine, applier: applier}
}

// Result summarizes one document's intake.
type Result struct {
	DocumentID string `json:"document_id"`
	Candidates int    `json:"candidates"`
	Inserted   int    `json:"inserted"`
	Updated    int    `json:"updated"`
	Conflicted int    `json:"conflicted"`
}

// Ingest stores the document, extracts candidates, and applies one
// reconciliation action per candidate. Only storage failures abort; the
// extraction passes degrade internally.
func (i *Ingestor) Ingest(ctx context.Context, doc *insight.Document) (*Result, error) {
	if doc.ProjectID == "" {
		return nil, fmt.Errorf("document has no project id")
	}
	if err := i.docs.InsertDocument(doc); err != nil {
		return nil, fmt.Errorf("store document: %w", err)
	}

	candidates := i.orchestrator.Extract(ctx, doc.Text, doc.DocType)
	res := &Result{DocumentID: doc.ID, Candidates: len(candidates)}

	for _, c := range candidates {
		action, err := i.engine.Reconcile(ctx, doc.ProjectID, c)
		if err != nil {
			return res, fmt.Errorf("reconcile %s: %w", c.CanonicalKey, err)
		}
		if _, err := i.applier.Apply(doc.ProjectID, doc.ID, c, action); err != nil {
			return res, fmt.Errorf("apply %s action for %s: %w", action.Kind, c.CanonicalKey, err)
		}
		switch action.Kind {
		case reconcile.ActionInsert:
			res.Inserted++
		case reconcile.ActionUpdate:
			res.Updated++
		case reconcile.ActionConflict:
			res.Conflicted++
		}
	}

	log.Printf("ingested document=%s project=%s candidates=%d inserted=%d updated=%d conflicted=%d",
		doc.ID, doc.ProjectID, res.Candidates, res.Inserted, res.Updated, res.Conflicted)
	return res, nil
}
