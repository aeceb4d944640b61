package reconcile

import (
	"fmt"

	"github.com/joelkehle/projectfacts/internal/insight"
	"github.com/joelkehle/projectfacts/internal/store"
)

// Applier turns engine actions into storage mutations. Facts are created
// here and by conflict resolution only; nothing else writes the fact table.
type Applier struct {
	facts     store.Facts
	conflicts store.Conflicts
}

func NewApplier(facts store.Facts, conflicts store.Conflicts) *Applier {
	return &Applier{facts: facts, conflicts: conflicts}
}

// Apply executes one action for a candidate extracted from docID. It
// returns the surviving or newly created fact.
func (a *Applier) Apply(projectID, docID string, c insight.Candidate, action Action) (*insight.Fact, error) {
	switch action.Kind {
	case ActionInsert:
		return a.insert(projectID, docID, c, "")
	case ActionUpdate:
		return a.update(docID, c, action)
	case ActionConflict:
		return a.conflict(projectID, docID, c, action)
	default:
		return nil, fmt.Errorf("unknown action kind %q", action.Kind)
	}
}

func (a *Applier) insert(projectID, docID string, c insight.Candidate, conflictID string) (*insight.Fact, error) {
	f := &insight.Fact{
		ProjectID:         projectID,
		CanonicalKey:      c.CanonicalKey,
		Category:          c.Category,
		Statement:         c.Statement,
		Confidence:        insight.ClampConfidence(c.Confidence),
		SourceDocumentIDs: []string{docID},
		ExtractionMethod:  c.ExtractionMethod,
		EnrichmentCount:   1,
		ConflictID:        conflictID,
	}
	if docID == "" {
		f.SourceDocumentIDs = []string{}
	}
	if err := a.facts.InsertFact(f); err != nil {
		return nil, fmt.Errorf("insert fact: %w", err)
	}
	return f, nil
}

// update enriches the target fact: text and confidence from the action,
// source set grown by docID, enrichment count incremented. The source set
// only ever grows here, so a merged fact's sources stay a superset of the
// pre-merge set.
func (a *Applier) update(docID string, c insight.Candidate, action Action) (*insight.Fact, error) {
	target, err := a.facts.GetFact(action.TargetID)
	if err != nil {
		return nil, fmt.Errorf("load update target: %w", err)
	}
	if action.MergedStatement != "" {
		target.Statement = action.MergedStatement
	}
	target.Confidence = insight.ClampConfidence(action.NewConfidence)
	target.EnrichmentCount++
	if docID != "" && !target.HasSource(docID) {
		target.SourceDocumentIDs = append(target.SourceDocumentIDs, docID)
	}
	if err := a.facts.UpdateFact(target); err != nil {
		return nil, fmt.Errorf("update fact: %w", err)
	}
	return target, nil
}

// MergeFacts folds dup into target after a batch comparison classified
// them as duplicates or near-duplicates: text and confidence from the
// action, sources unioned, enrichment incremented, dup soft-deleted.
func (a *Applier) MergeFacts(target, dup *insight.Fact, action Action) error {
	if action.MergedStatement != "" {
		target.Statement = action.MergedStatement
	}
	target.Confidence = insight.ClampConfidence(action.NewConfidence)
	target.EnrichmentCount++
	for _, docID := range dup.SourceDocumentIDs {
		if !target.HasSource(docID) {
			target.SourceDocumentIDs = append(target.SourceDocumentIDs, docID)
		}
	}
	if err := a.facts.UpdateFact(target); err != nil {
		return fmt.Errorf("update merge target: %w", err)
	}
	if err := a.facts.SoftDeleteFact(dup.ID); err != nil {
		return fmt.Errorf("delete merged-away fact: %w", err)
	}
	return nil
}

// LinkFacts records a conflict between two already-live facts. It is
// idempotent: an existing conflict between the pair, in either orientation
// and any state, suppresses a new one.
func (a *Applier) LinkFacts(target, other *insight.Fact) (created bool, err error) {
	exists, err := a.conflicts.ConflictBetween(target.ProjectID, target.ID, other.ID)
	if err != nil {
		return false, fmt.Errorf("check existing conflict: %w", err)
	}
	if exists {
		return false, nil
	}

	conflict := &insight.Conflict{
		ProjectID:        target.ProjectID,
		FactAID:          target.ID,
		FactBID:          other.ID,
		ConflictType:     "contradiction",
		ResolutionStatus: insight.ResolutionPending,
	}
	if err := a.conflicts.InsertConflict(conflict); err != nil {
		return false, fmt.Errorf("insert conflict: %w", err)
	}
	for _, f := range []*insight.Fact{target, other} {
		f.ConflictID = conflict.ID
		if err := a.facts.UpdateFact(f); err != nil {
			return false, fmt.Errorf("backlink fact: %w", err)
		}
	}
	return true, nil
}

// conflict inserts the candidate as its own live fact and links both sides
// through the ledger. An existing conflict between the same pair is reused
// rather than duplicated.
func (a *Applier) conflict(projectID, docID string, c insight.Candidate, action Action) (*insight.Fact, error) {
	target, err := a.facts.GetFact(action.TargetID)
	if err != nil {
		return nil, fmt.Errorf("load conflict target: %w", err)
	}

	inserted, err := a.insert(projectID, docID, c, "")
	if err != nil {
		return nil, err
	}

	conflict := &insight.Conflict{
		ProjectID:        projectID,
		FactAID:          target.ID,
		FactBID:          inserted.ID,
		ConflictType:     "contradiction",
		ResolutionStatus: insight.ResolutionPending,
	}
	if err := a.conflicts.InsertConflict(conflict); err != nil {
		return nil, fmt.Errorf("insert conflict: %w", err)
	}

	target.ConflictID = conflict.ID
	if err := a.facts.UpdateFact(target); err != nil {
		return nil, fmt.Errorf("backlink existing fact: %w", err)
	}
	inserted.ConflictID = conflict.ID
	if err := a.facts.UpdateFact(inserted); err != nil {
		return nil, fmt.Errorf("backlink inserted fact: %w", err)
	}
	return inserted, nil
}
