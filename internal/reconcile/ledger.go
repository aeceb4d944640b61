package reconcile

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/joelkehle/projectfacts/internal/insight"
	"github.com/joelkehle/projectfacts/internal/store"
)

// ErrConflictResolved is returned when resolving a conflict that already
// left the pending state. No mutation is applied in that case.
var ErrConflictResolved = errors.New("conflict already resolved")

// ErrMergedTextRequired is returned for a merge resolution without
// resolver-supplied text.
var ErrMergedTextRequired = errors.New("merge resolution requires merged text")

// Ledger applies terminal resolutions to pending conflicts. Every
// resolution is a single pending → terminal transition; a second attempt
// is rejected before any write.
type Ledger struct {
	facts     store.Facts
	conflicts store.Conflicts
}

func NewLedger(facts store.Facts, conflicts store.Conflicts) *Ledger {
	return &Ledger{facts: facts, conflicts: conflicts}
}

// Resolve closes the conflict with the given terminal status. mergedText
// is required for merge and ignored otherwise.
func (l *Ledger) Resolve(conflictID string, status insight.ResolutionStatus, mergedText string) error {
	c, err := l.conflicts.GetConflict(conflictID)
	if err != nil {
		return fmt.Errorf("load conflict: %w", err)
	}
	if c.ResolutionStatus.Terminal() {
		return ErrConflictResolved
	}

	factA, err := l.facts.GetFact(c.FactAID)
	if err != nil {
		return fmt.Errorf("load fact A: %w", err)
	}
	factB, err := l.facts.GetFact(c.FactBID)
	if err != nil {
		return fmt.Errorf("load fact B: %w", err)
	}

	switch status {
	case insight.ResolutionAcceptA:
		if err := l.accept(factA, factB); err != nil {
			return err
		}
	case insight.ResolutionAcceptB:
		if err := l.accept(factB, factA); err != nil {
			return err
		}
	case insight.ResolutionMerge:
		if mergedText == "" {
			return ErrMergedTextRequired
		}
		if err := l.merge(factA, factB, mergedText); err != nil {
			return err
		}
	case insight.ResolutionIgnore:
		if err := l.clearBacklinks(factA, factB); err != nil {
			return err
		}
	default:
		return fmt.Errorf("invalid resolution status %q", status)
	}

	c.ResolutionStatus = status
	c.ResolvedAt = time.Now().UTC()
	if err := l.conflicts.UpdateConflict(c); err != nil {
		return fmt.Errorf("close conflict: %w", err)
	}
	return nil
}

// accept deletes the loser and clears the winner's backlink.
func (l *Ledger) accept(winner, loser *insight.Fact) error {
	if err := l.facts.SoftDeleteFact(loser.ID); err != nil {
		return fmt.Errorf("delete losing fact: %w", err)
	}
	winner.ConflictID = ""
	if err := l.facts.UpdateFact(winner); err != nil {
		return fmt.Errorf("clear winner backlink: %w", err)
	}
	return nil
}

// merge creates one fact carrying both sides' provenance: sources are the
// union, confidence the mean, enrichment the sum, statement the resolver's
// text. Both originals are soft-deleted.
func (l *Ledger) merge(factA, factB *insight.Fact, mergedText string) error {
	merged := &insight.Fact{
		ProjectID:         factA.ProjectID,
		CanonicalKey:      factA.CanonicalKey,
		Category:          factA.Category,
		Statement:         mergedText,
		Confidence:        insight.ClampConfidence(int(math.Round(float64(factA.Confidence+factB.Confidence) / 2))),
		SourceDocumentIDs: unionSources(factA.SourceDocumentIDs, factB.SourceDocumentIDs),
		ExtractionMethod:  insight.MethodResolverMerge,
		EnrichmentCount:   factA.EnrichmentCount + factB.EnrichmentCount,
	}
	if err := l.facts.InsertFact(merged); err != nil {
		return fmt.Errorf("insert merged fact: %w", err)
	}
	if err := l.facts.SoftDeleteFact(factA.ID); err != nil {
		return fmt.Errorf("delete fact A: %w", err)
	}
	if err := l.facts.SoftDeleteFact(factB.ID); err != nil {
		return fmt.Errorf("delete fact B: %w", err)
	}
	return nil
}

func (l *Ledger) clearBacklinks(factA, factB *insight.Fact) error {
	for _, f := range []*insight.Fact{factA, factB} {
		if f.ConflictID == "" {
			continue
		}
		f.ConflictID = ""
		if err := l.facts.UpdateFact(f); err != nil {
			return fmt.Errorf("clear backlink: %w", err)
		}
	}
	return nil
}

func unionSources(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
