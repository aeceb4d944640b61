// Package reconcile classifies candidate facts against the live fact store
// and owns the conflict resolution lifecycle. The engine itself performs no
// writes; it returns an Action the caller applies.
package reconcile

import (
	"context"
	"fmt"
	"math"

	"github.com/joelkehle/projectfacts/internal/insight"
	"github.com/joelkehle/projectfacts/internal/store"
)

const (
	// DuplicateThreshold and above (exclusive) means the candidate restates
	// an existing fact; the existing text is kept.
	DuplicateThreshold = 0.95
	// MergeThreshold marks the near-duplicate band (MergeThreshold, DuplicateThreshold].
	// At or below it the statements contradict and a conflict is recorded.
	MergeThreshold = 0.70
)

// Oracle scores statement similarity and fuses near-duplicates.
type Oracle interface {
	Score(ctx context.Context, a, b string) float64
	Merge(ctx context.Context, a, b string) string
}

type ActionKind string

const (
	ActionInsert   ActionKind = "insert"
	ActionUpdate   ActionKind = "update"
	ActionConflict ActionKind = "conflict"
)

// Action is the tagged outcome of reconciling one candidate. TargetID is
// set for update and conflict; MergedStatement and NewConfidence only for
// update.
type Action struct {
	Kind            ActionKind
	TargetID        string
	MergedStatement string
	NewConfidence   int
}

type Engine struct {
	facts  store.Facts
	oracle Oracle
}

func NewEngine(facts store.Facts, oracle Oracle) *Engine {
	return &Engine{facts: facts, oracle: oracle}
}

// Reconcile compares the candidate against live facts sharing its canonical
// key. Only the first (oldest) existing fact determines the outcome: when
// several live facts share a key the candidate is never compared against
// the rest. That is a known precision limitation carried over deliberately;
// best-match selection would change conflict behavior and is tracked in
// DESIGN.md. Only storage errors are returned.
func (e *Engine) Reconcile(ctx context.Context, projectID string, c insight.Candidate) (Action, error) {
	live, err := e.facts.LiveByKey(projectID, c.CanonicalKey)
	if err != nil {
		return Action{}, fmt.Errorf("load live facts for %s: %w", c.CanonicalKey, err)
	}
	if len(live) == 0 {
		return Action{Kind: ActionInsert}, nil
	}

	existing := live[0]
	return e.compare(ctx, &existing, c), nil
}

// CompareFacts classifies the later fact against the earlier one as if it
// were a fresh candidate. Batch reconciliation uses this for pairwise
// cross-document comparison.
func (e *Engine) CompareFacts(ctx context.Context, earlier, later *insight.Fact) Action {
	return e.compare(ctx, earlier, insight.Candidate{
		CanonicalKey: later.CanonicalKey,
		Category:     later.Category,
		Statement:    later.Statement,
		Confidence:   later.Confidence,
	})
}

// compare classifies the candidate against one existing fact.
func (e *Engine) compare(ctx context.Context, existing *insight.Fact, c insight.Candidate) Action {
	score := e.oracle.Score(ctx, existing.Statement, c.Statement)
	switch {
	case score > DuplicateThreshold:
		return Action{
			Kind:            ActionUpdate,
			TargetID:        existing.ID,
			MergedStatement: existing.Statement,
			NewConfidence:   weightedConfidence(existing.Confidence, existing.EnrichmentCount, c.Confidence),
		}
	case score > MergeThreshold:
		return Action{
			Kind:            ActionUpdate,
			TargetID:        existing.ID,
			MergedStatement: e.oracle.Merge(ctx, existing.Statement, c.Statement),
			NewConfidence:   weightedConfidence(existing.Confidence, existing.EnrichmentCount, c.Confidence),
		}
	default:
		return Action{Kind: ActionConflict, TargetID: existing.ID}
	}
}

// weightedConfidence is the enrichment-weighted running mean, rounded to
// the nearest integer percent and clamped to [0,100].
func weightedConfidence(existingConf, enrichmentCount, candidateConf int) int {
	if enrichmentCount < 1 {
		enrichmentCount = 1
	}
	mean := (float64(existingConf)*float64(enrichmentCount) + float64(candidateConf)) / float64(enrichmentCount+1)
	return insight.ClampConfidence(int(math.Round(mean)))
}
