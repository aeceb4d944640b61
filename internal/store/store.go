// Package store persists facts, conflicts, narratives, documents, and
// per-project records behind explicit repository interfaces. Components
// receive the interface they need; pooling and connection lifetime belong
// to the runtime, not to business logic.
package store

import (
	"errors"

	"github.com/joelkehle/projectfacts/internal/insight"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Facts is the fact-table repository. LiveByKey returns oldest-first so
// reconciliation compares against the earliest recorded fact.
type Facts interface {
	InsertFact(f *insight.Fact) error
	GetFact(id string) (*insight.Fact, error)
	LiveByKey(projectID, canonicalKey string) ([]insight.Fact, error)
	LiveByProject(projectID string) ([]insight.Fact, error)
	UpdateFact(f *insight.Fact) error
	SoftDeleteFact(id string) error
}

// Conflicts is the conflict-ledger repository.
type Conflicts interface {
	InsertConflict(c *insight.Conflict) error
	GetConflict(id string) (*insight.Conflict, error)
	PendingConflicts(projectID string) ([]insight.Conflict, error)
	// ConflictBetween reports whether any conflict, in either orientation
	// and regardless of status, already links the two facts. Stage 1
	// idempotence depends on this check.
	ConflictBetween(projectID, factAID, factBID string) (bool, error)
	UpdateConflict(c *insight.Conflict) error
}

// Narratives upserts and lists per-section synthesized prose.
type Narratives interface {
	UpsertNarrative(n *insight.Narrative) error
	NarrativesByProject(projectID string) ([]insight.Narrative, error)
}

// Documents holds uploaded document text for re-extraction and batch runs.
type Documents interface {
	InsertDocument(d *insight.Document) error
	GetDocument(id string) (*insight.Document, error)
	DocumentsByProject(projectID string) ([]insight.Document, error)
}

// Projects holds the consolidated per-project record and simulation jobs.
type Projects interface {
	GetProjectRecord(projectID string) (*insight.ProjectRecord, error)
	SaveProjectRecord(r *insight.ProjectRecord) error
	CreateSimulationJob(j *insight.SimulationJob) error
	SimulationJobExists(projectID string) (bool, error)
}

// Store is the full persistence surface; the SQLite implementation
// satisfies every repository.
type Store interface {
	Facts
	Conflicts
	Narratives
	Documents
	Projects
}
