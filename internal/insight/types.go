package insight

import "time"

// ExtractionMethod records which pass produced a fact.
type ExtractionMethod string

const (
	MethodPattern       ExtractionMethod = "pattern"
	MethodStructured    ExtractionMethod = "llm_structured"
	MethodRelationships ExtractionMethod = "llm_relationships"
	MethodRisks         ExtractionMethod = "llm_risks"
	MethodAssumptions   ExtractionMethod = "llm_assumptions"
	MethodResolverMerge ExtractionMethod = "resolver_merge"
)

// Fact is one atomic factual statement about a project, keyed by the
// canonical attribute it describes. Confidence is an integer percentage;
// every write path clamps it to [0,100].
type Fact struct {
	ID                string           `json:"id" db:"id"`
	ProjectID         string           `json:"project_id" db:"project_id"`
	CanonicalKey      string           `json:"canonical_key" db:"canonical_key"`
	Category          string           `json:"category" db:"category"`
	Statement         string           `json:"statement" db:"statement"`
	Confidence        int              `json:"confidence" db:"confidence"`
	SourceDocumentIDs []string         `json:"source_document_ids" db:"-"`
	ExtractionMethod  ExtractionMethod `json:"extraction_method" db:"extraction_method"`
	EnrichmentCount   int              `json:"enrichment_count" db:"enrichment_count"`
	ConflictID        string           `json:"conflict_id,omitempty" db:"conflict_id"`
	CreatedAt         time.Time        `json:"created_at" db:"-"`
	DeletedAt         time.Time        `json:"deleted_at,omitempty" db:"-"`
}

// Live reports whether the fact has not been soft-deleted.
func (f *Fact) Live() bool { return f.DeletedAt.IsZero() }

// HasSource reports whether docID contributed to this fact.
func (f *Fact) HasSource(docID string) bool {
	for _, id := range f.SourceDocumentIDs {
		if id == docID {
			return true
		}
	}
	return false
}

type ResolutionStatus string

const (
	ResolutionPending ResolutionStatus = "pending"
	ResolutionAcceptA ResolutionStatus = "accept_a"
	ResolutionAcceptB ResolutionStatus = "accept_b"
	ResolutionMerge   ResolutionStatus = "merge"
	ResolutionIgnore  ResolutionStatus = "ignore"
)

// Terminal reports whether the status ends the conflict lifecycle.
func (s ResolutionStatus) Terminal() bool { return s != ResolutionPending && s != "" }

// Conflict records two live facts in tension under the same canonical key.
// While pending, both referenced facts stay live; resolution decides which
// survive.
type Conflict struct {
	ID               string           `json:"id" db:"id"`
	ProjectID        string           `json:"project_id" db:"project_id"`
	FactAID          string           `json:"fact_a_id" db:"fact_a_id"`
	FactBID          string           `json:"fact_b_id" db:"fact_b_id"`
	ConflictType     string           `json:"conflict_type" db:"conflict_type"`
	ResolutionStatus ResolutionStatus `json:"resolution_status" db:"resolution_status"`
	CreatedAt        time.Time        `json:"created_at" db:"-"`
	ResolvedAt       time.Time        `json:"resolved_at,omitempty" db:"-"`
}

// Narrative is the current synthesized prose for one (project, section).
// Regeneration overwrites in place.
type Narrative struct {
	ProjectID string    `json:"project_id" db:"project_id"`
	Section   string    `json:"section" db:"section"`
	Text      string    `json:"text" db:"text"`
	UpdatedAt time.Time `json:"updated_at" db:"-"`
}

// Document is the slice of an uploaded document this core consumes: an
// opaque id plus extracted text. Format-specific parsing happens upstream.
type Document struct {
	ID         string    `json:"id" db:"id"`
	ProjectID  string    `json:"project_id" db:"project_id"`
	Name       string    `json:"name" db:"name"`
	DocType    string    `json:"doc_type" db:"doc_type"`
	Text       string    `json:"text" db:"text"`
	UploadedAt time.Time `json:"uploaded_at" db:"-"`
}

// Candidate is an extraction output not yet reconciled against the
// project's fact store.
type Candidate struct {
	Category         string           `json:"category"`
	CanonicalKey     string           `json:"canonical_key"`
	Statement        string           `json:"statement"`
	Confidence       int              `json:"confidence"`
	ExtractionMethod ExtractionMethod `json:"extraction_method"`
}

// ClampConfidence forces a confidence value into the [0,100] invariant.
func ClampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}
