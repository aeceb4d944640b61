package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/joelkehle/projectfacts/internal/insight"
)

// SQLiteStore implements Store over a single SQLite file. All writes go
// through parameterized statements; no untrusted text is ever formatted
// into SQL.
type SQLiteStore struct {
	db *sqlx.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS facts (
	id                TEXT PRIMARY KEY,
	project_id        TEXT NOT NULL,
	canonical_key     TEXT NOT NULL,
	category          TEXT NOT NULL DEFAULT 'other',
	statement         TEXT NOT NULL,
	confidence        INTEGER NOT NULL DEFAULT 0,
	source_documents  TEXT NOT NULL DEFAULT '[]',
	extraction_method TEXT NOT NULL DEFAULT '',
	enrichment_count  INTEGER NOT NULL DEFAULT 1,
	conflict_id       TEXT NOT NULL DEFAULT '',
	created_at        TEXT NOT NULL,
	deleted_at        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_facts_project_key ON facts (project_id, canonical_key);

CREATE TABLE IF NOT EXISTS conflicts (
	id                TEXT PRIMARY KEY,
	project_id        TEXT NOT NULL,
	fact_a_id         TEXT NOT NULL,
	fact_b_id         TEXT NOT NULL,
	conflict_type     TEXT NOT NULL DEFAULT 'contradiction',
	resolution_status TEXT NOT NULL DEFAULT 'pending',
	created_at        TEXT NOT NULL,
	resolved_at       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_conflicts_project ON conflicts (project_id);

CREATE TABLE IF NOT EXISTS narratives (
	project_id TEXT NOT NULL,
	section    TEXT NOT NULL,
	text       TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (project_id, section)
);

CREATE TABLE IF NOT EXISTS documents (
	id          TEXT PRIMARY KEY,
	project_id  TEXT NOT NULL,
	name        TEXT NOT NULL DEFAULT '',
	doc_type    TEXT NOT NULL DEFAULT '',
	text        TEXT NOT NULL,
	uploaded_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_project ON documents (project_id);

CREATE TABLE IF NOT EXISTS project_records (
	project_id TEXT PRIMARY KEY,
	record     TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS simulation_jobs (
	id         TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'pending',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_project ON simulation_jobs (project_id);
`

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func timeToString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func marshalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// --- facts ---

func (s *SQLiteStore) InsertFact(f *insight.Fact) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	f.Confidence = insight.ClampConfidence(f.Confidence)
	if f.EnrichmentCount <= 0 {
		f.EnrichmentCount = 1
	}
	if f.SourceDocumentIDs == nil {
		f.SourceDocumentIDs = []string{}
	}
	_, err := s.db.Exec(`INSERT INTO facts (id, project_id, canonical_key, category, statement, confidence,
		source_documents, extraction_method, enrichment_count, conflict_id, created_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.ProjectID, f.CanonicalKey, f.Category, f.Statement, f.Confidence,
		marshalJSON(f.SourceDocumentIDs), string(f.ExtractionMethod), f.EnrichmentCount,
		f.ConflictID, timeToString(f.CreatedAt), timeToString(f.DeletedAt))
	return err
}

const factColumns = `id, project_id, canonical_key, category, statement, confidence,
	source_documents, extraction_method, enrichment_count, conflict_id, created_at, deleted_at`

func scanFact(rows *sql.Rows) (insight.Fact, error) {
	var f insight.Fact
	var sourcesJSON, method, createdAt, deletedAt string
	if err := rows.Scan(&f.ID, &f.ProjectID, &f.CanonicalKey, &f.Category, &f.Statement, &f.Confidence,
		&sourcesJSON, &method, &f.EnrichmentCount, &f.ConflictID, &createdAt, &deletedAt); err != nil {
		return f, err
	}
	_ = json.Unmarshal([]byte(sourcesJSON), &f.SourceDocumentIDs)
	f.ExtractionMethod = insight.ExtractionMethod(method)
	f.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if deletedAt != "" {
		f.DeletedAt, _ = time.Parse(time.RFC3339Nano, deletedAt)
	}
	return f, nil
}

func (s *SQLiteStore) queryFacts(query string, args ...any) ([]insight.Fact, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var facts []insight.Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

func (s *SQLiteStore) GetFact(id string) (*insight.Fact, error) {
	facts, err := s.queryFacts(`SELECT `+factColumns+` FROM facts WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(facts) == 0 {
		return nil, ErrNotFound
	}
	return &facts[0], nil
}

func (s *SQLiteStore) LiveByKey(projectID, canonicalKey string) ([]insight.Fact, error) {
	return s.queryFacts(`SELECT `+factColumns+` FROM facts
		WHERE project_id = ? AND canonical_key = ? AND deleted_at = ''
		ORDER BY created_at ASC, id ASC`, projectID, canonicalKey)
}

func (s *SQLiteStore) LiveByProject(projectID string) ([]insight.Fact, error) {
	return s.queryFacts(`SELECT `+factColumns+` FROM facts
		WHERE project_id = ? AND deleted_at = ''
		ORDER BY created_at ASC, id ASC`, projectID)
}

func (s *SQLiteStore) UpdateFact(f *insight.Fact) error {
	f.Confidence = insight.ClampConfidence(f.Confidence)
	res, err := s.db.Exec(`UPDATE facts SET statement = ?, confidence = ?, source_documents = ?,
		enrichment_count = ?, conflict_id = ?, deleted_at = ? WHERE id = ?`,
		f.Statement, f.Confidence, marshalJSON(f.SourceDocumentIDs),
		f.EnrichmentCount, f.ConflictID, timeToString(f.DeletedAt), f.ID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) SoftDeleteFact(id string) error {
	res, err := s.db.Exec(`UPDATE facts SET deleted_at = ? WHERE id = ? AND deleted_at = ''`,
		timeToString(time.Now().UTC()), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- conflicts ---

func (s *SQLiteStore) InsertConflict(c *insight.Conflict) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.ResolutionStatus == "" {
		c.ResolutionStatus = insight.ResolutionPending
	}
	_, err := s.db.Exec(`INSERT INTO conflicts (id, project_id, fact_a_id, fact_b_id, conflict_type,
		resolution_status, created_at, resolved_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ProjectID, c.FactAID, c.FactBID, c.ConflictType,
		string(c.ResolutionStatus), timeToString(c.CreatedAt), timeToString(c.ResolvedAt))
	return err
}

const conflictColumns = `id, project_id, fact_a_id, fact_b_id, conflict_type, resolution_status, created_at, resolved_at`

func (s *SQLiteStore) queryConflicts(query string, args ...any) ([]insight.Conflict, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []insight.Conflict
	for rows.Next() {
		var c insight.Conflict
		var status, createdAt, resolvedAt string
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.FactAID, &c.FactBID, &c.ConflictType,
			&status, &createdAt, &resolvedAt); err != nil {
			return nil, err
		}
		c.ResolutionStatus = insight.ResolutionStatus(status)
		c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		if resolvedAt != "" {
			c.ResolvedAt, _ = time.Parse(time.RFC3339Nano, resolvedAt)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetConflict(id string) (*insight.Conflict, error) {
	cs, err := s.queryConflicts(`SELECT `+conflictColumns+` FROM conflicts WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(cs) == 0 {
		return nil, ErrNotFound
	}
	return &cs[0], nil
}

func (s *SQLiteStore) PendingConflicts(projectID string) ([]insight.Conflict, error) {
	return s.queryConflicts(`SELECT `+conflictColumns+` FROM conflicts
		WHERE project_id = ? AND resolution_status = 'pending'
		ORDER BY created_at ASC`, projectID)
}

func (s *SQLiteStore) ConflictBetween(projectID, factAID, factBID string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(1) FROM conflicts WHERE project_id = ?
		AND ((fact_a_id = ? AND fact_b_id = ?) OR (fact_a_id = ? AND fact_b_id = ?))`,
		projectID, factAID, factBID, factBID, factAID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) UpdateConflict(c *insight.Conflict) error {
	res, err := s.db.Exec(`UPDATE conflicts SET resolution_status = ?, resolved_at = ? WHERE id = ?`,
		string(c.ResolutionStatus), timeToString(c.ResolvedAt), c.ID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- narratives ---

func (s *SQLiteStore) UpsertNarrative(n *insight.Narrative) error {
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`INSERT OR REPLACE INTO narratives (project_id, section, text, updated_at)
		VALUES (?, ?, ?, ?)`,
		n.ProjectID, n.Section, n.Text, timeToString(n.UpdatedAt))
	return err
}

func (s *SQLiteStore) NarrativesByProject(projectID string) ([]insight.Narrative, error) {
	rows, err := s.db.Query(`SELECT project_id, section, text, updated_at FROM narratives
		WHERE project_id = ? ORDER BY section ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []insight.Narrative
	for rows.Next() {
		var n insight.Narrative
		var updatedAt string
		if err := rows.Scan(&n.ProjectID, &n.Section, &n.Text, &updatedAt); err != nil {
			return nil, err
		}
		n.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		out = append(out, n)
	}
	return out, rows.Err()
}

// --- documents ---

func (s *SQLiteStore) InsertDocument(d *insight.Document) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.UploadedAt.IsZero() {
		d.UploadedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`INSERT INTO documents (id, project_id, name, doc_type, text, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.ProjectID, d.Name, d.DocType, d.Text, timeToString(d.UploadedAt))
	return err
}

func (s *SQLiteStore) GetDocument(id string) (*insight.Document, error) {
	docs, err := s.queryDocuments(`SELECT id, project_id, name, doc_type, text, uploaded_at
		FROM documents WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return &docs[0], nil
}

func (s *SQLiteStore) DocumentsByProject(projectID string) ([]insight.Document, error) {
	return s.queryDocuments(`SELECT id, project_id, name, doc_type, text, uploaded_at
		FROM documents WHERE project_id = ? ORDER BY uploaded_at ASC`, projectID)
}

func (s *SQLiteStore) queryDocuments(query string, args ...any) ([]insight.Document, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []insight.Document
	for rows.Next() {
		var d insight.Document
		var uploadedAt string
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.Name, &d.DocType, &d.Text, &uploadedAt); err != nil {
			return nil, err
		}
		d.UploadedAt, _ = time.Parse(time.RFC3339Nano, uploadedAt)
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- project records & jobs ---

func (s *SQLiteStore) GetProjectRecord(projectID string) (*insight.ProjectRecord, error) {
	var recordJSON, updatedAt string
	err := s.db.QueryRow(`SELECT record, updated_at FROM project_records WHERE project_id = ?`,
		projectID).Scan(&recordJSON, &updatedAt)
	if err == sql.ErrNoRows {
		return &insight.ProjectRecord{ProjectID: projectID}, nil
	}
	if err != nil {
		return nil, err
	}
	var r insight.ProjectRecord
	if err := json.Unmarshal([]byte(recordJSON), &r); err != nil {
		return nil, fmt.Errorf("decode project record: %w", err)
	}
	r.ProjectID = projectID
	r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &r, nil
}

func (s *SQLiteStore) SaveProjectRecord(r *insight.ProjectRecord) error {
	r.UpdatedAt = time.Now().UTC()
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode project record: %w", err)
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO project_records (project_id, record, updated_at)
		VALUES (?, ?, ?)`, r.ProjectID, string(b), timeToString(r.UpdatedAt))
	return err
}

func (s *SQLiteStore) CreateSimulationJob(j *insight.SimulationJob) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	if j.Status == "" {
		j.Status = insight.JobPending
	}
	_, err := s.db.Exec(`INSERT INTO simulation_jobs (id, project_id, status, created_at)
		VALUES (?, ?, ?, ?)`,
		j.ID, j.ProjectID, string(j.Status), timeToString(j.CreatedAt))
	return err
}

func (s *SQLiteStore) SimulationJobExists(projectID string) (bool, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM simulation_jobs WHERE project_id = ?`, projectID).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// Ensure SQLiteStore satisfies the Store interface at compile time.
var _ Store = (*SQLiteStore)(nil)
