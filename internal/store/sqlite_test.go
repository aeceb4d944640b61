package store

import (
	"path/filepath"
	"testing"

	"github.com/joelkehle/projectfacts/internal/insight"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "facts.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFactRoundTrip(t *testing.T) {
	s := newTestStore(t)

	f := &insight.Fact{
		ProjectID:         "p1",
		CanonicalKey:      "dc_capacity_mw",
		Category:          insight.SectionTechnical,
		Statement:         "DC capacity is 150 MW",
		Confidence:        95,
		SourceDocumentIDs: []string{"doc1"},
		ExtractionMethod:  insight.MethodPattern,
	}
	if err := s.InsertFact(f); err != nil {
		t.Fatalf("InsertFact: %v", err)
	}
	if f.ID == "" {
		t.Fatal("expected generated id")
	}
	if f.EnrichmentCount != 1 {
		t.Fatalf("enrichment count = %d, want 1", f.EnrichmentCount)
	}

	got, err := s.GetFact(f.ID)
	if err != nil {
		t.Fatalf("GetFact: %v", err)
	}
	if got.Statement != f.Statement || got.Confidence != 95 || len(got.SourceDocumentIDs) != 1 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestInsertFactClampsConfidence(t *testing.T) {
	s := newTestStore(t)

	f := &insight.Fact{ProjectID: "p1", CanonicalKey: "k", Statement: "x", Confidence: 150}
	if err := s.InsertFact(f); err != nil {
		t.Fatalf("InsertFact: %v", err)
	}
	got, err := s.GetFact(f.ID)
	if err != nil {
		t.Fatalf("GetFact: %v", err)
	}
	if got.Confidence != 100 {
		t.Fatalf("confidence = %d, want clamp to 100", got.Confidence)
	}
}

func TestLiveByKeyOrdersOldestFirstAndSkipsDeleted(t *testing.T) {
	s := newTestStore(t)

	a := &insight.Fact{ProjectID: "p1", CanonicalKey: "k", Statement: "first"}
	b := &insight.Fact{ProjectID: "p1", CanonicalKey: "k", Statement: "second"}
	c := &insight.Fact{ProjectID: "p1", CanonicalKey: "k", Statement: "third"}
	for _, f := range []*insight.Fact{a, b, c} {
		if err := s.InsertFact(f); err != nil {
			t.Fatalf("InsertFact: %v", err)
		}
	}
	if err := s.SoftDeleteFact(b.ID); err != nil {
		t.Fatalf("SoftDeleteFact: %v", err)
	}

	live, err := s.LiveByKey("p1", "k")
	if err != nil {
		t.Fatalf("LiveByKey: %v", err)
	}
	if len(live) != 2 {
		t.Fatalf("live count = %d, want 2", len(live))
	}
	if live[0].Statement != "first" {
		t.Fatalf("expected oldest first, got %q", live[0].Statement)
	}
}

func TestSoftDeleteTwiceFails(t *testing.T) {
	s := newTestStore(t)

	f := &insight.Fact{ProjectID: "p1", CanonicalKey: "k", Statement: "x"}
	if err := s.InsertFact(f); err != nil {
		t.Fatalf("InsertFact: %v", err)
	}
	if err := s.SoftDeleteFact(f.ID); err != nil {
		t.Fatalf("first SoftDeleteFact: %v", err)
	}
	if err := s.SoftDeleteFact(f.ID); err != ErrNotFound {
		t.Fatalf("second SoftDeleteFact = %v, want ErrNotFound", err)
	}
}

func TestConflictBetweenIsOrderInsensitive(t *testing.T) {
	s := newTestStore(t)

	c := &insight.Conflict{ProjectID: "p1", FactAID: "fa", FactBID: "fb", ConflictType: "contradiction"}
	if err := s.InsertConflict(c); err != nil {
		t.Fatalf("InsertConflict: %v", err)
	}
	for _, pair := range [][2]string{{"fa", "fb"}, {"fb", "fa"}} {
		exists, err := s.ConflictBetween("p1", pair[0], pair[1])
		if err != nil {
			t.Fatalf("ConflictBetween: %v", err)
		}
		if !exists {
			t.Fatalf("ConflictBetween(%q,%q) = false, want true", pair[0], pair[1])
		}
	}
	exists, err := s.ConflictBetween("p1", "fa", "fc")
	if err != nil {
		t.Fatalf("ConflictBetween: %v", err)
	}
	if exists {
		t.Fatal("unexpected conflict between unrelated facts")
	}
}

func TestPendingConflictsExcludesResolved(t *testing.T) {
	s := newTestStore(t)

	c1 := &insight.Conflict{ProjectID: "p1", FactAID: "a1", FactBID: "b1"}
	c2 := &insight.Conflict{ProjectID: "p1", FactAID: "a2", FactBID: "b2"}
	for _, c := range []*insight.Conflict{c1, c2} {
		if err := s.InsertConflict(c); err != nil {
			t.Fatalf("InsertConflict: %v", err)
		}
	}
	c1.ResolutionStatus = insight.ResolutionIgnore
	if err := s.UpdateConflict(c1); err != nil {
		t.Fatalf("UpdateConflict: %v", err)
	}

	pending, err := s.PendingConflicts("p1")
	if err != nil {
		t.Fatalf("PendingConflicts: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != c2.ID {
		t.Fatalf("pending = %+v, want only c2", pending)
	}
}

func TestNarrativeUpsertOverwrites(t *testing.T) {
	s := newTestStore(t)

	n := &insight.Narrative{ProjectID: "p1", Section: insight.SectionTechnical, Text: "v1"}
	if err := s.UpsertNarrative(n); err != nil {
		t.Fatalf("UpsertNarrative: %v", err)
	}
	n2 := &insight.Narrative{ProjectID: "p1", Section: insight.SectionTechnical, Text: "v2"}
	if err := s.UpsertNarrative(n2); err != nil {
		t.Fatalf("UpsertNarrative overwrite: %v", err)
	}

	got, err := s.NarrativesByProject("p1")
	if err != nil {
		t.Fatalf("NarrativesByProject: %v", err)
	}
	if len(got) != 1 || got[0].Text != "v2" {
		t.Fatalf("narratives = %+v, want single overwritten record", got)
	}
}

func TestProjectRecordDefaultsWhenMissing(t *testing.T) {
	s := newTestStore(t)

	r, err := s.GetProjectRecord("p1")
	if err != nil {
		t.Fatalf("GetProjectRecord: %v", err)
	}
	if r.ProjectID != "p1" || r.Location != nil {
		t.Fatalf("unexpected default record: %+v", r)
	}

	r.Location = &insight.Location{Latitude: 35.1, Longitude: -106.6, Source: insight.LocationFromDocument, Confidence: 90}
	r.Weather = &insight.WeatherSummary{Records: 8760, AvgGHI: 210.5}
	if err := s.SaveProjectRecord(r); err != nil {
		t.Fatalf("SaveProjectRecord: %v", err)
	}

	got, err := s.GetProjectRecord("p1")
	if err != nil {
		t.Fatalf("GetProjectRecord after save: %v", err)
	}
	if got.Location == nil || got.Location.Latitude != 35.1 || got.Weather.Records != 8760 {
		t.Fatalf("record round trip mismatch: %+v", got)
	}
}

func TestSimulationJobExists(t *testing.T) {
	s := newTestStore(t)

	exists, err := s.SimulationJobExists("p1")
	if err != nil {
		t.Fatalf("SimulationJobExists: %v", err)
	}
	if exists {
		t.Fatal("no job inserted yet")
	}
	if err := s.CreateSimulationJob(&insight.SimulationJob{ProjectID: "p1"}); err != nil {
		t.Fatalf("CreateSimulationJob: %v", err)
	}
	exists, err = s.SimulationJobExists("p1")
	if err != nil {
		t.Fatalf("SimulationJobExists: %v", err)
	}
	if !exists {
		t.Fatal("expected job to exist")
	}
}
