package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/joelkehle/projectfacts/internal/consolidate"
	"github.com/joelkehle/projectfacts/internal/ingest"
	"github.com/joelkehle/projectfacts/internal/insight"
	"github.com/joelkehle/projectfacts/internal/reconcile"
	"github.com/joelkehle/projectfacts/internal/store"
)

type fakeIngestor struct {
	lastDoc *insight.Document
	err     error
}

func (f *fakeIngestor) Ingest(ctx context.Context, doc *insight.Document) (*ingest.Result, error) {
	f.lastDoc = doc
	if f.err != nil {
		return nil, f.err
	}
	return &ingest.Result{DocumentID: "doc-1", Candidates: 3, Inserted: 2, Updated: 1}, nil
}

// fakePipeline blocks on gate so tests can observe the running state.
type fakePipeline struct {
	gate chan struct{}
}

func (f *fakePipeline) Run(ctx context.Context, projectID string, progress consolidate.ProgressFn) (*consolidate.Result, error) {
	if progress != nil {
		progress(consolidate.Progress{Stage: "reconcile", Percent: 5, Message: "Reconciling facts across documents"})
	}
	if f.gate != nil {
		<-f.gate
	}
	if progress != nil {
		progress(consolidate.Progress{Stage: "complete", Percent: 100, Message: "Consolidation complete"})
	}
	return &consolidate.Result{ProjectID: projectID, StagesRun: []string{"reconcile"}}, nil
}

type serverFixture struct {
	handler  http.Handler
	store    *store.SQLiteStore
	ingestor *fakeIngestor
	pipeline *fakePipeline
}

func newFixture(t *testing.T) *serverFixture {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "facts.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ingestor := &fakeIngestor{}
	pipeline := &fakePipeline{}
	return &serverFixture{
		handler:  NewServer(s, ingestor, pipeline, reconcile.NewLedger(s, s)),
		store:    s,
		ingestor: ingestor,
		pipeline: pipeline,
	}
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	blob, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(blob))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
}

func insertFact(t *testing.T, s *store.SQLiteStore, key, category, statement string, conf int) *insight.Fact {
	t.Helper()
	f := &insight.Fact{
		ProjectID:         "p1",
		CanonicalKey:      key,
		Category:          category,
		Statement:         statement,
		Confidence:        conf,
		SourceDocumentIDs: []string{"doc-1"},
		ExtractionMethod:  insight.MethodPattern,
	}
	if err := s.InsertFact(f); err != nil {
		t.Fatalf("insert fact: %v", err)
	}
	return f
}

func TestUploadDocument(t *testing.T) {
	fx := newFixture(t)
	rr := postJSON(t, fx.handler, "/v1/projects/p1/documents", map[string]any{
		"name": "study.pdf", "doc_type": "feasibility", "text": "The plant is 150 MW.",
	})
	if rr.Code != 200 {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if fx.ingestor.lastDoc == nil || fx.ingestor.lastDoc.ProjectID != "p1" {
		t.Fatalf("ingestor got %+v", fx.ingestor.lastDoc)
	}
	var out struct {
		Result ingest.Result `json:"result"`
	}
	decode(t, rr, &out)
	if out.Result.Candidates != 3 {
		t.Fatalf("result = %+v", out.Result)
	}
}

func TestUploadDocumentRequiresText(t *testing.T) {
	fx := newFixture(t)
	rr := postJSON(t, fx.handler, "/v1/projects/p1/documents", map[string]any{"name": "x"})
	if rr.Code != 400 {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestListFactsGroupedBySection(t *testing.T) {
	fx := newFixture(t)
	insertFact(t, fx.store, "dc_capacity_mw", "technical", "150 MW DC", 95)
	insertFact(t, fx.store, "capex_usd", "financial", "capex of $180M", 85)
	insertFact(t, fx.store, "grid_risk", "risks", "interconnection queue delay", 70)

	rr := get(t, fx.handler, "/v1/projects/p1/facts")
	if rr.Code != 200 {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var out struct {
		Sections []struct {
			Section string         `json:"section"`
			Facts   []insight.Fact `json:"facts"`
		} `json:"sections"`
	}
	decode(t, rr, &out)
	if len(out.Sections) != 3 {
		t.Fatalf("sections = %+v", out.Sections)
	}
	// Canonical section order, not insertion order.
	if out.Sections[0].Section != insight.SectionTechnical {
		t.Fatalf("first section = %s", out.Sections[0].Section)
	}
}

func TestConflictListAndResolve(t *testing.T) {
	fx := newFixture(t)
	a := insertFact(t, fx.store, "output_profile", "technical", "100MW during peak", 90)
	b := insertFact(t, fx.store, "output_profile", "technical", "30% curtailment risk", 70)
	conflict := &insight.Conflict{ProjectID: "p1", FactAID: a.ID, FactBID: b.ID, ConflictType: "contradiction"}
	if err := fx.store.InsertConflict(conflict); err != nil {
		t.Fatalf("insert conflict: %v", err)
	}
	a.ConflictID = conflict.ID
	b.ConflictID = conflict.ID
	if err := fx.store.UpdateFact(a); err != nil {
		t.Fatalf("backlink a: %v", err)
	}
	if err := fx.store.UpdateFact(b); err != nil {
		t.Fatalf("backlink b: %v", err)
	}

	rr := get(t, fx.handler, "/v1/projects/p1/conflicts")
	if rr.Code != 200 {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var out struct {
		Conflicts []struct {
			ID    string       `json:"id"`
			Key   string       `json:"canonical_key"`
			FactA conflictSide `json:"fact_a"`
			FactB conflictSide `json:"fact_b"`
		} `json:"conflicts"`
	}
	decode(t, rr, &out)
	if len(out.Conflicts) != 1 {
		t.Fatalf("conflicts = %+v", out.Conflicts)
	}
	got := out.Conflicts[0]
	if got.Key != "output_profile" || got.FactA.Confidence != 90 || got.FactB.SourceCount != 1 {
		t.Fatalf("conflict view = %+v", got)
	}

	rr = postJSON(t, fx.handler, "/v1/conflicts/"+conflict.ID+"/resolve", map[string]any{"resolution": "accept_a"})
	if rr.Code != 200 {
		t.Fatalf("resolve status=%d body=%s", rr.Code, rr.Body.String())
	}

	// Second resolution of the same conflict is rejected.
	rr = postJSON(t, fx.handler, "/v1/conflicts/"+conflict.ID+"/resolve", map[string]any{"resolution": "accept_b"})
	if rr.Code != 409 {
		t.Fatalf("re-resolve status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestResolveValidation(t *testing.T) {
	fx := newFixture(t)
	rr := postJSON(t, fx.handler, "/v1/conflicts/nope/resolve", map[string]any{"resolution": "accept_a"})
	if rr.Code != 404 {
		t.Fatalf("missing conflict status=%d body=%s", rr.Code, rr.Body.String())
	}

	a := insertFact(t, fx.store, "k", "technical", "one", 90)
	b := insertFact(t, fx.store, "k", "technical", "two", 80)
	conflict := &insight.Conflict{ProjectID: "p1", FactAID: a.ID, FactBID: b.ID, ConflictType: "contradiction"}
	if err := fx.store.InsertConflict(conflict); err != nil {
		t.Fatalf("insert conflict: %v", err)
	}

	rr = postJSON(t, fx.handler, "/v1/conflicts/"+conflict.ID+"/resolve", map[string]any{"resolution": "merge"})
	if rr.Code != 400 {
		t.Fatalf("merge without text status=%d body=%s", rr.Code, rr.Body.String())
	}
	rr = postJSON(t, fx.handler, "/v1/conflicts/"+conflict.ID+"/resolve", map[string]any{"resolution": "destroy"})
	if rr.Code != 400 {
		t.Fatalf("bad status status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestNarrativesRenderHTML(t *testing.T) {
	fx := newFixture(t)
	n := &insight.Narrative{ProjectID: "p1", Section: insight.SectionTechnical, Text: "# Technical\n\nThe plant is **150 MW**."}
	if err := fx.store.UpsertNarrative(n); err != nil {
		t.Fatalf("upsert narrative: %v", err)
	}

	rr := get(t, fx.handler, "/v1/projects/p1/narratives")
	if rr.Code != 200 {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var out struct {
		Narratives []struct {
			Section  string `json:"section"`
			Markdown string `json:"markdown"`
			HTML     string `json:"html"`
		} `json:"narratives"`
	}
	decode(t, rr, &out)
	if len(out.Narratives) != 1 {
		t.Fatalf("narratives = %+v", out.Narratives)
	}
	if !bytes.Contains([]byte(out.Narratives[0].HTML), []byte("<strong>150 MW</strong>")) {
		t.Fatalf("html = %q", out.Narratives[0].HTML)
	}
}

func TestConsolidateAsyncLifecycle(t *testing.T) {
	fx := newFixture(t)
	fx.pipeline.gate = make(chan struct{})

	rr := postJSON(t, fx.handler, "/v1/projects/p1/consolidate", nil)
	if rr.Code != 202 {
		t.Fatalf("start status=%d body=%s", rr.Code, rr.Body.String())
	}

	// A second start while running is refused.
	rr = postJSON(t, fx.handler, "/v1/projects/p1/consolidate", nil)
	if rr.Code != 409 {
		t.Fatalf("concurrent start status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = get(t, fx.handler, "/v1/projects/p1/consolidate/status")
	if rr.Code != 200 {
		t.Fatalf("status poll=%d body=%s", rr.Code, rr.Body.String())
	}
	var running runStatus
	decode(t, rr, &running)
	if !running.Running {
		t.Fatalf("status = %+v, want running", running)
	}

	close(fx.pipeline.gate)
	deadline := time.Now().Add(2 * time.Second)
	for {
		rr = get(t, fx.handler, "/v1/projects/p1/consolidate/status")
		var st runStatus
		decode(t, rr, &st)
		if !st.Running {
			if st.Result == nil || st.Progress.Stage != "complete" {
				t.Fatalf("final status = %+v", st)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("pipeline never finished")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// A finished run allows a new start.
	rr = postJSON(t, fx.handler, "/v1/projects/p1/consolidate", nil)
	if rr.Code != 202 {
		t.Fatalf("restart status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestConsolidateStatusUnknownProject(t *testing.T) {
	fx := newFixture(t)
	rr := get(t, fx.handler, "/v1/projects/ghost/consolidate/status")
	if rr.Code != 404 {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestProjectRecordEndpoint(t *testing.T) {
	fx := newFixture(t)
	record, err := fx.store.GetProjectRecord("p1")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	record.Location = &insight.Location{Latitude: 35.05, Longitude: -106.62, Source: insight.LocationFromWeather, Confidence: 80}
	if err := fx.store.SaveProjectRecord(record); err != nil {
		t.Fatalf("save record: %v", err)
	}

	rr := get(t, fx.handler, "/v1/projects/p1/record")
	if rr.Code != 200 {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var out insight.ProjectRecord
	decode(t, rr, &out)
	if out.Location == nil || out.Location.Latitude != 35.05 {
		t.Fatalf("record = %+v", out)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	fx := newFixture(t)
	rr := get(t, fx.handler, "/v1/conflicts/x/resolve")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d", rr.Code)
	}
	rr = postJSON(t, fx.handler, "/v1/projects/p1/facts", nil)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d", rr.Code)
	}
}
