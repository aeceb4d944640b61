package consolidate

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/joelkehle/projectfacts/internal/geocode"
	"github.com/joelkehle/projectfacts/internal/insight"
	"github.com/joelkehle/projectfacts/internal/reconcile"
	"github.com/joelkehle/projectfacts/internal/store"
)

// pipelineCaller answers the pipeline's model prompts by marker. Unmatched
// prompts fail, which the pipeline must tolerate.
type pipelineCaller struct {
	perfJSON string
	finJSON  string
}

func (c *pipelineCaller) GenerateJSON(ctx context.Context, system, prompt string) (string, error) {
	switch {
	case strings.Contains(prompt, "flowing prose summary"):
		return "The project is a well characterized solar development.", nil
	case strings.Contains(prompt, "engineering parameters"):
		if c.perfJSON == "" {
			return "", errors.New("status code: 400 bad request")
		}
		return c.perfJSON, nil
	case strings.Contains(prompt, "financial breakdown"):
		if c.finJSON == "" {
			return "", errors.New("status code: 400 bad request")
		}
		return c.finJSON, nil
	default:
		return "", errors.New("status code: 400 bad request")
	}
}

type pairOracle struct {
	scores map[string]float64
	merged string
}

func (o *pairOracle) Score(ctx context.Context, a, b string) float64 {
	if s, ok := o.scores[a+"|"+b]; ok {
		return s
	}
	if s, ok := o.scores[b+"|"+a]; ok {
		return s
	}
	return 0.5
}

func (o *pairOracle) Merge(ctx context.Context, a, b string) string {
	if o.merged != "" {
		return o.merged
	}
	return a
}

type stubGeocoder struct {
	result *geocode.Result
	err    error
	calls  int
}

func (g *stubGeocoder) Geocode(ctx context.Context, address string) (*geocode.Result, error) {
	g.calls++
	return g.result, g.err
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "facts.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newPipeline(s *store.SQLiteStore, oracle reconcile.Oracle, caller *pipelineCaller, geo Geocoder) *Pipeline {
	engine := reconcile.NewEngine(s, oracle)
	applier := reconcile.NewApplier(s, s)
	return NewPipeline(s, engine, applier, caller, geo)
}

func seedFact(t *testing.T, s *store.SQLiteStore, key, statement string, conf int, docID string) *insight.Fact {
	t.Helper()
	f := &insight.Fact{
		ProjectID:         "p1",
		CanonicalKey:      key,
		Category:          insight.SectionTechnical,
		Statement:         statement,
		Confidence:        conf,
		SourceDocumentIDs: []string{docID},
		ExtractionMethod:  insight.MethodStructured,
	}
	if err := s.InsertFact(f); err != nil {
		t.Fatalf("seed fact: %v", err)
	}
	return f
}

func TestPipelineReconcilesDuplicatesAcrossDocuments(t *testing.T) {
	s := newTestStore(t)
	seedFact(t, s, "dc_capacity_mw", "150 MW", 95, "doc1")
	seedFact(t, s, "dc_capacity_mw", "150 MW nameplate", 85, "doc2")

	oracle := &pairOracle{scores: map[string]float64{"150 MW|150 MW nameplate": 0.99}}
	p := newPipeline(s, oracle, &pipelineCaller{}, nil)

	res, err := p.Run(context.Background(), "p1", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.MergedFacts != 1 {
		t.Fatalf("merged = %d, want 1", res.MergedFacts)
	}

	live, _ := s.LiveByKey("p1", "dc_capacity_mw")
	if len(live) != 1 {
		t.Fatalf("live facts = %d, want 1", len(live))
	}
	if live[0].EnrichmentCount != 2 {
		t.Fatalf("enrichment = %d, want 2", live[0].EnrichmentCount)
	}
	if !live[0].HasSource("doc1") || !live[0].HasSource("doc2") {
		t.Fatalf("sources = %v, want superset of both", live[0].SourceDocumentIDs)
	}
}

func TestPipelineSameDocumentNeverConflicts(t *testing.T) {
	s := newTestStore(t)
	seedFact(t, s, "k", "statement one", 90, "doc1")
	seedFact(t, s, "k", "statement two", 80, "doc1")

	oracle := &pairOracle{scores: map[string]float64{"statement one|statement two": 0.1}}
	p := newPipeline(s, oracle, &pipelineCaller{}, nil)

	res, err := p.Run(context.Background(), "p1", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.NewConflicts != 0 {
		t.Fatalf("conflicts = %d, want 0 for single-document key", res.NewConflicts)
	}
}

func TestPipelineConflictIdempotence(t *testing.T) {
	s := newTestStore(t)
	seedFact(t, s, "output_profile", "100MW during peak", 90, "doc1")
	seedFact(t, s, "output_profile", "30% curtailment risk", 70, "doc2")

	oracle := &pairOracle{scores: map[string]float64{"100MW during peak|30% curtailment risk": 0.2}}
	p := newPipeline(s, oracle, &pipelineCaller{}, nil)

	res, err := p.Run(context.Background(), "p1", nil)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if res.NewConflicts != 1 {
		t.Fatalf("first run conflicts = %d, want 1", res.NewConflicts)
	}
	live, _ := s.LiveByKey("p1", "output_profile")
	if len(live) != 2 {
		t.Fatalf("both sides should stay live, got %d", len(live))
	}

	res2, err := p.Run(context.Background(), "p1", nil)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if res2.NewConflicts != 0 || res2.MergedFacts != 0 {
		t.Fatalf("re-run must be a no-op, got %+v", res2)
	}
	pending, _ := s.PendingConflicts("p1")
	if len(pending) != 1 {
		t.Fatalf("pending conflicts = %d, want exactly 1", len(pending))
	}
}

func TestPipelineWritesNarratives(t *testing.T) {
	s := newTestStore(t)
	seedFact(t, s, "dc_capacity_mw", "DC capacity is 150 MW", 95, "doc1")

	p := newPipeline(s, &pairOracle{}, &pipelineCaller{}, nil)
	res, err := p.Run(context.Background(), "p1", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Narratives != 1 {
		t.Fatalf("narratives = %d, want 1", res.Narratives)
	}
	ns, _ := s.NarrativesByProject("p1")
	if len(ns) != 1 || ns[0].Section != insight.SectionTechnical || ns[0].Text == "" {
		t.Fatalf("narratives = %+v", ns)
	}
}

func seedWeatherDoc(t *testing.T, s *store.SQLiteStore) {
	t.Helper()
	doc := &insight.Document{
		ProjectID: "p1",
		Name:      "tmy.csv",
		DocType:   "weather",
		Text: "Latitude,35.05\nLongitude,-106.62\n" +
			"GHI,Temperature\n100,10\n200,20\n",
	}
	if err := s.InsertDocument(doc); err != nil {
		t.Fatalf("seed weather doc: %v", err)
	}
}

func TestPipelineIntegratesWeatherAndLocation(t *testing.T) {
	s := newTestStore(t)
	seedWeatherDoc(t, s)

	p := newPipeline(s, &pairOracle{}, &pipelineCaller{}, nil)
	if _, err := p.Run(context.Background(), "p1", nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	record, err := s.GetProjectRecord("p1")
	if err != nil {
		t.Fatalf("GetProjectRecord: %v", err)
	}
	if record.Weather == nil || record.Weather.Records != 2 {
		t.Fatalf("weather = %+v, want 2 records", record.Weather)
	}
	if record.Location == nil || record.Location.Source != insight.LocationFromWeather {
		t.Fatalf("location = %+v, want weather-sourced", record.Location)
	}
	if record.Location.Latitude != 35.05 {
		t.Fatalf("latitude = %v", record.Location.Latitude)
	}
}

func TestPipelineDocumentCoordinatesOutrankWeather(t *testing.T) {
	s := newTestStore(t)
	seedWeatherDoc(t, s)
	doc := &insight.Document{ProjectID: "p1", Name: "study.txt", Text: "Site details."}
	if err := s.InsertDocument(doc); err != nil {
		t.Fatalf("seed doc: %v", err)
	}

	caller := &pipelineCaller{
		perfJSON: `{"capacity_dc_mw": 150, "module_type": "bifacial", "latitude": 34.9, "longitude": -105.9}`,
	}
	p := newPipeline(s, &pairOracle{}, caller, nil)
	if _, err := p.Run(context.Background(), "p1", nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	record, _ := s.GetProjectRecord("p1")
	if record.Location == nil || record.Location.Source != insight.LocationFromDocument {
		t.Fatalf("location = %+v, want document-sourced", record.Location)
	}
	if record.Location.Latitude != 34.9 {
		t.Fatalf("latitude = %v, want explicit document coordinate", record.Location.Latitude)
	}
}

func TestPipelineGeocodeFallback(t *testing.T) {
	s := newTestStore(t)
	seedFact(t, s, "site_address", "4500 Desert Rd, Albuquerque, NM", 70, "doc1")

	geo := &stubGeocoder{result: &geocode.Result{Latitude: 35.08, Longitude: -106.65, FormattedAddress: "Albuquerque, NM"}}
	p := newPipeline(s, &pairOracle{}, &pipelineCaller{}, geo)
	if _, err := p.Run(context.Background(), "p1", nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	record, _ := s.GetProjectRecord("p1")
	if record.Location == nil || record.Location.Source != insight.LocationFromGeocode {
		t.Fatalf("location = %+v, want geocoded", record.Location)
	}
	if geo.calls != 1 {
		t.Fatalf("geocoder calls = %d, want 1", geo.calls)
	}
}

func TestPipelineKeepsRecordedLocation(t *testing.T) {
	s := newTestStore(t)
	record, _ := s.GetProjectRecord("p1")
	record.Location = &insight.Location{Latitude: 1, Longitude: 2, Source: insight.LocationFromDocument, Confidence: 95}
	if err := s.SaveProjectRecord(record); err != nil {
		t.Fatalf("SaveProjectRecord: %v", err)
	}
	seedWeatherDoc(t, s)

	p := newPipeline(s, &pairOracle{}, &pipelineCaller{}, nil)
	if _, err := p.Run(context.Background(), "p1", nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, _ := s.GetProjectRecord("p1")
	if got.Location.Latitude != 1 || got.Location.Longitude != 2 {
		t.Fatalf("recorded location overwritten: %+v", got.Location)
	}
}

// Readiness with missing weather creates no job; after the weather file
// appears, re-running creates exactly one job, and further runs never
// fire again.
func TestPipelineReadinessOneShot(t *testing.T) {
	s := newTestStore(t)
	doc := &insight.Document{ProjectID: "p1", Name: "study.txt", Text: "Design basis."}
	if err := s.InsertDocument(doc); err != nil {
		t.Fatalf("seed doc: %v", err)
	}
	caller := &pipelineCaller{
		perfJSON: `{"capacity_dc_mw": 150, "module_type": "bifacial", "inverter_type": "central", "latitude": 34.9, "longitude": -105.9}`,
	}
	p := newPipeline(s, &pairOracle{}, caller, nil)

	res, err := p.Run(context.Background(), "p1", nil)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if res.JobCreated {
		t.Fatal("no weather data yet; job must not be created")
	}
	exists, _ := s.SimulationJobExists("p1")
	if exists {
		t.Fatal("job record should not exist")
	}

	seedWeatherDoc(t, s)
	res2, err := p.Run(context.Background(), "p1", nil)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if !res2.JobCreated {
		t.Fatal("expected job creation once weather data is present")
	}

	res3, err := p.Run(context.Background(), "p1", nil)
	if err != nil {
		t.Fatalf("third Run: %v", err)
	}
	if res3.JobCreated {
		t.Fatal("job trigger must be one-shot")
	}
}

func TestPipelineProgressEvents(t *testing.T) {
	s := newTestStore(t)
	p := newPipeline(s, &pairOracle{}, &pipelineCaller{}, nil)

	var events []Progress
	if _, err := p.Run(context.Background(), "p1", func(pr Progress) { events = append(events, pr) }); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(events) != 7 {
		t.Fatalf("events = %d, want 6 stages plus terminal", len(events))
	}
	last := events[len(events)-1]
	if last.Stage != "complete" || last.Percent != 100 {
		t.Fatalf("terminal event = %+v", last)
	}
	for i := 1; i < len(events); i++ {
		if events[i].Percent < events[i-1].Percent {
			t.Fatalf("progress went backwards: %+v", events)
		}
	}
}

func TestPipelineStorageFailureReportsFailedStages(t *testing.T) {
	s := newTestStore(t)
	p := newPipeline(s, &pairOracle{}, &pipelineCaller{}, nil)
	s.Close()

	var events []Progress
	res, err := p.Run(context.Background(), "p1", func(pr Progress) { events = append(events, pr) })
	if err != nil {
		t.Fatalf("Run must not abort on stage failures: %v", err)
	}
	if len(res.StagesFailed) == 0 {
		t.Fatal("expected failed stages with a closed store")
	}
	if len(res.StagesRun) != 6 {
		t.Fatalf("all stages must still be attempted, ran %d", len(res.StagesRun))
	}
	last := events[len(events)-1]
	if last.Stage != "failed" {
		t.Fatalf("terminal event = %+v, want failed", last)
	}
}

func TestPipelineRequiresProject(t *testing.T) {
	s := newTestStore(t)
	p := newPipeline(s, &pairOracle{}, &pipelineCaller{}, nil)
	if _, err := p.Run(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for empty project id")
	}
}
