// Package consolidate runs the per-project batch that sequences
// cross-document reconciliation, narrative synthesis, structured domain
// extraction, external-data integration, location consolidation, and the
// downstream readiness check. Stages are failure-tolerant: an error in one
// is logged and the rest still run.
package consolidate

import (
	"context"
	"fmt"
	"log"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/joelkehle/projectfacts/internal/geocode"
	"github.com/joelkehle/projectfacts/internal/insight"
	"github.com/joelkehle/projectfacts/internal/llm"
	"github.com/joelkehle/projectfacts/internal/reconcile"
	"github.com/joelkehle/projectfacts/internal/store"
)

// Progress is one checkpoint in the consolidation stream. The stream ends
// with a terminal "complete" or "failed" event at 100 percent.
type Progress struct {
	Stage   string `json:"stage"`
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

type ProgressFn func(Progress)

// Geocoder resolves a free-text address; the pipeline treats any error as
// "no candidate from this source".
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*geocode.Result, error)
}

type Pipeline struct {
	store    store.Store
	engine   *reconcile.Engine
	applier  *reconcile.Applier
	exec     *llm.Executor
	geocoder Geocoder
	tracer   trace.Tracer
}

func NewPipeline(st store.Store, engine *reconcile.Engine, applier *reconcile.Applier, caller llm.Caller, geocoder Geocoder) *Pipeline {
	return &Pipeline{
		store:    st,
		engine:   engine,
		applier:  applier,
		exec:     llm.NewExecutor(caller),
		geocoder: geocoder,
		tracer:   otel.Tracer("projectfacts/consolidate"),
	}
}

// Result summarizes one pipeline run. A non-empty StagesFailed means
// partial completion, not abort: every stage was still attempted.
type Result struct {
	ProjectID    string   `json:"project_id"`
	StagesRun    []string `json:"stages_run"`
	StagesFailed []string `json:"stages_failed"`
	MergedFacts  int      `json:"merged_facts"`
	NewConflicts int      `json:"new_conflicts"`
	Narratives   int      `json:"narratives"`
	JobCreated   bool     `json:"job_created"`
}

// runState carries location candidates discovered by earlier stages into
// location consolidation.
type runState struct {
	docLocation     *insight.Location
	weatherLocation *insight.Location
	address         string
}

// Run executes all stages in order for one project. Concurrent runs for
// the same project are not serialized here; the caller owns that.
func (p *Pipeline) Run(ctx context.Context, projectID string, progress ProgressFn) (*Result, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, fmt.Errorf("project id is required")
	}

	res := &Result{ProjectID: projectID}
	state := &runState{}

	stages := []struct {
		name    string
		percent int
		message string
		fn      func(context.Context, string, *runState, *Result) error
	}{
		{"reconcile", 5, "Reconciling facts across documents", p.runReconcile},
		{"narratives", 25, "Synthesizing section narratives", p.runNarratives},
		{"domain_extraction", 45, "Extracting structured records", p.runDomainExtraction},
		{"external_data", 65, "Integrating weather uploads", p.runExternalData},
		{"location", 80, "Consolidating site location", p.runLocation},
		{"readiness", 90, "Checking simulation readiness", p.runReadiness},
	}

	emit := func(pr Progress) {
		if progress != nil {
			progress(pr)
		}
	}

	for _, stage := range stages {
		emit(Progress{Stage: stage.name, Percent: stage.percent, Message: stage.message})

		stageCtx, span := p.tracer.Start(ctx, "consolidate."+stage.name,
			trace.WithAttributes(attribute.String("project.id", projectID)))
		err := stage.fn(stageCtx, projectID, state, res)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		res.StagesRun = append(res.StagesRun, stage.name)
		if err != nil {
			log.Printf("consolidation stage %s failed for project=%s: %v", stage.name, projectID, err)
			res.StagesFailed = append(res.StagesFailed, stage.name)
		}
	}

	if len(res.StagesFailed) == 0 {
		emit(Progress{Stage: "complete", Percent: 100, Message: "Consolidation complete"})
	} else {
		emit(Progress{Stage: "failed", Percent: 100,
			Message: fmt.Sprintf("Consolidation partially complete; failed stages: %s", strings.Join(res.StagesFailed, ", "))})
	}
	return res, nil
}

// runReconcile pairwise-compares live facts sharing a canonical key when
// they come from at least two distinct documents. The oldest fact anchors
// each comparison; later facts merge into it or conflict with it. Re-runs
// on unchanged data are no-ops: merged duplicates are gone and existing
// conflicts suppress new ones.
func (p *Pipeline) runReconcile(ctx context.Context, projectID string, _ *runState, res *Result) error {
	facts, err := p.store.LiveByProject(projectID)
	if err != nil {
		return fmt.Errorf("load live facts: %w", err)
	}

	order, groups := groupByKey(facts)
	for _, key := range order {
		group := groups[key]
		if len(group) < 2 || distinctDocuments(group) < 2 {
			continue
		}
		primary := &group[0]
		for idx := 1; idx < len(group); idx++ {
			later := &group[idx]
			// A document never conflicts with itself: facts sharing any
			// source document are not cross-document evidence.
			if sharesSource(primary, later) {
				continue
			}

			action := p.engine.CompareFacts(ctx, primary, later)
			switch action.Kind {
			case reconcile.ActionUpdate:
				if err := p.applier.MergeFacts(primary, later, action); err != nil {
					return err
				}
				res.MergedFacts++
			case reconcile.ActionConflict:
				created, err := p.applier.LinkFacts(primary, later)
				if err != nil {
					return err
				}
				if created {
					res.NewConflicts++
				}
			}
		}
	}
	return nil
}

func groupByKey(facts []insight.Fact) ([]string, map[string][]insight.Fact) {
	var order []string
	groups := map[string][]insight.Fact{}
	for _, f := range facts {
		if _, ok := groups[f.CanonicalKey]; !ok {
			order = append(order, f.CanonicalKey)
		}
		groups[f.CanonicalKey] = append(groups[f.CanonicalKey], f)
	}
	return order, groups
}

func distinctDocuments(facts []insight.Fact) int {
	seen := map[string]struct{}{}
	for _, f := range facts {
		for _, id := range f.SourceDocumentIDs {
			seen[id] = struct{}{}
		}
	}
	return len(seen)
}

func sharesSource(a, b *insight.Fact) bool {
	for _, id := range b.SourceDocumentIDs {
		if a.HasSource(id) {
			return true
		}
	}
	return false
}
