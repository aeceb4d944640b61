package consolidate

import (
	"context"
	"fmt"
	"log"

	"github.com/joelkehle/projectfacts/internal/insight"
)

// runReadiness evaluates the minimum-field precondition for a downstream
// yield simulation and fires the one-shot trigger: exactly one pending job
// is created the first time the project is ready, and never again once any
// job record exists.
func (p *Pipeline) runReadiness(ctx context.Context, projectID string, _ *runState, res *Result) error {
	record, err := p.store.GetProjectRecord(projectID)
	if err != nil {
		return fmt.Errorf("load project record: %w", err)
	}

	missing := missingReadinessFields(record)
	if len(missing) > 0 {
		log.Printf("project=%s not simulation-ready, missing: %v", projectID, missing)
		return nil
	}

	exists, err := p.store.SimulationJobExists(projectID)
	if err != nil {
		return fmt.Errorf("check existing job: %w", err)
	}
	if exists {
		return nil
	}

	job := &insight.SimulationJob{ProjectID: projectID, Status: insight.JobPending}
	if err := p.store.CreateSimulationJob(job); err != nil {
		return fmt.Errorf("create simulation job: %w", err)
	}
	res.JobCreated = true
	log.Printf("project=%s simulation job %s created", projectID, job.ID)
	return nil
}

func missingReadinessFields(record *insight.ProjectRecord) []string {
	var missing []string
	if record.Performance == nil || (record.Performance.CapacityDCMW <= 0 && record.Performance.CapacityACMW <= 0) {
		missing = append(missing, "capacity")
	}
	if record.Location == nil {
		missing = append(missing, "coordinates")
	}
	if record.Performance == nil || !record.Performance.Configured() {
		missing = append(missing, "configuration")
	}
	if record.Weather == nil || record.Weather.Records == 0 {
		missing = append(missing, "weather")
	}
	return missing
}
