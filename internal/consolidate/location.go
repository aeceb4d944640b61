package consolidate

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/joelkehle/projectfacts/internal/insight"
)

// addressKeys are canonical keys whose statements may carry a geocodable
// site address when structured extraction found none.
var addressKeys = map[string]struct{}{
	"site_address":    {},
	"address":         {},
	"project_address": {},
	"site_location":   {},
	"location":        {},
}

// runLocation ranks location candidates from earlier stages and records
// the winner only if the project has no location yet. Geocoding is a
// fallback, tried only when no coordinate candidate exists.
func (p *Pipeline) runLocation(ctx context.Context, projectID string, state *runState, _ *Result) error {
	record, err := p.store.GetProjectRecord(projectID)
	if err != nil {
		return fmt.Errorf("load project record: %w", err)
	}
	if record.Location != nil {
		return nil
	}

	var candidates []insight.Location
	if state.docLocation != nil {
		candidates = append(candidates, *state.docLocation)
	}
	if state.weatherLocation != nil {
		candidates = append(candidates, *state.weatherLocation)
	}
	if len(candidates) == 0 {
		if geo := p.geocodeFallback(ctx, projectID, state); geo != nil {
			candidates = append(candidates, *geo)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Source.Priority() != candidates[j].Source.Priority() {
			return candidates[i].Source.Priority() < candidates[j].Source.Priority()
		}
		return candidates[i].Confidence > candidates[j].Confidence
	})

	best := candidates[0]
	record.Location = &best
	if err := p.store.SaveProjectRecord(record); err != nil {
		return fmt.Errorf("save project record: %w", err)
	}
	log.Printf("project=%s location recorded from %s source (%.4f, %.4f)",
		projectID, best.Source, best.Latitude, best.Longitude)
	return nil
}

// geocodeFallback resolves an address from structured extraction or from
// an address-keyed live fact. Geocoding failures produce no candidate.
func (p *Pipeline) geocodeFallback(ctx context.Context, projectID string, state *runState) *insight.Location {
	if p.geocoder == nil {
		return nil
	}
	address := state.address
	if address == "" {
		facts, err := p.store.LiveByProject(projectID)
		if err != nil {
			log.Printf("address lookup failed for project=%s: %v", projectID, err)
			return nil
		}
		for _, f := range facts {
			if _, ok := addressKeys[f.CanonicalKey]; ok {
				address = strings.TrimSpace(f.Statement)
				break
			}
		}
	}
	if address == "" {
		return nil
	}

	result, err := p.geocoder.Geocode(ctx, address)
	if err != nil {
		log.Printf("geocoding %q failed: %v", address, err)
		return nil
	}
	return &insight.Location{
		Latitude:   result.Latitude,
		Longitude:  result.Longitude,
		Address:    result.FormattedAddress,
		Source:     insight.LocationFromGeocode,
		Confidence: 60,
	}
}
