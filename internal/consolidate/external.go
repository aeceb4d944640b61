package consolidate

import (
	"context"
	"fmt"
	"log"

	"github.com/joelkehle/projectfacts/internal/insight"
	"github.com/joelkehle/projectfacts/internal/weather"
)

// runExternalData parses raw weather uploads into per-project aggregates
// and captures any coordinates their metadata carries for location
// consolidation. An unparseable file is logged and skipped.
func (p *Pipeline) runExternalData(ctx context.Context, projectID string, state *runState, _ *Result) error {
	docs, err := p.store.DocumentsByProject(projectID)
	if err != nil {
		return fmt.Errorf("load documents: %w", err)
	}

	var summary *insight.WeatherSummary
	for _, d := range docs {
		if !isWeatherDocument(&d) {
			continue
		}
		parsed, err := weather.Parse(d.Name, d.Text)
		if err != nil {
			log.Printf("weather file %s unparseable, skipping: %v", d.Name, err)
			continue
		}
		summary = &parsed.Summary
		if parsed.HasCoords && state.weatherLocation == nil {
			state.weatherLocation = &insight.Location{
				Latitude:   parsed.Latitude,
				Longitude:  parsed.Longitude,
				Source:     insight.LocationFromWeather,
				Confidence: 80,
			}
		}
	}
	if summary == nil {
		return nil
	}

	record, err := p.store.GetProjectRecord(projectID)
	if err != nil {
		return fmt.Errorf("load project record: %w", err)
	}
	record.Weather = summary
	if err := p.store.SaveProjectRecord(record); err != nil {
		return fmt.Errorf("save project record: %w", err)
	}
	return nil
}
