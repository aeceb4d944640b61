package consolidate

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/joelkehle/projectfacts/internal/insight"
)

const domainSystemPrompt = "You extract structured engineering and financial records from renewable-energy project documents. Omit fields the documents do not state; never guess. Respond with strict JSON only."

// maxDomainTextChars caps how much accumulated document text one
// structured-extraction prompt carries.
const maxDomainTextChars = 60000

// performancePayload mirrors the model's response; pointers distinguish
// "absent from documents" from zero.
type performancePayload struct {
	CapacityDCMW   *float64 `json:"capacity_dc_mw"`
	CapacityACMW   *float64 `json:"capacity_ac_mw"`
	ModuleType     *string  `json:"module_type"`
	InverterType   *string  `json:"inverter_type"`
	ModuleCount    *int     `json:"module_count"`
	TiltDegrees    *float64 `json:"tilt_degrees"`
	AzimuthDegrees *float64 `json:"azimuth_degrees"`
	DCACRatio      *float64 `json:"dc_ac_ratio"`
	Latitude       *float64 `json:"latitude"`
	Longitude      *float64 `json:"longitude"`
	Address        *string  `json:"address"`
}

type financialPayload struct {
	CapexUSD       *float64 `json:"capex_usd"`
	OpexUSDPerYear *float64 `json:"opex_usd_per_year"`
	PPARatePerMWh  *float64 `json:"ppa_rate_per_mwh"`
	TermYears      *int     `json:"term_years"`
}

// runDomainExtraction runs the specialized structured extractors over the
// project's accumulated text and updates the single current record per
// project in place. Either extractor failing is non-fatal; only record
// reads/writes can fail the stage.
func (p *Pipeline) runDomainExtraction(ctx context.Context, projectID string, state *runState, _ *Result) error {
	text, err := p.accumulatedText(projectID)
	if err != nil {
		return err
	}
	if text == "" {
		return nil
	}

	record, err := p.store.GetProjectRecord(projectID)
	if err != nil {
		return fmt.Errorf("load project record: %w", err)
	}

	if perf, err := p.extractPerformance(ctx, text); err != nil {
		log.Printf("performance extraction failed for project=%s: %v", projectID, err)
	} else {
		applyPerformance(record, perf)
		if perf.Latitude != nil && perf.Longitude != nil {
			state.docLocation = &insight.Location{
				Latitude:   *perf.Latitude,
				Longitude:  *perf.Longitude,
				Source:     insight.LocationFromDocument,
				Confidence: 90,
			}
		}
		if perf.Address != nil {
			state.address = strings.TrimSpace(*perf.Address)
		}
	}

	if fin, err := p.extractFinancial(ctx, text); err != nil {
		log.Printf("financial extraction failed for project=%s: %v", projectID, err)
	} else {
		applyFinancial(record, fin)
	}

	if err := p.store.SaveProjectRecord(record); err != nil {
		return fmt.Errorf("save project record: %w", err)
	}
	return nil
}

// accumulatedText concatenates non-weather document text, newest last,
// capped at maxDomainTextChars.
func (p *Pipeline) accumulatedText(projectID string) (string, error) {
	docs, err := p.store.DocumentsByProject(projectID)
	if err != nil {
		return "", fmt.Errorf("load documents: %w", err)
	}
	var sb strings.Builder
	for _, d := range docs {
		if isWeatherDocument(&d) {
			continue
		}
		if sb.Len()+len(d.Text) > maxDomainTextChars {
			remaining := maxDomainTextChars - sb.Len()
			if remaining > 0 {
				sb.WriteString(d.Text[:remaining])
			}
			break
		}
		sb.WriteString(d.Text)
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String()), nil
}

func (p *Pipeline) extractPerformance(ctx context.Context, text string) (*performancePayload, error) {
	prompt := fmt.Sprintf(`Extract the plant's engineering parameters from the documents.

Required JSON schema (omit unknown fields entirely):
{"capacity_dc_mw": number, "capacity_ac_mw": number, "module_type": "string",
 "inverter_type": "string", "module_count": integer, "tilt_degrees": number,
 "azimuth_degrees": number, "dc_ac_ratio": number,
 "latitude": number, "longitude": number, "address": "string"}

Documents:
%s`, text)

	var out performancePayload
	if err := p.exec.RunJSON(ctx, "performance_extraction", domainSystemPrompt, prompt, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *Pipeline) extractFinancial(ctx context.Context, text string) (*financialPayload, error) {
	prompt := fmt.Sprintf(`Extract the project's financial breakdown from the documents.

Required JSON schema (omit unknown fields entirely):
{"capex_usd": number, "opex_usd_per_year": number,
 "ppa_rate_per_mwh": number, "term_years": integer}

Documents:
%s`, text)

	var out financialPayload
	if err := p.exec.RunJSON(ctx, "financial_extraction", domainSystemPrompt, prompt, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// applyPerformance updates fields in place, leaving fields the extractor
// did not return untouched.
func applyPerformance(record *insight.ProjectRecord, perf *performancePayload) {
	if record.Performance == nil {
		record.Performance = &insight.PerformanceRecord{}
	}
	r := record.Performance
	if perf.CapacityDCMW != nil {
		r.CapacityDCMW = *perf.CapacityDCMW
	}
	if perf.CapacityACMW != nil {
		r.CapacityACMW = *perf.CapacityACMW
	}
	if perf.ModuleType != nil {
		r.ModuleType = *perf.ModuleType
	}
	if perf.InverterType != nil {
		r.InverterType = *perf.InverterType
	}
	if perf.ModuleCount != nil {
		r.ModuleCount = *perf.ModuleCount
	}
	if perf.TiltDegrees != nil {
		r.TiltDegrees = *perf.TiltDegrees
	}
	if perf.AzimuthDegrees != nil {
		r.AzimuthDegrees = *perf.AzimuthDegrees
	}
	if perf.DCACRatio != nil {
		r.DCACRatio = *perf.DCACRatio
	}
}

func applyFinancial(record *insight.ProjectRecord, fin *financialPayload) {
	if record.Financial == nil {
		record.Financial = &insight.FinancialRecord{}
	}
	r := record.Financial
	if fin.CapexUSD != nil {
		r.CapexUSD = *fin.CapexUSD
	}
	if fin.OpexUSDPerYear != nil {
		r.OpexUSDPerYear = *fin.OpexUSDPerYear
	}
	if fin.PPARatePerMWh != nil {
		r.PPARatePerMWh = *fin.PPARatePerMWh
	}
	if fin.TermYears != nil {
		r.TermYears = *fin.TermYears
	}
}

func isWeatherDocument(d *insight.Document) bool {
	if strings.EqualFold(d.DocType, "weather") {
		return true
	}
	return strings.HasSuffix(strings.ToLower(d.Name), ".csv")
}
