package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/joelkehle/projectfacts/internal/insight"
	"github.com/joelkehle/projectfacts/internal/llm"
)

const extractSystemPrompt = "You extract atomic factual statements from renewable-energy project documents. Every statement must be complete and self-contained, never a bare value. Respond with strict JSON only."

// generativePass is one of the four independent model prompts run over a
// document. A pass that fails yields zero facts without affecting the
// others.
type generativePass struct {
	name    string
	method  insight.ExtractionMethod
	section string
	focus   string
}

var generativePasses = []generativePass{
	{
		name:    "structured_data",
		method:  insight.MethodStructured,
		section: "",
		focus: `Extract concrete structured data points: capacities, equipment,
voltages, dimensions, counts, rates, dates, amounts, coordinates,
addresses. One fact per data point.`,
	},
	{
		name:    "relationships",
		method:  insight.MethodRelationships,
		section: "",
		focus: `Extract relationships and dependencies between project elements:
what depends on what, who is responsible for what, what constrains or
enables what.`,
	},
	{
		name:    "risks",
		method:  insight.MethodRisks,
		section: insight.SectionRisks,
		focus: `Extract risks, concerns, uncertainties, and constraints the
document raises, including their stated likelihood or impact when given.`,
	},
	{
		name:    "assumptions",
		method:  insight.MethodAssumptions,
		section: insight.SectionAssumptions,
		focus: `Extract assumptions the document makes: design bases, modeling
inputs, planning premises, and anything stated as assumed rather than
measured.`,
	},
}

type passItem struct {
	Section    string `json:"section"`
	Key        string `json:"key"`
	Statement  string `json:"statement"`
	Confidence int    `json:"confidence"`
}

type passResponse struct {
	Facts []passItem `json:"facts"`
}

func (p generativePass) prompt(docText, docType string) string {
	return fmt.Sprintf(`Document type: %s

%s

For each fact provide:
- "section": one of overview|technical|financial|site|grid|schedule|risks|assumptions|other
- "key": a short snake_case name for the attribute the fact describes
  (facts about the same real-world attribute must share a key)
- "statement": one complete, self-contained sentence
- "confidence": integer 0-100

Required JSON schema:
{"facts": [{"section": "string", "key": "string", "statement": "string", "confidence": 0-100}]}

Document text:
%s`, docType, p.focus, docText)
}

// run executes the pass and converts validated items into candidates.
// Items with an empty key or statement are dropped, not errors.
func (p generativePass) run(ctx context.Context, exec *llm.Executor, docText, docType string) ([]insight.Candidate, error) {
	var resp passResponse
	err := exec.RunJSON(ctx, p.name, extractSystemPrompt, p.prompt(docText, docType), &resp, nil)
	if err != nil {
		return nil, err
	}

	var out []insight.Candidate
	for _, item := range resp.Facts {
		statement := strings.TrimSpace(item.Statement)
		key := normalizeKey(item.Key)
		if statement == "" || key == "" {
			continue
		}
		section := insight.NormalizeSection(item.Section)
		if p.section != "" {
			section = p.section
		}
		out = append(out, insight.Candidate{
			Category:         section,
			CanonicalKey:     key,
			Statement:        statement,
			Confidence:       insight.ClampConfidence(item.Confidence),
			ExtractionMethod: p.method,
		})
	}
	return out, nil
}

// normalizeKey folds model-supplied keys into snake_case so the same
// attribute groups across passes and documents.
func normalizeKey(raw string) string {
	k := strings.ToLower(strings.TrimSpace(raw))
	k = strings.ReplaceAll(k, " ", "_")
	k = strings.ReplaceAll(k, "-", "_")
	var sb strings.Builder
	for _, r := range k {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			sb.WriteRune(r)
		}
	}
	return strings.Trim(sb.String(), "_")
}
