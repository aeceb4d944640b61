package consolidate

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/joelkehle/projectfacts/internal/insight"
)

const narrativeSystemPrompt = "You write concise briefing prose for renewable-energy project reports. Use only the facts provided; do not invent details."

// runNarratives groups live facts by canonical section and synthesizes one
// prose narrative per non-empty section. Regeneration overwrites the
// previous narrative. A model failure skips that section only; storage
// failures fail the stage.
func (p *Pipeline) runNarratives(ctx context.Context, projectID string, _ *runState, res *Result) error {
	facts, err := p.store.LiveByProject(projectID)
	if err != nil {
		return fmt.Errorf("load live facts: %w", err)
	}

	bySection := map[string][]insight.Fact{}
	for _, f := range facts {
		section := insight.NormalizeSection(f.Category)
		bySection[section] = append(bySection[section], f)
	}

	for _, section := range insight.Sections() {
		sectionFacts := bySection[section]
		if len(sectionFacts) == 0 {
			continue
		}

		text, err := p.synthesizeNarrative(ctx, section, sectionFacts)
		if err != nil {
			log.Printf("narrative synthesis for section %s failed, keeping previous narrative: %v", section, err)
			continue
		}
		if err := p.store.UpsertNarrative(&insight.Narrative{
			ProjectID: projectID,
			Section:   section,
			Text:      text,
		}); err != nil {
			return fmt.Errorf("upsert %s narrative: %w", section, err)
		}
		res.Narratives++
	}
	return nil
}

func (p *Pipeline) synthesizeNarrative(ctx context.Context, section string, facts []insight.Fact) (string, error) {
	var sb strings.Builder
	for _, f := range facts {
		fmt.Fprintf(&sb, "- %s (confidence %d%%)\n", f.Statement, f.Confidence)
	}

	prompt := fmt.Sprintf(`Write a flowing prose summary of the %q aspects of this
project from the facts below. Two paragraphs at most. Mention uncertainty
where confidence is low. Respond with the prose only, no preamble.

Facts:
%s`, section, sb.String())

	return p.exec.RunText(ctx, "narrative_"+section, narrativeSystemPrompt, prompt)
}
