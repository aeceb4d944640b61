package insight

import "strings"

// Canonical sections every fact is bucketed under. Extraction passes may
// emit arbitrary labels; NormalizeSection folds them into this taxonomy.
const (
	SectionOverview    = "overview"
	SectionTechnical   = "technical"
	SectionFinancial   = "financial"
	SectionSite        = "site"
	SectionGrid        = "grid"
	SectionSchedule    = "schedule"
	SectionRisks       = "risks"
	SectionAssumptions = "assumptions"
	SectionOther       = "other"
)

var canonicalSections = map[string]struct{}{
	SectionOverview:    {},
	SectionTechnical:   {},
	SectionFinancial:   {},
	SectionSite:        {},
	SectionGrid:        {},
	SectionSchedule:    {},
	SectionRisks:       {},
	SectionAssumptions: {},
	SectionOther:       {},
}

var sectionSynonyms = map[string]string{
	"summary":            SectionOverview,
	"general":            SectionOverview,
	"project overview":   SectionOverview,
	"introduction":       SectionOverview,
	"description":        SectionOverview,
	"technology":         SectionTechnical,
	"design":             SectionTechnical,
	"engineering":        SectionTechnical,
	"performance":        SectionTechnical,
	"equipment":          SectionTechnical,
	"system":             SectionTechnical,
	"finance":            SectionFinancial,
	"economics":          SectionFinancial,
	"costs":              SectionFinancial,
	"cost":               SectionFinancial,
	"budget":             SectionFinancial,
	"revenue":            SectionFinancial,
	"location":           SectionSite,
	"land":               SectionSite,
	"geotechnical":       SectionSite,
	"soil":               SectionSite,
	"environment":        SectionSite,
	"environmental":      SectionSite,
	"interconnection":    SectionGrid,
	"transmission":       SectionGrid,
	"substation":         SectionGrid,
	"electrical":         SectionGrid,
	"timeline":           SectionSchedule,
	"milestones":         SectionSchedule,
	"construction":       SectionSchedule,
	"dates":              SectionSchedule,
	"risk":               SectionRisks,
	"risk assessment":    SectionRisks,
	"challenges":         SectionRisks,
	"constraints":        SectionRisks,
	"assumption":         SectionAssumptions,
	"basis of design":    SectionAssumptions,
	"design assumptions": SectionAssumptions,
}

// NormalizeSection maps a raw section label to the canonical taxonomy.
// Total and pure: unknown labels land in "other", never an error.
func NormalizeSection(raw string) string {
	k := strings.ToLower(strings.TrimSpace(raw))
	if k == "" {
		return SectionOther
	}
	if _, ok := canonicalSections[k]; ok {
		return k
	}
	if canonical, ok := sectionSynonyms[k]; ok {
		return canonical
	}
	return SectionOther
}

// Sections returns the canonical taxonomy in display order.
func Sections() []string {
	return []string{
		SectionOverview,
		SectionTechnical,
		SectionFinancial,
		SectionSite,
		SectionGrid,
		SectionSchedule,
		SectionRisks,
		SectionAssumptions,
		SectionOther,
	}
}
