package extract

import (
	"regexp"
	"strings"

	"github.com/joelkehle/projectfacts/internal/insight"
)

// Deterministic pass: regex and keyword matchers over document text.
// Offline, never fails, fixed confidence per pattern class.

const (
	confCapacity = 95
	confVoltage  = 90
	confMoney    = 85
	confDate     = 80
	confTech     = 75
	confRisk     = 70
)

var (
	capacityRe = regexp.MustCompile(`(?i)\b\d+(?:\.\d+)?\s*(?:MW|GW)(?:ac|dc)?\b`)
	voltageRe  = regexp.MustCompile(`(?i)\b\d+(?:\.\d+)?\s*kV\b`)
	moneyRe    = regexp.MustCompile(`\$\s?\d[\d,]*(?:\.\d+)?\s*(?:million|billion|M|B)?\b`)
	dateRe     = regexp.MustCompile(`(?i)\b(?:Q[1-4]\s+\d{4}|(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2},?\s+\d{4}|(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{4})\b`)
)

var techKeywords = []string{
	"bifacial", "single-axis tracker", "dual-axis tracker", "tracker",
	"fixed-tilt", "string inverter", "central inverter", "lithium-ion",
	"battery storage", "monocrystalline", "thin-film",
}

var riskKeywords = []string{
	"curtailment", "flood", "delay", "constraint", "shortage",
	"interconnection queue", "permitting risk", "tariff", "degradation",
}

// matchPatterns runs every deterministic matcher over the text and emits
// one candidate per matched sentence and pattern class.
func matchPatterns(text string) []insight.Candidate {
	var out []insight.Candidate
	for _, sentence := range splitSentences(text) {
		out = append(out, matchSentence(sentence)...)
	}
	return out
}

func matchSentence(sentence string) []insight.Candidate {
	var out []insight.Candidate
	lower := strings.ToLower(sentence)

	if m := capacityRe.FindString(sentence); m != "" {
		out = append(out, insight.Candidate{
			Category:         insight.SectionTechnical,
			CanonicalKey:     capacityKey(lower, m),
			Statement:        sentence,
			Confidence:       confCapacity,
			ExtractionMethod: insight.MethodPattern,
		})
	}
	if voltageRe.MatchString(sentence) {
		out = append(out, insight.Candidate{
			Category:         insight.SectionGrid,
			CanonicalKey:     "interconnection_voltage_kv",
			Statement:        sentence,
			Confidence:       confVoltage,
			ExtractionMethod: insight.MethodPattern,
		})
	}
	if moneyRe.MatchString(sentence) {
		out = append(out, insight.Candidate{
			Category:         insight.SectionFinancial,
			CanonicalKey:     moneyKey(lower),
			Statement:        sentence,
			Confidence:       confMoney,
			ExtractionMethod: insight.MethodPattern,
		})
	}
	if dateRe.MatchString(sentence) {
		out = append(out, insight.Candidate{
			Category:         insight.SectionSchedule,
			CanonicalKey:     dateKey(lower),
			Statement:        sentence,
			Confidence:       confDate,
			ExtractionMethod: insight.MethodPattern,
		})
	}
	for _, kw := range techKeywords {
		if strings.Contains(lower, kw) {
			out = append(out, insight.Candidate{
				Category:         insight.SectionTechnical,
				CanonicalKey:     "technology_" + keywordSlug(kw),
				Statement:        sentence,
				Confidence:       confTech,
				ExtractionMethod: insight.MethodPattern,
			})
			break
		}
	}
	for _, kw := range riskKeywords {
		if strings.Contains(lower, kw) {
			out = append(out, insight.Candidate{
				Category:         insight.SectionRisks,
				CanonicalKey:     "risk_" + keywordSlug(kw),
				Statement:        sentence,
				Confidence:       confRisk,
				ExtractionMethod: insight.MethodPattern,
			})
			break
		}
	}
	return out
}

// capacityKey distinguishes DC and AC nameplate capacity when the match or
// its sentence says which side of the inverter it describes.
func capacityKey(lowerSentence, match string) string {
	lowerMatch := strings.ToLower(match)
	switch {
	case strings.HasSuffix(lowerMatch, "dc") || strings.Contains(lowerSentence, " dc "):
		return "dc_capacity_mw"
	case strings.HasSuffix(lowerMatch, "ac") || strings.Contains(lowerSentence, " ac "):
		return "ac_capacity_mw"
	default:
		return "capacity_mw"
	}
}

func moneyKey(lowerSentence string) string {
	switch {
	case strings.Contains(lowerSentence, "capex") || strings.Contains(lowerSentence, "capital"):
		return "capex_usd"
	case strings.Contains(lowerSentence, "opex") || strings.Contains(lowerSentence, "operat"):
		return "opex_usd"
	case strings.Contains(lowerSentence, "ppa") || strings.Contains(lowerSentence, "offtake"):
		return "ppa_rate"
	default:
		return "financial_figure"
	}
}

func dateKey(lowerSentence string) string {
	switch {
	case strings.Contains(lowerSentence, "commercial operation") || strings.Contains(lowerSentence, "cod"):
		return "commercial_operation_date"
	case strings.Contains(lowerSentence, "construction"):
		return "construction_date"
	default:
		return "milestone_date"
	}
}

func keywordSlug(kw string) string {
	return strings.ReplaceAll(strings.ReplaceAll(kw, " ", "_"), "-", "_")
}

// splitSentences breaks text on sentence terminators, keeping only spans
// long enough to be self-contained statements.
func splitSentences(text string) []string {
	text = strings.ReplaceAll(text, "\n", " ")
	var sentences []string
	var current strings.Builder

	flush := func() {
		s := strings.TrimSpace(current.String())
		if len(s) >= 20 && len(s) <= 600 {
			sentences = append(sentences, s)
		}
		current.Reset()
	}

	for i, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if i+1 >= len(text) || text[i+1] == ' ' || text[i+1] == '\t' {
				flush()
			}
		}
	}
	flush()
	return sentences
}
