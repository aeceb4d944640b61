// Package extract turns one document's text into typed candidate facts. A
// deterministic pattern pass and four independent generative passes run
// over the same text; results are combined and deduplicated before
// reconciliation sees them.
package extract

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/joelkehle/projectfacts/internal/insight"
	"github.com/joelkehle/projectfacts/internal/llm"
)

type Orchestrator struct {
	exec *llm.Executor
}

func NewOrchestrator(caller llm.Caller) *Orchestrator {
	return &Orchestrator{exec: llm.NewExecutor(caller)}
}

// Extract runs all passes and returns deduplicated candidates. The
// generative passes share no mutable state and run concurrently; each
// pass's failure is recovered locally as zero facts from that pass.
func (o *Orchestrator) Extract(ctx context.Context, docText, docType string) []insight.Candidate {
	candidates := matchPatterns(docText)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, pass := range generativePasses {
		wg.Add(1)
		go func(p generativePass) {
			defer wg.Done()
			facts, err := p.run(ctx, o.exec, docText, docType)
			if err != nil {
				log.Printf("extraction pass %s failed, continuing without it: %v", p.name, err)
				return
			}
			mu.Lock()
			candidates = append(candidates, facts...)
			mu.Unlock()
		}(pass)
	}
	wg.Wait()

	return dedupe(candidates)
}

// dedupe keeps the highest-confidence candidate per (category, key,
// lower-cased statement), guarding against the same fact surfacing from
// two strategies. Output order is deterministic.
func dedupe(candidates []insight.Candidate) []insight.Candidate {
	best := make(map[string]insight.Candidate, len(candidates))
	for _, c := range candidates {
		k := c.Category + "\x00" + c.CanonicalKey + "\x00" + strings.ToLower(c.Statement)
		if existing, ok := best[k]; ok && existing.Confidence >= c.Confidence {
			continue
		}
		best[k] = c
	}
	out := make([]insight.Candidate, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CanonicalKey != out[j].CanonicalKey {
			return out[i].CanonicalKey < out[j].CanonicalKey
		}
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Statement < out[j].Statement
	})
	return out
}
