// Package oracle scores semantic closeness of two factual statements and
// fuses near-duplicates, both via the generative model. Failures degrade to
// the safe direction: an unparseable score reads as dissimilar, a failed
// merge returns the first statement unchanged.
package oracle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/joelkehle/projectfacts/internal/llm"
)

const scoreSystemPrompt = "You compare two factual statements extracted from project documents and rate how likely they describe the same underlying fact. Respond with strict JSON only."

const mergeSystemPrompt = "You merge two near-duplicate factual statements into one, preserving every unique piece of information from both. Respond with strict JSON only."

type Oracle struct {
	exec   *llm.Executor
	scores *gocache.Cache
}

func New(caller llm.Caller) *Oracle {
	return &Oracle{
		exec:   llm.NewExecutor(caller),
		scores: gocache.New(30*time.Minute, 10*time.Minute),
	}
}

type scoreResponse struct {
	Score any `json:"score"`
}

type mergeResponse struct {
	Merged string `json:"merged"`
}

// Score returns similarity in [0,1]. The model is asked for an integer
// 0-100; anything non-numeric or missing scores 0, so a failure is never
// silently treated as a match.
func (o *Oracle) Score(ctx context.Context, a, b string) float64 {
	key := pairKey(a, b)
	if v, ok := o.scores.Get(key); ok {
		return v.(float64)
	}

	prompt := fmt.Sprintf(`Statement A: %q
Statement B: %q

Rate from 0 to 100 how likely these two statements describe the same
underlying fact. 100 means identical meaning, 0 means unrelated or
contradictory.

Required JSON schema:
{"score": 0-100}`, a, b)

	var resp scoreResponse
	score := 0.0
	if err := o.exec.RunJSON(ctx, "oracle_score", scoreSystemPrompt, prompt, &resp, nil); err != nil {
		log.Printf("oracle score failed, treating as dissimilar: %v", err)
	} else {
		score = parseScore(resp.Score)
	}
	o.scores.Set(key, score, gocache.DefaultExpiration)
	return score
}

// Merge fuses a and b into one statement containing all unique information
// from both. On any failure it returns a unchanged; it never errors.
func (o *Oracle) Merge(ctx context.Context, a, b string) string {
	prompt := fmt.Sprintf(`Statement A: %q
Statement B: %q

Merge these into a single complete statement that preserves every unique
detail, number, and qualifier from both. Do not invent information.

Required JSON schema:
{"merged": "string"}`, a, b)

	var resp mergeResponse
	if err := o.exec.RunJSON(ctx, "oracle_merge", mergeSystemPrompt, prompt, &resp, func() error {
		if strings.TrimSpace(resp.Merged) == "" {
			return fmt.Errorf("merged statement is empty")
		}
		return nil
	}); err != nil {
		log.Printf("oracle merge failed, keeping original statement: %v", err)
		return a
	}
	return strings.TrimSpace(resp.Merged)
}

// parseScore tolerates the model returning a JSON number, a bare string
// digit, or a percentage string. Everything else is 0.
func parseScore(v any) float64 {
	var n float64
	switch x := v.(type) {
	case float64:
		n = x
	case string:
		s := strings.TrimSuffix(strings.TrimSpace(x), "%")
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		n = parsed
	default:
		return 0
	}
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 1
	}
	return n / 100
}

// pairKey is order-insensitive: similarity is symmetric, so (a,b) and
// (b,a) share a cache entry.
func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	sum := sha256.Sum256([]byte(a + "\x00" + b))
	return hex.EncodeToString(sum[:16])
}
