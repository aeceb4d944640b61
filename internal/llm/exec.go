package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const maxAttempts = 3

// Executor runs one prompt expecting a JSON document, retrying transient
// transport failures and feeding parse/validation errors back to the model.
type Executor struct {
	caller Caller
}

func NewExecutor(caller Caller) *Executor {
	return &Executor{caller: caller}
}

// RunJSON executes the prompt and decodes the response into out. validate
// may be nil. Any failure after retries is returned to the caller; callers
// in this codebase treat it as "zero results from this pass", never fatal.
func (e *Executor) RunJSON(ctx context.Context, name, system, prompt string, out any, validate func() error) error {
	feedback := ""
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		fullPrompt := prompt + "\n\nRespond with only valid JSON matching the schema."
		if feedback != "" {
			fullPrompt += "\n\n" + feedback
		}

		raw, err := e.caller.GenerateJSON(ctx, system, fullPrompt)
		if err != nil {
			class := classifyTransportError(err)
			if class == failureTimeout || class == failureRateLimit || class == failureServer {
				if attempt < maxAttempts {
					time.Sleep(backoffDelay(attempt))
					continue
				}
			}
			return fmt.Errorf("%s transport failure: %w", name, err)
		}

		raw = strings.TrimSpace(raw)
		if raw == "" {
			if attempt < maxAttempts {
				feedback = "Your previous response was empty. Respond with valid JSON."
				continue
			}
			return fmt.Errorf("%s failed: empty response", name)
		}

		clean := StripCodeFences(raw)
		if err := json.Unmarshal([]byte(clean), out); err != nil {
			if attempt < maxAttempts {
				feedback = "Your previous response was not valid JSON. Respond with only valid JSON."
				continue
			}
			return fmt.Errorf("%s failed json parse: %w", name, err)
		}
		if validate != nil {
			if err := validate(); err != nil {
				if attempt < maxAttempts {
					feedback = fmt.Sprintf("Your response failed validation: %s. Fix these issues.", err)
					continue
				}
				return fmt.Errorf("%s failed validation: %w", name, err)
			}
		}
		return nil
	}
	return fmt.Errorf("%s failed after retries", name)
}

// RunText executes the prompt expecting plain prose, with the same
// transport retry policy as RunJSON but no decoding.
func (e *Executor) RunText(ctx context.Context, name, system, prompt string) (string, error) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		raw, err := e.caller.GenerateJSON(ctx, system, prompt)
		if err != nil {
			class := classifyTransportError(err)
			if class == failureTimeout || class == failureRateLimit || class == failureServer {
				if attempt < maxAttempts {
					time.Sleep(backoffDelay(attempt))
					continue
				}
			}
			return "", fmt.Errorf("%s transport failure: %w", name, err)
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			if attempt < maxAttempts {
				continue
			}
			return "", fmt.Errorf("%s failed: empty response", name)
		}
		return raw, nil
	}
	return "", fmt.Errorf("%s failed after retries", name)
}
