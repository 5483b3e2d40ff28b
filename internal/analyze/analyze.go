// Package analyze produces structured annotations for papers via an LLM
// provider.
package analyze

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/TobiSchelling/PaperTrail/internal/catalog"
	"github.com/TobiSchelling/PaperTrail/internal/llm"
)

// ErrUnavailable marks a failed analysis attempt. It is retriable: the
// record keeps its state and the next organize run tries again.
var ErrUnavailable = errors.New("analysis unavailable")

// Analyzer turns paper text and metadata into a structured annotation.
type Analyzer interface {
	Analyze(ctx context.Context, p *catalog.Paper, text string) (*catalog.Annotation, error)
}

// LLMAnalyzer implements Analyzer over an llm.Provider.
type LLMAnalyzer struct {
	provider  llm.Provider
	maxTokens int
}

func NewLLMAnalyzer(provider llm.Provider, maxTokens int) *LLMAnalyzer {
	if maxTokens == 0 {
		maxTokens = 1500
	}
	return &LLMAnalyzer{provider: provider, maxTokens: maxTokens}
}

const analysisPrompt = `You are an academic paper analyst. Read the paper below and respond with a single JSON object, no other text:

{
  "summary": "3-5 sentence summary of the paper",
  "key_methods": ["method or technique used", ...],
  "contributions": ["concrete contribution", ...],
  "tags": ["short-topic-tag", ...],
  "reference_list": ["title of a cited paper", ...]
}

Only include references you can actually identify in the text. Use lowercase hyphenated tags.

Title: %s
Authors: %s
Year: %d

Paper text:
%s`

// maxTextChars caps how much paper text goes into the prompt.
const maxTextChars = 24000

// Analyze sends the paper to the provider and parses the returned JSON.
// Any provider or parse failure surfaces as ErrUnavailable so callers
// treat it as transient.
func (a *LLMAnalyzer) Analyze(ctx context.Context, p *catalog.Paper, text string) (*catalog.Annotation, error) {
	if a.provider == nil {
		return nil, fmt.Errorf("%w: no provider configured", ErrUnavailable)
	}
	if len(text) > maxTextChars {
		text = text[:maxTextChars]
	}

	prompt := fmt.Sprintf(analysisPrompt, p.Title, strings.Join(p.Authors, ", "), p.Year, text)
	response, err := a.provider.Generate(ctx, prompt, a.maxTokens)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var ann catalog.Annotation
	if err := llm.UnmarshalJSONResponse(response, &ann); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if strings.TrimSpace(ann.Summary) == "" {
		return nil, fmt.Errorf("%w: response missing summary", ErrUnavailable)
	}
	return &ann, nil
}
