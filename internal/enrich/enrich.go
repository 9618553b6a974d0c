// Package enrich produces the descriptive half of a procedure analysis:
// a business-logic summary and a 1..10 complexity score. The OpenAI-backed
// enricher calls a chat model; the static enricher derives everything from
// heuristics and needs no network.
package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dbgraph/procgraph-mcp/internal/extract"
)

// maxComplexityCode caps how much source goes into the complexity prompt.
const maxComplexityCode = 2000

// Enricher describes one procedure analysis backend.
type Enricher interface {
	// BusinessLogic summarizes what a procedure does.
	BusinessLogic(ctx context.Context, procName, code string) (string, error)
	// ComplexityScore rates a procedure body from 1 to 10.
	ComplexityScore(ctx context.Context, code string) int
}

// Static derives enrichment from heuristics only. It is the backend used
// when no LLM is configured and the fallback when one misbehaves.
type Static struct{}

func (Static) BusinessLogic(_ context.Context, procName, code string) (string, error) {
	tables := extract.Tables(code)
	procs := extract.Procedures(code)
	return fmt.Sprintf("Procedure %s: touches %d table(s), calls %d routine(s). No LLM summary available.",
		procName, len(tables), len(procs)), nil
}

func (Static) ComplexityScore(_ context.Context, code string) int {
	return extract.ComplexityScore(code)
}

// OpenAI enriches procedures through a chat completion model.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates an OpenAI-backed enricher.
func NewOpenAI(apiKey, model string) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key not set")
	}
	if model == "" {
		model = openai.GPT4oMini
		slog.Warn("enrich.model_default", "model", model)
	}
	slog.Info("enrich.init", "backend", "openai", "model", model)
	return &OpenAI{client: openai.NewClient(apiKey), model: model}, nil
}

func (o *OpenAI) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You are a database code analyst. Answer concisely."},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (o *OpenAI) BusinessLogic(ctx context.Context, procName, code string) (string, error) {
	prompt := fmt.Sprintf(`Analyze the following stored procedure and describe its business logic concisely.

Procedure: %s

Code:
%s

Provide a clear description of what this procedure does, including:
1. Main purpose
2. Key operations performed
3. Business rules applied

Answer:`, procName, code)

	summary, err := o.complete(ctx, prompt)
	if err != nil {
		slog.Error("enrich.business_logic", "procedure", procName, "error", err)
		return "", err
	}
	return strings.TrimSpace(summary), nil
}

var scoreRe = regexp.MustCompile(`\d+`)

// ComplexityScore asks the model for a 1..10 rating. An unreachable model
// or an out-of-range answer falls back to the static heuristic.
func (o *OpenAI) ComplexityScore(ctx context.Context, code string) int {
	truncated := code
	if len(truncated) > maxComplexityCode {
		truncated = truncated[:maxComplexityCode]
	}
	prompt := fmt.Sprintf(`Rate the complexity of the following stored procedure on a scale of 1 to 10, considering:
- Number of lines
- Control structures (IFs, LOOPs)
- Number of tables/procedures used
- Business logic

Code:
%s

Return only a number from 1 to 10:`, truncated)

	answer, err := o.complete(ctx, prompt)
	if err == nil {
		if m := scoreRe.FindString(answer); m != "" {
			if score, convErr := strconv.Atoi(m); convErr == nil && score >= 1 && score <= 10 {
				return score
			}
			slog.Warn("enrich.score_out_of_range", "answer", answer)
		}
	} else {
		slog.Warn("enrich.score_fallback", "error", err)
	}
	return extract.ComplexityScore(code)
}
