package extract

import (
	"context"
	"strings"

	"deal_intake/pkg/core/agent"
	"deal_intake/pkg/core/prompt"

	"go.uber.org/zap"
)

// DocumentKind separates single-property deal decks from fund/strategy decks.
type DocumentKind string

const (
	KindDeal DocumentKind = "deal"
	KindFund DocumentKind = "fund"
)

const classifySampleChars = 20000

type Classifier struct {
	exec    Executor
	prompts *prompt.Registry
	logger  *zap.Logger
}

func NewClassifier(exec Executor, prompts *prompt.Registry, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prompts == nil {
		prompts = prompt.Get()
	}
	return &Classifier{exec: exec, prompts: prompts, logger: logger}
}

// Classify labels a document from its first 20,000 characters. Anything but
// an exact "fund" or "deal" answer falls back to deal.
func (c *Classifier) Classify(ctx context.Context, text string) (DocumentKind, error) {
	sample := text
	if r := []rune(text); len(r) > classifySampleChars {
		sample = string(r[:classifySampleChars])
	}

	user, system, err := c.prompts.Render(prompt.DocumentClassifier, prompt.NewContext().Set("DocumentText", sample))
	if err != nil {
		return "", extractionErr("render prompt", err)
	}
	resp, err := c.exec.ExecutePrompt(ctx, agent.AgentClassification, user, system, map[string]interface{}{
		"temperature": 0.0,
		"max_tokens":  10,
	})
	if err != nil {
		return "", extractionErr("classify", err)
	}

	switch answer := strings.ToLower(strings.TrimSpace(resp)); answer {
	case string(KindDeal):
		return KindDeal, nil
	case string(KindFund):
		return KindFund, nil
	default:
		c.logger.Warn("unexpected classification response, defaulting to deal", zap.String("response", answer))
		return KindDeal, nil
	}
}
