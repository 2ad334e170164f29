// Package extract turns free text (and, as a fallback, page images) into a
// validated extraction candidate using an LLM.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"deal_intake/pkg/core/agent"
	"deal_intake/pkg/core/llm"
	"deal_intake/pkg/core/prompt"
	"deal_intake/pkg/core/utils"
	"deal_intake/pkg/models"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const (
	// MaxChars is the prompt budget for document text.
	MaxChars = 50000
	// MinTextChars is the non-whitespace threshold below which image input
	// is preferred when images exist.
	MinTextChars = 200

	truncationMarker = "\n\n[... text truncated ...]"
	maxOutputTokens  = 4096
)

// Executor runs a named agent prompt. *agent.Manager implements it.
type Executor interface {
	ExecutePrompt(ctx context.Context, agentType string, prompt string, systemPrompt string, options map[string]interface{}) (string, error)
	ExecuteWithImages(ctx context.Context, agentType string, prompt string, systemPrompt string, images []llm.Image, options map[string]interface{}) (string, error)
}

// Input is the material handed to the extractor.
type Input struct {
	Text   string
	Images []llm.Image
	// RequireOperator rejects a candidate without an operator name.
	RequireOperator bool
}

type Extractor struct {
	exec     Executor
	prompts  *prompt.Registry
	validate *validator.Validate
	logger   *zap.Logger
}

func NewExtractor(exec Executor, prompts *prompt.Registry, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prompts == nil {
		prompts = prompt.Get()
	}
	return &Extractor{
		exec:     exec,
		prompts:  prompts,
		validate: validator.New(),
		logger:   logger,
	}
}

// UsesVision reports whether in would be sent as images rather than text.
func UsesVision(in Input) bool {
	return len(in.Images) > 0 && nonSpaceCount(in.Text) < MinTextChars
}

// Extract produces a candidate. Failures are *Error values of kind
// ErrExtraction or ErrValidation.
func (e *Extractor) Extract(ctx context.Context, in Input) (*models.ExtractionCandidate, error) {
	text := strings.TrimSpace(in.Text)
	vision := UsesVision(in)
	if text == "" && !vision {
		return nil, extractionErr("extract", errors.New("NO_USABLE_TEXT: no text or images to extract from"))
	}

	promptID := prompt.DealExtraction
	if vision {
		promptID = prompt.DealExtractionVision
	}
	pctx := prompt.NewContext().Set("DocumentText", Truncate(text, MaxChars)).Set("MaxChars", MaxChars)
	user, system, err := e.prompts.Render(promptID, pctx)
	if err != nil {
		return nil, extractionErr("render prompt", err)
	}

	opts := map[string]interface{}{
		"temperature":     0.0,
		"max_tokens":      maxOutputTokens,
		"response_format": map[string]interface{}{"type": "json_object"},
	}

	e.logger.Info("sending extraction request",
		zap.Int("text_chars", len(text)),
		zap.Int("images", len(in.Images)),
		zap.Bool("vision", vision))

	var response string
	if vision {
		response, err = e.exec.ExecuteWithImages(ctx, agent.AgentExtraction, user, system, in.Images, opts)
	} else {
		response, err = e.exec.ExecutePrompt(ctx, agent.AgentExtraction, user, system, opts)
	}
	if err != nil {
		return nil, extractionErr("model call", err)
	}

	cand, err := e.ParseResponse(response, in.RequireOperator)
	if err != nil {
		return nil, err
	}
	e.logger.Info("extraction complete",
		zap.String("deal_name", cand.Deal.DealName),
		zap.Int("operators", len(cand.Operators)),
		zap.Int("principals", len(cand.Principals)),
		zap.Int("warnings", len(cand.Warnings)))
	return cand, nil
}

// ParseResponse turns a raw model response into a validated candidate.
func (e *Extractor) ParseResponse(response string, requireOperator bool) (*models.ExtractionCandidate, error) {
	payload := utils.StripCodeFences(response)
	raw, err := utils.SmartParseObject(payload)
	if err != nil {
		e.logger.Error("unparseable extraction response", zap.String("response_head", head(response, 500)))
		return nil, extractionErr("parse response", err)
	}

	legacy := isLegacyShape(raw)
	notes := normalizeRaw(raw)

	normalized, err := json.Marshal(raw)
	if err != nil {
		return nil, extractionErr("parse response", err)
	}
	var cand models.ExtractionCandidate
	if err := json.Unmarshal(normalized, &cand); err != nil {
		return nil, extractionErr("decode candidate", err)
	}
	cand.Warnings = append(cand.Warnings, notes...)

	if legacy && cand.Operator != nil {
		cand.Operators = []models.OperatorCandidate{*cand.Operator}
	}
	if err := e.resolveOperators(&cand, legacy || requireOperator); err != nil {
		return nil, err
	}

	if err := e.validate.Struct(&cand); err != nil {
		return nil, validationErr("validate candidate", describeValidation(err))
	}

	cand.Warnings = append(cand.Warnings, rangeWarnings(&cand.Underwriting)...)
	for _, w := range cand.Warnings {
		e.logger.Warn("extraction warning", zap.String("warning", w))
	}
	return &cand, nil
}

// isLegacyShape reports a response that used the single "operator" object.
func isLegacyShape(raw map[string]interface{}) bool {
	ops, _ := raw["operators"].([]interface{})
	_, hasOp := raw["operator"].(map[string]interface{})
	return len(ops) == 0 && hasOp
}

// resolveOperators drops nameless entries and enforces exactly one primary,
// which is always Operators[0].
func (e *Extractor) resolveOperators(c *models.ExtractionCandidate, requireName bool) error {
	kept := c.Operators[:0]
	for _, op := range c.Operators {
		op.Name = strings.TrimSpace(op.Name)
		if op.Name == "" {
			if requireName {
				return validationErr("validate candidate", errors.New("missing required field: operator.name"))
			}
			c.Warnings = append(c.Warnings, "dropped operator without name")
			continue
		}
		kept = append(kept, op)
	}
	c.Operators = kept

	if len(c.Operators) == 0 {
		if requireName {
			return validationErr("validate candidate", errors.New("missing required field: operator.name"))
		}
		c.Operator = nil
		return nil
	}

	primary := -1
	for i := range c.Operators {
		if c.Operators[i].IsPrimary && primary < 0 {
			primary = i
		}
		c.Operators[i].IsPrimary = false
	}
	if primary < 0 {
		primary = 0
	}
	// The primary moves to the front; the rest keep their order.
	op := c.Operators[primary]
	op.IsPrimary = true
	copy(c.Operators[1:primary+1], c.Operators[:primary])
	c.Operators[0] = op

	c.Operator = &op
	return nil
}

func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Namespace())
	}
	return fmt.Errorf("missing required field: %s", strings.Join(fields, ", "))
}

func rangeWarnings(u *models.UnderwritingCandidate) []string {
	var out []string
	check := func(name string, v interface{ Float64() (float64, bool) }, lo, hi float64) {
		f, _ := v.Float64()
		if f <= lo || f >= hi {
			out = append(out, fmt.Sprintf("%s %.4g outside expected range (%g, %g)", name, f, lo, hi))
		}
	}
	if u.LeveredIRR.Valid {
		check("levered_irr", u.LeveredIRR.Decimal, -0.5, 1.0)
	}
	if u.UnleveredIRR.Valid {
		check("unlevered_irr", u.UnleveredIRR.Decimal, -0.5, 1.0)
	}
	if u.EquityMultiple.Valid {
		check("equity_multiple", u.EquityMultiple.Decimal, 0.5, 10)
	}
	if u.DSCRAtStabilization.Valid {
		check("dscr_at_stabilization", u.DSCRAtStabilization.Decimal, 0.5, 5.0)
	}
	return out
}

// Truncate cuts text to max runes and appends the truncation marker.
func Truncate(text string, max int) string {
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	return string(runes[:max]) + truncationMarker
}

func nonSpaceCount(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
