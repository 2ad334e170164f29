package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"deal_intake/pkg/core/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type mockExecutor struct {
	ExecutePromptFunc     func(ctx context.Context, agentType, prompt, system string, opts map[string]interface{}) (string, error)
	ExecuteWithImagesFunc func(ctx context.Context, agentType, prompt, system string, images []llm.Image, opts map[string]interface{}) (string, error)
}

func (m *mockExecutor) ExecutePrompt(ctx context.Context, agentType, prompt, system string, opts map[string]interface{}) (string, error) {
	return m.ExecutePromptFunc(ctx, agentType, prompt, system, opts)
}

func (m *mockExecutor) ExecuteWithImages(ctx context.Context, agentType, prompt, system string, images []llm.Image, opts map[string]interface{}) (string, error) {
	return m.ExecuteWithImagesFunc(ctx, agentType, prompt, system, images, opts)
}

func respond(body string) *mockExecutor {
	return &mockExecutor{
		ExecutePromptFunc: func(context.Context, string, string, string, map[string]interface{}) (string, error) {
			return body, nil
		},
	}
}

const multiOperatorResponse = "```json\n" + `{
  "operators": [
    {"name": "Acme Capital", "hq_city": "Austin"},
    {"name": "Beta Partners"}
  ],
  "deal": {"deal_name": "Oak Park Apartments", "num_units": "120", "postal_code": 78701, "hold_period_years": 5},
  "principals": [{"full_name": "Jane Doe", "years_experience": 15}, {"full_name": ""}],
  "underwriting": {
    "purchase_price": "$12,500,000",
    "renovation_budget": 1500000,
    "levered_irr": "18.5%",
    "moic": "1.9x",
    "hold_period_months": 60,
    "details_json": {"entry_cap_rate": 0.055, "additional_metrics": {"noi": 800000}}
  }
}` + "\n```"

func TestExtract_MultiOperatorResponse(t *testing.T) {
	var gotOpts map[string]interface{}
	var gotPrompt string
	exec := &mockExecutor{
		ExecutePromptFunc: func(_ context.Context, agentType, prompt, _ string, opts map[string]interface{}) (string, error) {
			gotOpts, gotPrompt = opts, prompt
			return multiOperatorResponse, nil
		},
	}
	ex := NewExtractor(exec, nil, zaptest.NewLogger(t))

	cand, err := ex.Extract(context.Background(), Input{Text: "Offering memorandum for Oak Park Apartments"})
	require.NoError(t, err)

	assert.Equal(t, 0.0, gotOpts["temperature"])
	assert.Equal(t, 4096, gotOpts["max_tokens"])
	assert.Contains(t, gotPrompt, "Oak Park Apartments")

	require.Len(t, cand.Operators, 2)
	assert.True(t, cand.Operators[0].IsPrimary, "first operator promoted when none flagged")
	assert.False(t, cand.Operators[1].IsPrimary)
	require.NotNil(t, cand.Operator)
	assert.Equal(t, "Acme Capital", cand.Operator.Name)

	assert.Equal(t, "Oak Park Apartments", cand.Deal.DealName)
	require.NotNil(t, cand.Deal.NumUnits)
	assert.Equal(t, 120, *cand.Deal.NumUnits)
	require.NotNil(t, cand.Deal.PostalCode)
	assert.Equal(t, "78701", *cand.Deal.PostalCode)

	require.Len(t, cand.Principals, 1)
	assert.Equal(t, "Jane Doe", cand.Principals[0].FullName)

	u := cand.Underwriting
	assert.Equal(t, "12500000", u.LandCost.Decimal.String(), "purchase_price folds into land_cost")
	assert.Equal(t, "1500000", u.HardCost.Decimal.String(), "renovation_budget folds into hard_cost")
	assert.Equal(t, "0.185", u.LeveredIRR.Decimal.String())
	assert.Equal(t, "1.9", u.EquityMultiple.Decimal.String())
	require.NotNil(t, u.HoldPeriodMonths)
	assert.Equal(t, 60, *u.HoldPeriodMonths)

	assert.Contains(t, u.Details, "purchase_price")
	assert.Contains(t, u.Details, "renovation_budget")
	assert.Contains(t, u.Details, "entry_cap_rate")
	noi, ok := u.Details["additional_metrics.noi"].Float64()
	require.True(t, ok)
	assert.Equal(t, 800000.0, noi)
}

func TestParseResponse_LegacyOperator(t *testing.T) {
	ex := NewExtractor(respond(""), nil, nil)

	cand, err := ex.ParseResponse(`{"operator": {"name": "Solo LLC"}, "deal": {"deal_name": "Elm"}}`, false)
	require.NoError(t, err)
	require.Len(t, cand.Operators, 1)
	assert.True(t, cand.Operators[0].IsPrimary)

	_, err = ex.ParseResponse(`{"operator": {"legal_name": "x"}, "deal": {"deal_name": "Elm"}}`, false)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestParseResponse_OnlyFirstFlaggedPrimary(t *testing.T) {
	ex := NewExtractor(respond(""), nil, nil)
	cand, err := ex.ParseResponse(`{
		"operators": [{"name": "A"}, {"name": "B", "is_primary": true}, {"name": "C", "is_primary": true}],
		"deal": {"deal_name": "Elm"}}`, false)
	require.NoError(t, err)

	var primaries []string
	for _, op := range cand.Operators {
		if op.IsPrimary {
			primaries = append(primaries, op.Name)
		}
	}
	assert.Equal(t, []string{"B"}, primaries)
	assert.Equal(t, "B", cand.Primary().Name)

	var names []string
	for _, op := range cand.Operators {
		names = append(names, op.Name)
	}
	assert.Equal(t, []string{"B", "A", "C"}, names, "primary first, others in order")
	require.NotNil(t, cand.Operator)
	assert.Equal(t, "B", cand.Operator.Name)
}

func TestParseResponse_MissingDealName(t *testing.T) {
	ex := NewExtractor(respond(""), nil, nil)
	_, err := ex.ParseResponse(`{"operators": [{"name": "A"}], "deal": {}}`, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
	assert.False(t, errors.Is(err, ErrExtraction))
	assert.Contains(t, err.Error(), "DealName")
}

func TestParseResponse_RepairsJSON(t *testing.T) {
	ex := NewExtractor(respond(""), nil, nil)
	cand, err := ex.ParseResponse(`{"operators": [{"name": "A",}], "deal": {"deal_name": 'Elm'},}`, false)
	require.NoError(t, err)
	assert.Equal(t, "Elm", cand.Deal.DealName)
}

func TestParseResponse_Garbage(t *testing.T) {
	ex := NewExtractor(respond(""), nil, nil)
	_, err := ex.ParseResponse("I could not find any deal in this document.", false)
	assert.ErrorIs(t, err, ErrExtraction)
}

func TestParseResponse_RangeWarnings(t *testing.T) {
	ex := NewExtractor(respond(""), nil, nil)
	cand, err := ex.ParseResponse(`{"deal": {"deal_name": "Elm"}, "underwriting": {"levered_irr": 18.5, "equity_multiple": 1.8, "dscr_at_stabilization": 9}}`, false)
	require.NoError(t, err)
	assert.Len(t, cand.Warnings, 2)
	assert.Equal(t, "18.5", cand.Underwriting.LeveredIRR.Decimal.String(), "out-of-range values are kept")
}

func TestExtract_ModelFailure(t *testing.T) {
	exec := &mockExecutor{
		ExecutePromptFunc: func(context.Context, string, string, string, map[string]interface{}) (string, error) {
			return "", context.DeadlineExceeded
		},
	}
	_, err := NewExtractor(exec, nil, nil).Extract(context.Background(), Input{Text: "some text"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExtraction)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var xerr *Error
	require.True(t, errors.As(err, &xerr))
	assert.Equal(t, "model call", xerr.Op)
}

func TestExtract_NoUsableText(t *testing.T) {
	_, err := NewExtractor(respond("{}"), nil, nil).Extract(context.Background(), Input{Text: "   \n "})
	assert.ErrorIs(t, err, ErrExtraction)
}

func TestExtract_VisionFallback(t *testing.T) {
	var sent []llm.Image
	exec := &mockExecutor{
		ExecutePromptFunc: func(context.Context, string, string, string, map[string]interface{}) (string, error) {
			t.Fatal("text path used for sparse text with images")
			return "", nil
		},
		ExecuteWithImagesFunc: func(_ context.Context, _, _, _ string, images []llm.Image, _ map[string]interface{}) (string, error) {
			sent = images
			return `{"operators": [{"name": "A"}], "deal": {"deal_name": "Scanned Deal"}}`, nil
		},
	}
	in := Input{Text: "Page 1", Images: []llm.Image{{Data: []byte{1, 2, 3}, MIMEType: "image/png"}}}
	require.True(t, UsesVision(in))

	cand, err := NewExtractor(exec, nil, nil).Extract(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "Scanned Deal", cand.Deal.DealName)
	assert.Len(t, sent, 1)

	assert.False(t, UsesVision(Input{Text: strings.Repeat("x", MinTextChars), Images: in.Images}))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	out := Truncate(strings.Repeat("é", 10), 4)
	assert.Equal(t, "éééé"+truncationMarker, out)
}

func TestClassifier(t *testing.T) {
	tests := []struct {
		answer string
		want   DocumentKind
	}{
		{"deal", KindDeal},
		{" Fund\n", KindFund},
		{"probably a fund deck", KindDeal},
	}
	for _, tt := range tests {
		t.Run(tt.answer, func(t *testing.T) {
			var maxTokens interface{}
			exec := &mockExecutor{
				ExecutePromptFunc: func(_ context.Context, _, prompt, _ string, opts map[string]interface{}) (string, error) {
					maxTokens = opts["max_tokens"]
					return tt.answer, nil
				},
			}
			kind, err := NewClassifier(exec, nil, zaptest.NewLogger(t)).Classify(context.Background(), "doc")
			require.NoError(t, err)
			assert.Equal(t, tt.want, kind)
			assert.Equal(t, 10, maxTokens)
		})
	}
}
