package excel

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap/zaptest"
)

// writeWorkbook builds an .xlsx with the given sheets; cells maps "A1" style
// references to values.
func writeWorkbook(t *testing.T, sheets map[string]map[string]any, order ...string) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	for i, name := range order {
		if i == 0 {
			require.NoError(t, f.SetSheetName("Sheet1", name))
		} else {
			_, err := f.NewSheet(name)
			require.NoError(t, err)
		}
		for ref, v := range sheets[name] {
			require.NoError(t, f.SetCellValue(name, ref, v))
		}
	}

	path := filepath.Join(t.TempDir(), "model.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestAnalyze_LeveredIRRPercentCell(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetName("Sheet1", "Returns"))
	require.NoError(t, f.SetCellValue("Returns", "A10", "Levered IRR"))
	require.NoError(t, f.SetCellValue("Returns", "B10", 0.196))
	style, err := f.NewStyle(&excelize.Style{NumFmt: 10}) // 0.00%
	require.NoError(t, err)
	require.NoError(t, f.SetCellStyle("Returns", "B10", "B10", style))
	path := filepath.Join(t.TempDir(), "returns.xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	res, err := NewAnalyzer(zaptest.NewLogger(t)).Analyze(path, []string{MetricLeveredIRR})
	require.NoError(t, err)

	require.Contains(t, res.Metrics, MetricLeveredIRR)
	assert.Equal(t, "0.196", res.Metrics[MetricLeveredIRR].String())
	assert.GreaterOrEqual(t, res.Confidence[MetricLeveredIRR], 0.9)
	assert.Equal(t, "Returns!B10", res.CellRefs[MetricLeveredIRR])
	assert.Equal(t, "Returns", res.Sheets[RoleReturns])
}

func TestAnalyze_TextValues(t *testing.T) {
	path := writeWorkbook(t, map[string]map[string]any{
		"Returns": {
			"A1": "Levered IRR", "B1": "19.6%",
			"A2": "Equity Multiple", "B2": "1.73x",
			"A3": "Hold Period (Years)", "B3": 5,
		},
		"Sources & Uses": {
			"A1": "Land Cost", "B1": "$1,234,567",
			"A2": "Hard Costs", "B2": "(500)",
			"A3": "Loan Amount", "C3": "$9,000,000",
		},
	}, "Returns", "Sources & Uses")

	res, err := NewAnalyzer(nil).Analyze(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "0.196", res.Metrics[MetricLeveredIRR].String())
	assert.Equal(t, "1.73", res.Metrics[MetricEquityMultiple].String())
	assert.Equal(t, "1234567", res.Metrics[MetricLandCost].String())
	assert.Equal(t, "500", res.Metrics[MetricHardCost].String(), "cost fields are forced positive")
	assert.Equal(t, "9000000", res.Metrics[MetricLoanAmount].String(), "probe skips the empty cell to the right")
	assert.Equal(t, "60", res.Metrics[MetricHoldPeriodMonths].String())
	assert.Equal(t, "Sources & Uses", res.Sheets[RoleSourcesUses])
	assert.Equal(t, 0.95, res.Confidence[MetricEquityMultiple])
}

func TestAnalyze_ValueBelowLabel(t *testing.T) {
	path := writeWorkbook(t, map[string]map[string]any{
		"Summary": {"B2": "DSCR", "B3": 1.35},
	}, "Summary")

	res, err := NewAnalyzer(nil).Analyze(path, []string{MetricDSCR})
	require.NoError(t, err)
	assert.Equal(t, "1.35", res.Metrics[MetricDSCR].String())
	assert.Equal(t, 0.90, res.Confidence[MetricDSCR])
}

func TestAnalyze_NoValidNeighborIsAbsent(t *testing.T) {
	path := writeWorkbook(t, map[string]map[string]any{
		"Returns": {"A1": "Levered IRR", "B1": 0, "C1": "", "A2": "n/a"},
	}, "Returns")

	res, err := NewAnalyzer(nil).Analyze(path, []string{MetricLeveredIRR})
	require.NoError(t, err)
	_, found := res.Metrics[MetricLeveredIRR]
	assert.False(t, found, "a label with no usable neighbor yields no value, not zero")
}

func TestAnalyze_PrioritySheetWins(t *testing.T) {
	path := writeWorkbook(t, map[string]map[string]any{
		"Overview": {"A1": "Levered IRR", "B1": 0.12},
		"Returns":  {"A1": "Levered IRR", "B1": 0.18},
		"Misc":     {"A1": "Exit Cap Rate", "B1": "5.5%"},
	}, "Overview", "Returns", "Misc")

	res, err := NewAnalyzer(nil).Analyze(path, []string{MetricLeveredIRR, MetricExitCapRate})
	require.NoError(t, err)
	assert.Equal(t, "0.18", res.Metrics[MetricLeveredIRR].String())
	assert.Equal(t, "0.055", res.Metrics[MetricExitCapRate].String(), "unbound sheets are searched as a fallback")
}

func TestAnalyze_OutOfRangeStillReturned(t *testing.T) {
	path := writeWorkbook(t, map[string]map[string]any{
		"Returns": {"A1": "Levered IRR", "B1": 19.6},
	}, "Returns")

	res, err := NewAnalyzer(nil).Analyze(path, []string{MetricLeveredIRR})
	require.NoError(t, err)
	assert.Equal(t, "19.6", res.Metrics[MetricLeveredIRR].String())
	assert.Equal(t, 0.85, res.Confidence[MetricLeveredIRR])
}

func TestAnalyze_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := NewAnalyzer(nil).Analyze(filepath.Join(dir, "missing.xlsx"), nil)
	assert.True(t, errors.Is(err, ErrFileNotFound))

	txt := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("hello"), 0o644))
	_, err = NewAnalyzer(nil).Analyze(txt, nil)
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))

	bad := filepath.Join(dir, "broken.xlsx")
	require.NoError(t, os.WriteFile(bad, []byte("not a zip archive"), 0o644))
	_, err = NewAnalyzer(nil).Analyze(bad, nil)
	assert.True(t, errors.Is(err, ErrCorruptWorkbook))
}

func TestHoldPeriodUnits(t *testing.T) {
	tests := []struct {
		label string
		value any
		want  string
	}{
		{"Hold Period (Months)", 60, "60"},
		{"Hold Period (Years)", 7, "84"},
		{"Hold Period", 5, "60"},
		{"Hold Period", 36, "36"},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			path := writeWorkbook(t, map[string]map[string]any{
				"Returns": {"A1": tt.label, "B1": tt.value},
			}, "Returns")
			res, err := NewAnalyzer(nil).Analyze(path, []string{MetricHoldPeriodMonths})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Metrics[MetricHoldPeriodMonths].String())
		})
	}
}

func TestToUnderwriting(t *testing.T) {
	path := writeWorkbook(t, map[string]map[string]any{
		"Returns": {"A1": "Levered IRR", "B1": 0.2, "A2": "Hold Period", "B2": 3},
	}, "Returns")
	res, err := NewAnalyzer(nil).Analyze(path, nil)
	require.NoError(t, err)

	u := res.ToUnderwriting()
	require.True(t, u.LeveredIRR.Valid)
	assert.Equal(t, "0.2", u.LeveredIRR.Decimal.String())
	require.NotNil(t, u.HoldPeriodMonths)
	assert.Equal(t, 36, *u.HoldPeriodMonths)
	assert.False(t, u.LoanAmount.Valid)
}

func TestRoleOf(t *testing.T) {
	tests := []struct {
		sheet string
		role  Role
		ok    bool
	}{
		{"Sources & Uses", RoleSourcesUses, true},
		{"S&U", RoleSourcesUses, true},
		{"  sources and uses ", RoleSourcesUses, true},
		{"Investment Returns", RoleReturns, true},
		{"CashFlows", RoleCashFlow, true},
		{"Executive Summary", RoleOverview, true},
		{"Rent Roll", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.sheet, func(t *testing.T) {
			role, ok := RoleOf(tt.sheet)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.role, role)
		})
	}
}

func TestClassifySheets(t *testing.T) {
	got := ClassifySheets([]string{"Rent Roll", "S&U", "Returns", "Sources & Uses"})
	assert.Equal(t, map[Role]string{
		RoleReturns:     "Returns",
		RoleSourcesUses: "S&U",
	}, got)
}

func TestCellRef(t *testing.T) {
	assert.Equal(t, "Returns!B10", cellRef("Returns", 9, 1))
	assert.Equal(t, "S&U!AA1", cellRef("S&U", 0, 26))
}
