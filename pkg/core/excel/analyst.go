// Package excel locates underwriting metrics in financial-model workbooks
// without fixed cell coordinates.
package excel

import (
	"fmt"
	"os"
	"strings"

	"deal_intake/pkg/core/normalize"
	"deal_intake/pkg/models"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// Scan bounds.
const (
	maxScanRows     = 200
	maxScanCols     = 20
	maxHoldScanRows = 100
	rightProbe      = 5
)

// Analysis is the result of one workbook pass.
type Analysis struct {
	Metrics    map[string]decimal.Decimal `json:"metrics"`
	Confidence map[string]float64         `json:"confidence"`
	// CellRefs records where each metric came from, e.g. "Returns!B10".
	CellRefs map[string]string `json:"cell_references"`
	Sheets   map[Role]string   `json:"sheets_found"`
}

// Analyzer extracts metrics from spreadsheets.
type Analyzer struct {
	logger *zap.Logger
}

func NewAnalyzer(logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{logger: logger}
}

// Analyze opens path and extracts metrics. An empty metrics list means every
// known metric. A metric that cannot be found is simply absent from the result.
func (a *Analyzer) Analyze(path string, metrics []string) (*Analysis, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	wb, err := Open(path)
	if err != nil {
		return nil, err
	}
	a.logger.Info("analyzing workbook", zap.String("path", path), zap.Strings("sheets", wb.SheetNames()))
	return a.AnalyzeWorkbook(wb, metrics), nil
}

// AnalyzeWorkbook runs the extraction over an already loaded workbook.
func (a *Analyzer) AnalyzeWorkbook(wb *Workbook, metrics []string) *Analysis {
	res := &Analysis{
		Metrics:    make(map[string]decimal.Decimal),
		Confidence: make(map[string]float64),
		CellRefs:   make(map[string]string),
		Sheets:     ClassifySheets(wb.SheetNames()),
	}
	if len(res.Sheets) == 0 {
		a.logger.Warn("no recognized sheet names, searching all sheets")
	}

	if len(metrics) == 0 {
		metrics = AllMetrics()
	}
	var targets []string
	for _, m := range metrics {
		if m != MetricHoldPeriodMonths && KnownMetric(m) {
			targets = append(targets, m)
		}
	}

	bound := make(map[string]bool)
	for _, role := range SearchOrder {
		name, ok := res.Sheets[role]
		if !ok {
			continue
		}
		bound[name] = true
		a.extractFromSheet(wb.Sheet(name), targets, res)
	}

	if missing := res.missing(targets); len(missing) > 0 {
		for _, sheet := range wb.Sheets {
			if bound[sheet.Name] {
				continue
			}
			a.extractFromSheet(sheet, missing, res)
		}
	}

	if months, ref, ok := holdPeriodMonths(wb, res.Sheets); ok {
		res.Metrics[MetricHoldPeriodMonths] = decimal.NewFromInt(int64(months))
		res.CellRefs[MetricHoldPeriodMonths] = ref
	}

	for _, m := range costMetrics {
		if v, ok := res.Metrics[m]; ok && v.IsNegative() {
			res.Metrics[m] = v.Abs()
		}
	}

	for m, v := range res.Metrics {
		res.Confidence[m] = confidenceFor(m, v)
	}

	a.logger.Info("workbook analysis complete", zap.Int("metrics_found", len(res.Metrics)))
	return res
}

func (r *Analysis) missing(targets []string) []string {
	var out []string
	for _, m := range targets {
		if _, ok := r.Metrics[m]; !ok {
			out = append(out, m)
		}
	}
	return out
}

// extractFromSheet fills metrics not already present; earlier sheets win.
func (a *Analyzer) extractFromSheet(sheet *Sheet, metrics []string, res *Analysis) {
	if sheet == nil {
		return
	}
	for _, m := range metrics {
		if _, done := res.Metrics[m]; done {
			continue
		}
		if v, ref, ok := searchMetric(sheet, labelsFor(m)); ok {
			res.Metrics[m] = v
			res.CellRefs[m] = ref
			a.logger.Debug("metric located", zap.String("metric", m), zap.String("cell", ref), zap.String("value", v.String()))
		}
	}
}

// searchMetric scans the bounded region row-major for a cell containing any
// label, then resolves its value: nearest non-zero cell to the right (up to
// rightProbe), else the cell below.
func searchMetric(sheet *Sheet, labels []string) (decimal.Decimal, string, bool) {
	rows := min(sheet.Rows(), maxScanRows)
	for r := 0; r < rows; r++ {
		cols := min(len(sheet.Cells[r]), maxScanCols)
		for c := 0; c < cols; c++ {
			text, ok := cellText(sheet.Cells[r][c])
			if !ok || !containsAny(text, labels) {
				continue
			}
			if v, ref, ok := resolveValue(sheet, r, c, cols); ok {
				return v, ref, true
			}
		}
	}
	return decimal.Zero, "", false
}

func resolveValue(sheet *Sheet, r, c, cols int) (decimal.Decimal, string, bool) {
	for off := 1; off <= rightProbe && c+off < cols; off++ {
		if v, ok := normalize.NonZero(sheet.Cell(r, c+off)); ok {
			return v, cellRef(sheet.Name, r, c+off), true
		}
	}
	if v, ok := normalize.NonZero(sheet.Cell(r+1, c)); ok {
		return v, cellRef(sheet.Name, r+1, c), true
	}
	return decimal.Zero, "", false
}

// holdPeriodMonths looks on the returns then overview sheet for a hold-period
// label with a value directly to its right.
//
// Unit rule: "month" in the label means months, "year" means years, and an
// unlabeled value below 20 is taken as years.
func holdPeriodMonths(wb *Workbook, sheets map[Role]string) (int, string, bool) {
	for _, role := range []Role{RoleReturns, RoleOverview} {
		name, ok := sheets[role]
		if !ok {
			continue
		}
		sheet := wb.Sheet(name)
		if sheet == nil {
			continue
		}
		rows := min(sheet.Rows(), maxHoldScanRows)
		for r := 0; r < rows; r++ {
			for c := range sheet.Cells[r] {
				text, ok := cellText(sheet.Cells[r][c])
				if !ok || !containsAny(text, holdLabels) {
					continue
				}
				v, ok := normalize.ParseFloat(sheet.Cell(r, c+1))
				if !ok {
					continue
				}
				var months int
				switch {
				case strings.Contains(text, "month"):
					months = int(v)
				case strings.Contains(text, "year"):
					months = int(v * 12)
				case v < 20:
					months = int(v * 12)
				default:
					months = int(v)
				}
				if months == 0 {
					continue
				}
				return months, cellRef(sheet.Name, r, c+1), true
			}
		}
	}
	return 0, "", false
}

func confidenceFor(metric string, v decimal.Decimal) float64 {
	f, _ := v.Float64()
	switch {
	case metric == MetricLeveredIRR && f > 0 && f < 1:
		return 0.95
	case metric == MetricEquityMultiple && f > 0.5 && f < 10:
		return 0.95
	case metric == MetricDSCR && f > 0.5 && f < 5:
		return 0.90
	}
	return 0.85
}

func cellText(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		return s, s != ""
	}
	return "", false
}

func containsAny(text string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}

// cellRef formats zero-based coordinates as "Sheet!B10".
func cellRef(sheet string, row, col int) string {
	name, err := excelize.CoordinatesToCellName(col+1, row+1)
	if err != nil {
		return sheet
	}
	return sheet + "!" + name
}

// ToUnderwriting maps the analysis onto an underwriting candidate.
func (r *Analysis) ToUnderwriting() models.UnderwritingCandidate {
	var u models.UnderwritingCandidate
	set := func(dst *decimal.NullDecimal, metric string) {
		if v, ok := r.Metrics[metric]; ok {
			*dst = decimal.NewNullDecimal(v)
		}
	}
	set(&u.LeveredIRR, MetricLeveredIRR)
	set(&u.UnleveredIRR, MetricUnleveredIRR)
	set(&u.EquityMultiple, MetricEquityMultiple)
	set(&u.EquityRequired, MetricEquityRequired)
	set(&u.TotalProjectCost, MetricTotalProjectCost)
	set(&u.LandCost, MetricLandCost)
	set(&u.HardCost, MetricHardCost)
	set(&u.SoftCost, MetricSoftCost)
	set(&u.LoanAmount, MetricLoanAmount)
	set(&u.DSCRAtStabilization, MetricDSCR)
	set(&u.ExitCapRate, MetricExitCapRate)
	set(&u.YieldOnCost, MetricYieldOnCost)
	set(&u.InterestRate, MetricInterestRate)
	set(&u.LTV, MetricLTV)
	if v, ok := r.Metrics[MetricHoldPeriodMonths]; ok {
		months := int(v.IntPart())
		u.HoldPeriodMonths = &months
	}
	u.Details = models.Details{"extraction_method": models.StringScalar("excel")}
	return u
}
