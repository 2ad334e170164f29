package excel

import "sort"

// Role is the semantic purpose of a worksheet.
type Role string

const (
	RoleReturns     Role = "returns"
	RoleSourcesUses Role = "sources_uses"
	RoleCashFlow    Role = "cash_flow"
	RoleOverview    Role = "overview"
)

// SearchOrder is the sheet priority for metric lookup.
var SearchOrder = []Role{RoleReturns, RoleSourcesUses, RoleCashFlow, RoleOverview}

// SheetVariants are known names per role, lowercase.
var SheetVariants = map[Role][]string{
	RoleReturns:     {"returns", "investment returns", "inv returns", "return", "investor returns"},
	RoleSourcesUses: {"sources & uses", "sources and uses", "s&u", "s & u", "sources uses", "sources/uses"},
	RoleCashFlow:    {"cash flow", "cashflow", "proforma", "pro forma", "cash flows", "projections"},
	RoleOverview:    {"overview", "summary", "executive summary", "deal summary", "investment summary"},
}

// SheetSimilarityThreshold is the minimum fuzzy ratio for a sheet-name match.
const SheetSimilarityThreshold = 0.7

// Metric names.
const (
	MetricLeveredIRR       = "levered_irr"
	MetricUnleveredIRR     = "unlevered_irr"
	MetricEquityMultiple   = "equity_multiple"
	MetricEquityRequired   = "equity_required"
	MetricTotalProjectCost = "total_project_cost"
	MetricLandCost         = "land_cost"
	MetricHardCost         = "hard_cost"
	MetricSoftCost         = "soft_cost"
	MetricLoanAmount       = "loan_amount"
	MetricDSCR             = "dscr_at_stabilization"
	MetricExitCapRate      = "exit_cap_rate"
	MetricYieldOnCost      = "yield_on_cost"
	MetricHoldPeriodMonths = "hold_period_months"
	MetricInterestRate     = "interest_rate"
	MetricLTV              = "ltv"
)

// metricLabels are label synonyms per metric. labelsFor returns them sorted
// longest-first so specific phrases win over generic ones.
var metricLabels = map[string][]string{
	MetricLeveredIRR:       {"levered irr", "leveraged irr", "lp irr", "net irr", "irr to equity", "projected lp irr", "projected irr net", "irr"},
	MetricUnleveredIRR:     {"unlevered irr", "unleveraged irr", "gross irr", "project level irr", "projected irr gross"},
	MetricEquityMultiple:   {"equity multiple", "equity mult", "moic", "multiple on invested capital", "projected lp em", "net em", "multiple"},
	MetricEquityRequired:   {"equity required", "equity investment", "required equity", "lp equity", "total equity", "sponsor equity", "gp equity"},
	MetricTotalProjectCost: {"total project cost", "total cost", "project cost", "total development cost", "total uses", "total investment"},
	MetricLandCost:         {"land cost", "purchase price", "acquisition price", "acquisition cost", "site cost", "land acquisition"},
	MetricHardCost:         {"hard cost", "hard costs", "construction cost", "construction costs", "development cost", "building cost", "renovation cost", "capex"},
	MetricSoftCost:         {"soft cost", "soft costs", "fees", "closing costs", "transaction costs"},
	MetricLoanAmount:       {"loan amount", "debt", "loan", "debt amount", "senior debt", "financing"},
	MetricDSCR:             {"dscr", "debt service coverage ratio", "stabilized dscr", "debt coverage"},
	MetricExitCapRate:      {"exit cap rate", "exit cap", "terminal cap rate", "terminal cap", "reversion cap rate", "going out cap"},
	MetricYieldOnCost:      {"yield on cost", "yoc", "stabilized yoc", "stabilized yield"},
	MetricHoldPeriodMonths: {"hold period", "investment period", "hold", "project duration"},
	MetricInterestRate:     {"interest rate", "loan rate", "debt rate", "rate"},
	MetricLTV:              {"ltv", "loan to value", "loan-to-value", "loan to value ratio"},
}

// holdLabels are the phrases that mark a hold-period cell.
var holdLabels = []string{"hold period", "investment period", "hold"}

// costMetrics are forced to positive magnitude; models often book them as outflows.
var costMetrics = []string{
	MetricLandCost, MetricHardCost, MetricSoftCost, MetricTotalProjectCost,
	MetricEquityRequired, MetricLoanAmount,
}

// AllMetrics lists every known metric in a stable order.
func AllMetrics() []string {
	names := make([]string, 0, len(metricLabels))
	for name := range metricLabels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// KnownMetric reports whether name has a label table.
func KnownMetric(name string) bool {
	_, ok := metricLabels[name]
	return ok
}

func labelsFor(metric string) []string {
	src := metricLabels[metric]
	out := make([]string, len(src))
	copy(out, src)
	sort.SliceStable(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out
}
