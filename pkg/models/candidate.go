package models

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// EXTRACTION CANDIDATE
// =============================================================================

// ExtractionCandidate is provisional structured data produced by an extractor.
// It is staged on an IntakeItem or returned to the caller; it is never
// persisted on its own.
type ExtractionCandidate struct {
	Operators []OperatorCandidate `json:"operators" validate:"dive"`
	// Operator mirrors the primary entry of Operators for older readers.
	Operator     *OperatorCandidate    `json:"operator,omitempty"`
	Deal         DealCandidate         `json:"deal"`
	Principals   []PrincipalCandidate  `json:"principals" validate:"dive"`
	Underwriting UnderwritingCandidate `json:"underwriting"`
	Warnings     []string              `json:"warnings,omitempty"`
}

// Primary returns the primary operator, or nil when none was extracted.
func (c *ExtractionCandidate) Primary() *OperatorCandidate {
	for i := range c.Operators {
		if c.Operators[i].IsPrimary {
			return &c.Operators[i]
		}
	}
	return nil
}

type OperatorCandidate struct {
	Name                  string  `json:"name" validate:"required"`
	LegalName             *string `json:"legal_name,omitempty"`
	WebsiteURL            *string `json:"website_url,omitempty"`
	HQCity                *string `json:"hq_city,omitempty"`
	HQState               *string `json:"hq_state,omitempty"`
	HQCountry             *string `json:"hq_country,omitempty"`
	PrimaryGeographyFocus *string `json:"primary_geography_focus,omitempty"`
	PrimaryAssetTypeFocus *string `json:"primary_asset_type_focus,omitempty"`
	Description           *string `json:"description,omitempty"`
	IsPrimary             bool    `json:"is_primary"`
}

type DealCandidate struct {
	DealName            string   `json:"deal_name" validate:"required"`
	InternalCode        *string  `json:"internal_code,omitempty"`
	Country             *string  `json:"country,omitempty"`
	State               *string  `json:"state,omitempty"`
	MSA                 *string  `json:"msa,omitempty"`
	Submarket           *string  `json:"submarket,omitempty"`
	AddressLine1        *string  `json:"address_line1,omitempty"`
	PostalCode          *string  `json:"postal_code,omitempty"`
	AssetType           *string  `json:"asset_type,omitempty"`
	StrategyType        *string  `json:"strategy_type,omitempty"`
	NumUnits            *int     `json:"num_units,omitempty"`
	BuildingSF          *int     `json:"building_sf,omitempty"`
	YearBuilt           *int     `json:"year_built,omitempty"`
	BusinessPlanSummary *string  `json:"business_plan_summary,omitempty"`
	HoldPeriodYears     *float64 `json:"hold_period_years,omitempty"`
}

type PrincipalCandidate struct {
	FullName          string  `json:"full_name" validate:"required"`
	Headline          *string `json:"headline,omitempty"`
	LinkedInURL       *string `json:"linkedin_url,omitempty"`
	Email             *string `json:"email,omitempty"`
	Phone             *string `json:"phone,omitempty"`
	Bio               *string `json:"bio,omitempty"`
	BackgroundSummary *string `json:"background_summary,omitempty"`
	YearsExperience   *int    `json:"years_experience,omitempty"`
}

// UnderwritingCandidate carries extracted metrics. Fields with stable meaning
// are first-class; everything else lands in Details.
type UnderwritingCandidate struct {
	TotalProjectCost    decimal.NullDecimal `json:"total_project_cost"`
	LandCost            decimal.NullDecimal `json:"land_cost"`
	HardCost            decimal.NullDecimal `json:"hard_cost"`
	SoftCost            decimal.NullDecimal `json:"soft_cost"`
	LoanAmount          decimal.NullDecimal `json:"loan_amount"`
	EquityRequired      decimal.NullDecimal `json:"equity_required"`
	OurInvestment       decimal.NullDecimal `json:"our_investment"`
	InterestRate        decimal.NullDecimal `json:"interest_rate"`
	LTV                 decimal.NullDecimal `json:"ltv"`
	LTC                 decimal.NullDecimal `json:"ltc"`
	DSCRAtStabilization decimal.NullDecimal `json:"dscr_at_stabilization"`
	LeveredIRR          decimal.NullDecimal `json:"levered_irr"`
	UnleveredIRR        decimal.NullDecimal `json:"unlevered_irr"`
	EquityMultiple      decimal.NullDecimal `json:"equity_multiple"`
	AvgCashOnCash       decimal.NullDecimal `json:"avg_cash_on_cash"`
	ExitCapRate         decimal.NullDecimal `json:"exit_cap_rate"`
	YieldOnCost         decimal.NullDecimal `json:"yield_on_cost"`
	HoldPeriodMonths    *int                `json:"hold_period_months,omitempty"`
	Details             Details             `json:"details_json,omitempty"`
}

// =============================================================================
// OPEN DETAIL BAG
// =============================================================================

// Scalar is a JSON number, string, bool or null. Objects and arrays are rejected.
type Scalar struct {
	value any
}

func NumberScalar(f float64) Scalar { return Scalar{value: f} }
func StringScalar(s string) Scalar  { return Scalar{value: s} }
func BoolScalar(b bool) Scalar      { return Scalar{value: b} }

// DecimalScalar stores d as a float; detail values are informational.
func DecimalScalar(d decimal.Decimal) Scalar {
	f, _ := d.Float64()
	return Scalar{value: f}
}

// ScalarOf wraps v when it is a scalar JSON value.
func ScalarOf(v any) (Scalar, bool) {
	switch t := v.(type) {
	case nil, string, bool, float64:
		return Scalar{value: t}, true
	case int:
		return Scalar{value: float64(t)}, true
	case int64:
		return Scalar{value: float64(t)}, true
	case float32:
		return Scalar{value: float64(t)}, true
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Scalar{}, false
		}
		return Scalar{value: f}, true
	case decimal.Decimal:
		return DecimalScalar(t), true
	}
	return Scalar{}, false
}

// Value returns the underlying float64, string, bool or nil.
func (s Scalar) Value() any { return s.value }

func (s Scalar) Float64() (float64, bool) {
	f, ok := s.value.(float64)
	return f, ok
}

func (s Scalar) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.value)
}

func (s *Scalar) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	sc, ok := ScalarOf(v)
	if !ok {
		return fmt.Errorf("details value must be a scalar, got %T", v)
	}
	*s = sc
	return nil
}

// Details is the open string -> scalar map persisted as details_json.
type Details map[string]Scalar

// Set stores v under key when v is a scalar and reports whether it did.
func (d Details) Set(key string, v any) bool {
	sc, ok := ScalarOf(v)
	if !ok {
		return false
	}
	d[key] = sc
	return true
}

func (d Details) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
