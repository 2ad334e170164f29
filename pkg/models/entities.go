package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Operator is a sponsor / investment-management company. Name is unique.
type Operator struct {
	ID                    uuid.UUID `json:"id"`
	Name                  string    `json:"name"`
	LegalName             *string   `json:"legal_name,omitempty"`
	WebsiteURL            *string   `json:"website_url,omitempty"`
	HQCity                *string   `json:"hq_city,omitempty"`
	HQState               *string   `json:"hq_state,omitempty"`
	HQCountry             *string   `json:"hq_country,omitempty"`
	PrimaryGeographyFocus *string   `json:"primary_geography_focus,omitempty"`
	PrimaryAssetTypeFocus *string   `json:"primary_asset_type_focus,omitempty"`
	Description           *string   `json:"description,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

const (
	DealStatusInbox    = "inbox"
	DealStatusReceived = "received"
	DefaultCountry     = "USA"
)

// Deal is one investment opportunity.
type Deal struct {
	ID                  uuid.UUID  `json:"id"`
	OperatorID          *uuid.UUID `json:"operator_id,omitempty"`
	InternalCode        string     `json:"internal_code"`
	DealName            string     `json:"deal_name"`
	Country             string     `json:"country"`
	State               *string    `json:"state,omitempty"`
	MSA                 *string    `json:"msa,omitempty"`
	Submarket           *string    `json:"submarket,omitempty"`
	AddressLine1        *string    `json:"address_line1,omitempty"`
	PostalCode          *string    `json:"postal_code,omitempty"`
	Latitude            *float64   `json:"latitude,omitempty"`
	Longitude           *float64   `json:"longitude,omitempty"`
	GeocodedAt          *time.Time `json:"geocoded_at,omitempty"`
	MSASource           *string    `json:"msa_source,omitempty"`
	AssetType           *string    `json:"asset_type,omitempty"`
	StrategyType        *string    `json:"strategy_type,omitempty"`
	NumUnits            *int       `json:"num_units,omitempty"`
	BuildingSF          *int       `json:"building_sf,omitempty"`
	YearBuilt           *int       `json:"year_built,omitempty"`
	BusinessPlanSummary *string    `json:"business_plan_summary,omitempty"`
	HoldPeriodYears     *float64   `json:"hold_period_years,omitempty"`
	Status              string     `json:"status"`
	OperatorNeedsReview bool       `json:"operator_needs_review"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// GeocodeAddress is the one-line address sent to the geocoder, or "" when
// the deal has no street address.
func (d *Deal) GeocodeAddress() string {
	if d.AddressLine1 == nil || *d.AddressLine1 == "" {
		return ""
	}
	addr := *d.AddressLine1
	if d.State != nil && *d.State != "" {
		addr += ", " + *d.State
	}
	if d.PostalCode != nil && *d.PostalCode != "" {
		addr += " " + *d.PostalCode
	}
	return addr
}

// GeoPoint is a geocoder answer written back to a deal.
type GeoPoint struct {
	Latitude  float64
	Longitude float64
	MSA       string
	Source    string
	At        time.Time
}

// DealOperator links a deal to an operator. Exactly one link per deal is primary.
type DealOperator struct {
	ID         uuid.UUID `json:"id"`
	DealID     uuid.UUID `json:"deal_id"`
	OperatorID uuid.UUID `json:"operator_id"`
	IsPrimary  bool      `json:"is_primary"`
	CreatedAt  time.Time `json:"created_at"`
}

// Principal is an individual at an operator, unique on (operator, full name).
type Principal struct {
	ID                uuid.UUID `json:"id"`
	OperatorID        uuid.UUID `json:"operator_id"`
	FullName          string    `json:"full_name"`
	Headline          *string   `json:"headline,omitempty"`
	LinkedInURL       *string   `json:"linkedin_url,omitempty"`
	Email             *string   `json:"email,omitempty"`
	Phone             *string   `json:"phone,omitempty"`
	Bio               *string   `json:"bio,omitempty"`
	BackgroundSummary *string   `json:"background_summary,omitempty"`
	YearsExperience   *int      `json:"years_experience,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Underwriting is the financial record attached 1:1 to a deal.
type Underwriting struct {
	ID                   uuid.UUID           `json:"id"`
	DealID               uuid.UUID           `json:"deal_id"`
	TotalProjectCost     decimal.NullDecimal `json:"total_project_cost"`
	LandCost             decimal.NullDecimal `json:"land_cost"`
	HardCost             decimal.NullDecimal `json:"hard_cost"`
	SoftCost             decimal.NullDecimal `json:"soft_cost"`
	LoanAmount           decimal.NullDecimal `json:"loan_amount"`
	EquityRequired       decimal.NullDecimal `json:"equity_required"`
	OurInvestment        decimal.NullDecimal `json:"our_investment"`
	InterestRate         decimal.NullDecimal `json:"interest_rate"`
	LTV                  decimal.NullDecimal `json:"ltv"`
	LTC                  decimal.NullDecimal `json:"ltc"`
	DSCRAtStabilization  decimal.NullDecimal `json:"dscr_at_stabilization"`
	LeveredIRR           decimal.NullDecimal `json:"levered_irr"`
	UnleveredIRR         decimal.NullDecimal `json:"unlevered_irr"`
	EquityMultiple       decimal.NullDecimal `json:"equity_multiple"`
	AvgCashOnCash        decimal.NullDecimal `json:"avg_cash_on_cash"`
	ProjectDurationYears decimal.NullDecimal `json:"project_duration_years"`
	ExitCapRate          decimal.NullDecimal `json:"exit_cap_rate"`
	YieldOnCost          decimal.NullDecimal `json:"yield_on_cost"`
	Details              Details             `json:"details_json"`
	SourceDocumentID     *uuid.UUID          `json:"source_document_id,omitempty"`
	VersionLabel         string              `json:"version_label"`
	CreatedAt            time.Time           `json:"created_at"`
}

// DocumentType classifies a deal document.
type DocumentType string

const (
	DocOfferMemo      DocumentType = "offer_memo"
	DocFinancialModel DocumentType = "financial_model"
	DocEmail          DocumentType = "email"
	DocTranscript     DocumentType = "transcript"
	DocAttachment     DocumentType = "attachment"
	DocOther          DocumentType = "other"
)

// DealDocument is a file or message stored against a deal.
type DealDocument struct {
	ID            uuid.UUID      `json:"id"`
	DealID        uuid.UUID      `json:"deal_id"`
	DocumentType  DocumentType   `json:"document_type"`
	FileName      string         `json:"file_name"`
	FileURL       string         `json:"file_url"`
	FileSize      int64          `json:"file_size"`
	ParsedText    string         `json:"parsed_text,omitempty"`
	ParsingStatus ParsingStatus  `json:"parsing_status"`
	ParsingError  string         `json:"parsing_error,omitempty"`
	Metadata      map[string]any `json:"metadata_json,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}
