// Package populate writes a confirmed extraction candidate into the deal
// graph: operators, deal, junction rows, principals and underwriting, all in
// one transaction.
package populate

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"deal_intake/pkg/core/store"
	"deal_intake/pkg/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PlaceholderOperatorName is used when the legacy flow has no operator.
const PlaceholderOperatorName = "Unknown Operator"

var ErrNoOperators = errors.New("at least one operator required")

// Entities named by PopulationError.
const (
	EntityOperator     = "operator"
	EntityDeal         = "deal"
	EntityDealOperator = "deal_operator"
	EntityPrincipal    = "principal"
	EntityUnderwriting = "underwriting"
)

// PopulationError names the entity whose write failed. The transaction has
// been rolled back when it is returned.
type PopulationError struct {
	Entity string
	Err    error
}

func (e *PopulationError) Error() string {
	return fmt.Sprintf("POPULATION_FAILED: %s: %v", e.Entity, e.Err)
}

func (e *PopulationError) Unwrap() error { return e.Err }

func popErr(entity string, err error) error {
	return &PopulationError{Entity: entity, Err: err}
}

type Request struct {
	Candidate *models.ExtractionCandidate
	// OperatorIDs are human-confirmed; the first becomes primary.
	OperatorIDs []uuid.UUID
	// AllowPlaceholderOperator enables the legacy single-operator flow:
	// without OperatorIDs the candidate's operator (or the placeholder) is
	// found or created by exact name.
	AllowPlaceholderOperator bool
	SourceDocumentID         *uuid.UUID
	VersionLabel             string
}

type Result struct {
	OperatorIDs     []uuid.UUID  `json:"operator_ids"`
	DealID          uuid.UUID    `json:"deal_id"`
	DealOperatorIDs []uuid.UUID  `json:"deal_operator_ids"`
	PrincipalIDs    []uuid.UUID  `json:"principal_ids"`
	UnderwritingID  *uuid.UUID   `json:"underwriting_id,omitempty"`
	Deal            *models.Deal `json:"-"`
}

type Populator struct {
	store  store.Store
	logger *zap.Logger
	// randRead is swapped in tests.
	randRead func([]byte) (int, error)
}

func New(s store.Store, logger *zap.Logger) *Populator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Populator{store: s, logger: logger, randRead: rand.Read}
}

// Validate checks a request before anything is written.
func (p *Populator) Validate(req Request) error {
	if req.Candidate == nil {
		return errors.New("no extracted data available")
	}
	if strings.TrimSpace(req.Candidate.Deal.DealName) == "" {
		return popErr(EntityDeal, errors.New("deal_name is required"))
	}
	if len(req.OperatorIDs) == 0 && !req.AllowPlaceholderOperator {
		return ErrNoOperators
	}
	return nil
}

// Populate runs the whole write in its own transaction.
func (p *Populator) Populate(ctx context.Context, req Request) (*Result, error) {
	if err := p.Validate(req); err != nil {
		return nil, err
	}
	var res *Result
	err := p.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		res, err = p.PopulateTx(ctx, tx, req)
		return err
	})
	if err != nil {
		p.logger.Error("auto-population failed", zap.Error(err))
		return nil, err
	}
	return res, nil
}

// PopulateTx performs the writes inside a caller-owned transaction.
func (p *Populator) PopulateTx(ctx context.Context, tx store.Tx, req Request) (*Result, error) {
	if err := p.Validate(req); err != nil {
		return nil, err
	}
	cand := req.Candidate
	res := &Result{}

	needsReview := false
	if len(req.OperatorIDs) > 0 {
		for _, id := range req.OperatorIDs {
			if _, err := tx.GetOperator(ctx, id); err != nil {
				return nil, popErr(EntityOperator, err)
			}
		}
		res.OperatorIDs = append(res.OperatorIDs, req.OperatorIDs...)
	} else {
		var (
			op  *models.Operator
			err error
		)
		if primary := cand.Primary(); primary != nil && strings.TrimSpace(primary.Name) != "" {
			op, err = FindOrCreateOperatorByName(ctx, tx, primary.Name, primary)
		} else {
			op, err = FindOrCreateOperatorByName(ctx, tx, PlaceholderOperatorName, nil)
			needsReview = true
		}
		if err != nil {
			return nil, popErr(EntityOperator, err)
		}
		res.OperatorIDs = []uuid.UUID{op.ID}
	}

	deal, err := p.buildDeal(cand.Deal, res.OperatorIDs[0], needsReview)
	if err != nil {
		return nil, popErr(EntityDeal, err)
	}
	if err := tx.CreateDeal(ctx, deal); err != nil {
		return nil, popErr(EntityDeal, err)
	}
	res.DealID, res.Deal = deal.ID, deal
	p.logger.Info("deal created", zap.String("deal_id", deal.ID.String()), zap.String("code", deal.InternalCode))

	for i, opID := range res.OperatorIDs {
		link := &models.DealOperator{DealID: deal.ID, OperatorID: opID, IsPrimary: i == 0}
		if err := tx.LinkDealOperator(ctx, link); err != nil {
			return nil, popErr(EntityDealOperator, err)
		}
		res.DealOperatorIDs = append(res.DealOperatorIDs, link.ID)
	}

	for _, opID := range res.OperatorIDs {
		for _, pc := range cand.Principals {
			if strings.TrimSpace(pc.FullName) == "" {
				continue
			}
			id, err := upsertPrincipal(ctx, tx, opID, pc)
			if err != nil {
				return nil, popErr(EntityPrincipal, err)
			}
			res.PrincipalIDs = append(res.PrincipalIDs, id)
		}
	}

	uw := buildUnderwriting(deal.ID, cand.Underwriting, req)
	if err := tx.CreateUnderwriting(ctx, uw); err != nil {
		return nil, popErr(EntityUnderwriting, err)
	}
	res.UnderwritingID = &uw.ID

	p.logger.Info("auto-population complete",
		zap.String("deal_id", deal.ID.String()),
		zap.Int("operators", len(res.OperatorIDs)),
		zap.Int("principals", len(res.PrincipalIDs)))
	return res, nil
}

// FindOrCreateOperatorByName matches name exactly. An existing operator only
// has its empty fields filled from fields.
func FindOrCreateOperatorByName(ctx context.Context, tx store.Tx, name string, fields *models.OperatorCandidate) (*models.Operator, error) {
	op, err := tx.FindOperatorByName(ctx, name)
	switch {
	case err == nil:
		if fields != nil && fillOperator(op, fields) {
			if err := tx.UpdateOperator(ctx, op); err != nil {
				return nil, err
			}
		}
		return op, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	op = &models.Operator{Name: name}
	if fields != nil {
		fillOperator(op, fields)
	}
	if err := tx.CreateOperator(ctx, op); err != nil {
		return nil, err
	}
	return op, nil
}

func fillOperator(op *models.Operator, c *models.OperatorCandidate) bool {
	changed := false
	fill := func(dst **string, src *string) {
		if (*dst == nil || **dst == "") && src != nil && *src != "" {
			v := *src
			*dst = &v
			changed = true
		}
	}
	fill(&op.LegalName, c.LegalName)
	fill(&op.WebsiteURL, c.WebsiteURL)
	fill(&op.HQCity, c.HQCity)
	fill(&op.HQState, c.HQState)
	fill(&op.HQCountry, c.HQCountry)
	fill(&op.PrimaryGeographyFocus, c.PrimaryGeographyFocus)
	fill(&op.PrimaryAssetTypeFocus, c.PrimaryAssetTypeFocus)
	fill(&op.Description, c.Description)
	return changed
}

func (p *Populator) buildDeal(c models.DealCandidate, primaryOperator uuid.UUID, needsReview bool) (*models.Deal, error) {
	code := ""
	if c.InternalCode != nil {
		code = strings.TrimSpace(*c.InternalCode)
	}
	if code == "" {
		var err error
		if code, err = p.newDealCode(); err != nil {
			return nil, err
		}
	}
	country := models.DefaultCountry
	if c.Country != nil && strings.TrimSpace(*c.Country) != "" {
		country = *c.Country
	}
	opID := primaryOperator
	return &models.Deal{
		OperatorID:          &opID,
		InternalCode:        code,
		DealName:            strings.TrimSpace(c.DealName),
		Country:             country,
		State:               c.State,
		MSA:                 c.MSA,
		Submarket:           c.Submarket,
		AddressLine1:        c.AddressLine1,
		PostalCode:          c.PostalCode,
		AssetType:           c.AssetType,
		StrategyType:        c.StrategyType,
		NumUnits:            c.NumUnits,
		BuildingSF:          c.BuildingSF,
		YearBuilt:           c.YearBuilt,
		BusinessPlanSummary: c.BusinessPlanSummary,
		HoldPeriodYears:     c.HoldPeriodYears,
		Status:              models.DealStatusReceived,
		OperatorNeedsReview: needsReview,
	}, nil
}

// newDealCode returns DEAL-XXXXXXXX with eight random uppercase hex digits.
func (p *Populator) newDealCode() (string, error) {
	b := make([]byte, 4)
	if _, err := p.randRead(b); err != nil {
		return "", fmt.Errorf("generate deal code: %w", err)
	}
	return "DEAL-" + strings.ToUpper(hex.EncodeToString(b)), nil
}

// upsertPrincipal keys on (operator, full name); non-null incoming fields
// overwrite stored ones.
func upsertPrincipal(ctx context.Context, tx store.Tx, operatorID uuid.UUID, c models.PrincipalCandidate) (uuid.UUID, error) {
	name := strings.TrimSpace(c.FullName)
	existing, err := tx.FindPrincipal(ctx, operatorID, name)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return uuid.Nil, err
	}
	if existing != nil {
		overwrite := func(dst **string, src *string) {
			if src != nil {
				v := *src
				*dst = &v
			}
		}
		overwrite(&existing.Headline, c.Headline)
		overwrite(&existing.LinkedInURL, c.LinkedInURL)
		overwrite(&existing.Email, c.Email)
		overwrite(&existing.Phone, c.Phone)
		overwrite(&existing.Bio, c.Bio)
		overwrite(&existing.BackgroundSummary, c.BackgroundSummary)
		if c.YearsExperience != nil {
			existing.YearsExperience = c.YearsExperience
		}
		if err := tx.UpdatePrincipal(ctx, existing); err != nil {
			return uuid.Nil, err
		}
		return existing.ID, nil
	}

	p := &models.Principal{
		OperatorID:        operatorID,
		FullName:          name,
		Headline:          c.Headline,
		LinkedInURL:       c.LinkedInURL,
		Email:             c.Email,
		Phone:             c.Phone,
		Bio:               c.Bio,
		BackgroundSummary: c.BackgroundSummary,
		YearsExperience:   c.YearsExperience,
	}
	if err := tx.CreatePrincipal(ctx, p); err != nil {
		return uuid.Nil, err
	}
	return p.ID, nil
}

var monthsPerYear = decimal.NewFromInt(12)

func buildUnderwriting(dealID uuid.UUID, c models.UnderwritingCandidate, req Request) *models.Underwriting {
	u := &models.Underwriting{
		DealID:              dealID,
		TotalProjectCost:    c.TotalProjectCost,
		LandCost:            c.LandCost,
		HardCost:            c.HardCost,
		SoftCost:            c.SoftCost,
		LoanAmount:          c.LoanAmount,
		EquityRequired:      c.EquityRequired,
		OurInvestment:       c.OurInvestment,
		InterestRate:        c.InterestRate,
		LTV:                 c.LTV,
		LTC:                 c.LTC,
		DSCRAtStabilization: c.DSCRAtStabilization,
		LeveredIRR:          c.LeveredIRR,
		UnleveredIRR:        c.UnleveredIRR,
		EquityMultiple:      c.EquityMultiple,
		AvgCashOnCash:       c.AvgCashOnCash,
		ExitCapRate:         c.ExitCapRate,
		YieldOnCost:         c.YieldOnCost,
		Details:             models.Details{},
		SourceDocumentID:    req.SourceDocumentID,
		VersionLabel:        req.VersionLabel,
	}
	if c.HoldPeriodMonths != nil {
		years := decimal.NewFromInt(int64(*c.HoldPeriodMonths)).DivRound(monthsPerYear, 4)
		u.ProjectDurationYears = decimal.NewNullDecimal(years)
	}
	for k, v := range c.Details {
		u.Details[k] = v
	}
	return u
}
