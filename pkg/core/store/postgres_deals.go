package store

import (
	"context"
	"errors"
	"fmt"

	"deal_intake/pkg/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// operators
// ---------------------------------------------------------------------------

const operatorColumns = `
	id, name, legal_name, website_url, hq_city, hq_state, hq_country,
	primary_geography_focus, primary_asset_type_focus, description, created_at, updated_at`

func scanOperator(row pgx.Row) (*models.Operator, error) {
	var op models.Operator
	err := row.Scan(&op.ID, &op.Name, &op.LegalName, &op.WebsiteURL, &op.HQCity, &op.HQState,
		&op.HQCountry, &op.PrimaryGeographyFocus, &op.PrimaryAssetTypeFocus, &op.Description,
		&op.CreatedAt, &op.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &op, nil
}

func (r *pgRepos) getOperator(ctx context.Context, what string, query string, args ...any) (*models.Operator, error) {
	op, err := scanOperator(r.q.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("operator %s: %w", what, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get operator: %w", err)
	}
	return op, nil
}

func (r *pgRepos) GetOperator(ctx context.Context, id uuid.UUID) (*models.Operator, error) {
	return r.getOperator(ctx, id.String(), `SELECT `+operatorColumns+` FROM operators WHERE id = $1`, id)
}

func (r *pgRepos) FindOperatorByName(ctx context.Context, name string) (*models.Operator, error) {
	return r.getOperator(ctx, fmt.Sprintf("%q", name), `SELECT `+operatorColumns+` FROM operators WHERE name = $1`, name)
}

func (r *pgRepos) SearchOperatorsByName(ctx context.Context, fragment string, limit int) ([]models.Operator, error) {
	rows, err := r.q.Query(ctx, `SELECT `+operatorColumns+` FROM operators
		WHERE name ILIKE '%' || $1 || '%' ORDER BY name LIMIT $2`, fragment, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search operators: %w", err)
	}
	defer rows.Close()

	var out []models.Operator
	for rows.Next() {
		op, err := scanOperator(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operator: %w", err)
		}
		out = append(out, *op)
	}
	return out, rows.Err()
}

func (r *pgRepos) CreateOperator(ctx context.Context, op *models.Operator) error {
	if op.ID == uuid.Nil {
		op.ID = uuid.New()
	}
	query := `
		INSERT INTO operators (
			id, name, legal_name, website_url, hq_city, hq_state, hq_country,
			primary_geography_focus, primary_asset_type_focus, description
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`
	err := r.q.QueryRow(ctx, query, op.ID, op.Name, op.LegalName, op.WebsiteURL, op.HQCity,
		op.HQState, op.HQCountry, op.PrimaryGeographyFocus, op.PrimaryAssetTypeFocus, op.Description,
	).Scan(&op.CreatedAt, &op.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert operator %q: %w", op.Name, mapPgError(err))
	}
	return nil
}

func (r *pgRepos) UpdateOperator(ctx context.Context, op *models.Operator) error {
	query := `
		UPDATE operators SET
			name = $2, legal_name = $3, website_url = $4, hq_city = $5, hq_state = $6,
			hq_country = $7, primary_geography_focus = $8, primary_asset_type_focus = $9,
			description = $10, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err := r.q.QueryRow(ctx, query, op.ID, op.Name, op.LegalName, op.WebsiteURL, op.HQCity,
		op.HQState, op.HQCountry, op.PrimaryGeographyFocus, op.PrimaryAssetTypeFocus, op.Description,
	).Scan(&op.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("operator %s: %w", op.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update operator: %w", mapPgError(err))
	}
	return nil
}

// ---------------------------------------------------------------------------
// deals
// ---------------------------------------------------------------------------

const dealColumns = `
	id, operator_id, internal_code, deal_name, country, state, msa, submarket,
	address_line1, postal_code, latitude, longitude, geocoded_at, msa_source,
	asset_type, strategy_type, num_units, building_sf, year_built,
	business_plan_summary, hold_period_years, status, operator_needs_review,
	created_at, updated_at`

func scanDeal(row pgx.Row) (*models.Deal, error) {
	var d models.Deal
	err := row.Scan(&d.ID, &d.OperatorID, &d.InternalCode, &d.DealName, &d.Country, &d.State,
		&d.MSA, &d.Submarket, &d.AddressLine1, &d.PostalCode, &d.Latitude, &d.Longitude,
		&d.GeocodedAt, &d.MSASource, &d.AssetType, &d.StrategyType, &d.NumUnits, &d.BuildingSF,
		&d.YearBuilt, &d.BusinessPlanSummary, &d.HoldPeriodYears, &d.Status,
		&d.OperatorNeedsReview, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *pgRepos) CreateDeal(ctx context.Context, d *models.Deal) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	query := `
		INSERT INTO deals (
			id, operator_id, internal_code, deal_name, country, state, msa, submarket,
			address_line1, postal_code, asset_type, strategy_type, num_units, building_sf,
			year_built, business_plan_summary, hold_period_years, status, operator_needs_review
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING created_at, updated_at
	`
	err := r.q.QueryRow(ctx, query, d.ID, d.OperatorID, d.InternalCode, d.DealName, d.Country,
		d.State, d.MSA, d.Submarket, d.AddressLine1, d.PostalCode, d.AssetType, d.StrategyType,
		d.NumUnits, d.BuildingSF, d.YearBuilt, d.BusinessPlanSummary, d.HoldPeriodYears,
		d.Status, d.OperatorNeedsReview,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert deal: %w", mapPgError(err))
	}
	return nil
}

func (r *pgRepos) getDeal(ctx context.Context, what, query string, arg any) (*models.Deal, error) {
	d, err := scanDeal(r.q.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("deal %s: %w", what, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deal: %w", err)
	}
	return d, nil
}

func (r *pgRepos) GetDeal(ctx context.Context, id uuid.UUID) (*models.Deal, error) {
	return r.getDeal(ctx, id.String(), `SELECT `+dealColumns+` FROM deals WHERE id = $1`, id)
}

func (r *pgRepos) FindDealByCode(ctx context.Context, code string) (*models.Deal, error) {
	return r.getDeal(ctx, fmt.Sprintf("code %q", code),
		`SELECT `+dealColumns+` FROM deals WHERE UPPER(internal_code) = UPPER($1) ORDER BY created_at LIMIT 1`, code)
}

func (r *pgRepos) UpdateDealGeocode(ctx context.Context, id uuid.UUID, p models.GeoPoint) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE deals SET
			latitude = $2, longitude = $3, geocoded_at = $4,
			msa = COALESCE($5, msa), msa_source = COALESCE($6, msa_source), updated_at = NOW()
		WHERE id = $1`,
		id, p.Latitude, p.Longitude, p.At, nullString(p.MSA), nullString(p.Source))
	if err != nil {
		return fmt.Errorf("failed to update deal geocode: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("deal %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *pgRepos) LinkDealOperator(ctx context.Context, link *models.DealOperator) error {
	if link.ID == uuid.Nil {
		link.ID = uuid.New()
	}
	err := r.q.QueryRow(ctx, `
		INSERT INTO deal_operators (id, deal_id, operator_id, is_primary)
		VALUES ($1, $2, $3, $4) RETURNING created_at`,
		link.ID, link.DealID, link.OperatorID, link.IsPrimary,
	).Scan(&link.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to link deal operator: %w", mapPgError(err))
	}
	return nil
}

func (r *pgRepos) ListDealOperators(ctx context.Context, dealID uuid.UUID) ([]models.DealOperator, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, deal_id, operator_id, is_primary, created_at FROM deal_operators
		WHERE deal_id = $1 ORDER BY is_primary DESC, created_at`, dealID)
	if err != nil {
		return nil, fmt.Errorf("failed to list deal operators: %w", err)
	}
	defer rows.Close()

	var out []models.DealOperator
	for rows.Next() {
		var l models.DealOperator
		if err := rows.Scan(&l.ID, &l.DealID, &l.OperatorID, &l.IsPrimary, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// principals
// ---------------------------------------------------------------------------

const principalColumns = `
	id, operator_id, full_name, headline, linkedin_url, email, phone, bio,
	background_summary, years_experience, created_at, updated_at`

func (r *pgRepos) FindPrincipal(ctx context.Context, operatorID uuid.UUID, fullName string) (*models.Principal, error) {
	var p models.Principal
	err := r.q.QueryRow(ctx, `SELECT `+principalColumns+` FROM principals
		WHERE operator_id = $1 AND full_name = $2`, operatorID, fullName,
	).Scan(&p.ID, &p.OperatorID, &p.FullName, &p.Headline, &p.LinkedInURL, &p.Email, &p.Phone,
		&p.Bio, &p.BackgroundSummary, &p.YearsExperience, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("principal %q: %w", fullName, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get principal: %w", err)
	}
	return &p, nil
}

func (r *pgRepos) CreatePrincipal(ctx context.Context, p *models.Principal) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := r.q.QueryRow(ctx, `
		INSERT INTO principals (
			id, operator_id, full_name, headline, linkedin_url, email, phone, bio,
			background_summary, years_experience
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		p.ID, p.OperatorID, p.FullName, p.Headline, p.LinkedInURL, p.Email, p.Phone, p.Bio,
		p.BackgroundSummary, p.YearsExperience,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert principal %q: %w", p.FullName, mapPgError(err))
	}
	return nil
}

func (r *pgRepos) UpdatePrincipal(ctx context.Context, p *models.Principal) error {
	err := r.q.QueryRow(ctx, `
		UPDATE principals SET
			headline = $2, linkedin_url = $3, email = $4, phone = $5, bio = $6,
			background_summary = $7, years_experience = $8, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.Headline, p.LinkedInURL, p.Email, p.Phone, p.Bio, p.BackgroundSummary, p.YearsExperience,
	).Scan(&p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("principal %s: %w", p.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update principal: %w", mapPgError(err))
	}
	return nil
}

// ---------------------------------------------------------------------------
// underwriting
// ---------------------------------------------------------------------------

func (r *pgRepos) CreateUnderwriting(ctx context.Context, u *models.Underwriting) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	details := u.Details
	if details == nil {
		details = models.Details{}
	}
	detailsJSON, err := marshalJSON(details)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO deal_underwriting (
			id, deal_id, total_project_cost, land_cost, hard_cost, soft_cost, loan_amount,
			equity_required, our_investment, interest_rate, ltv, ltc, dscr_at_stabilization,
			levered_irr, unlevered_irr, equity_multiple, avg_cash_on_cash, project_duration_years,
			exit_cap_rate, yield_on_cost, details_json, source_document_id, version_label
		) VALUES (
			$1, $2, $3::numeric, $4::numeric, $5::numeric, $6::numeric, $7::numeric,
			$8::numeric, $9::numeric, $10::numeric, $11::numeric, $12::numeric, $13::numeric,
			$14::numeric, $15::numeric, $16::numeric, $17::numeric, $18::numeric,
			$19::numeric, $20::numeric, $21, $22, $23
		)
		RETURNING created_at
	`
	err = r.q.QueryRow(ctx, query, u.ID, u.DealID,
		decArg(u.TotalProjectCost), decArg(u.LandCost), decArg(u.HardCost), decArg(u.SoftCost),
		decArg(u.LoanAmount), decArg(u.EquityRequired), decArg(u.OurInvestment),
		decArg(u.InterestRate), decArg(u.LTV), decArg(u.LTC), decArg(u.DSCRAtStabilization),
		decArg(u.LeveredIRR), decArg(u.UnleveredIRR), decArg(u.EquityMultiple),
		decArg(u.AvgCashOnCash), decArg(u.ProjectDurationYears), decArg(u.ExitCapRate),
		decArg(u.YieldOnCost), detailsJSON, u.SourceDocumentID, u.VersionLabel,
	).Scan(&u.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert underwriting: %w", mapPgError(err))
	}
	return nil
}

func (r *pgRepos) GetUnderwritingByDeal(ctx context.Context, dealID uuid.UUID) (*models.Underwriting, error) {
	var (
		u       models.Underwriting
		nums    [18]*string
		details []byte
	)
	dests := []any{&u.ID, &u.DealID}
	for i := range nums {
		dests = append(dests, &nums[i])
	}
	dests = append(dests, &details, &u.SourceDocumentID, &u.VersionLabel, &u.CreatedAt)

	err := r.q.QueryRow(ctx, `
		SELECT id, deal_id,
			total_project_cost::text, land_cost::text, hard_cost::text, soft_cost::text,
			loan_amount::text, equity_required::text, our_investment::text, interest_rate::text,
			ltv::text, ltc::text, dscr_at_stabilization::text, levered_irr::text,
			unlevered_irr::text, equity_multiple::text, avg_cash_on_cash::text,
			project_duration_years::text, exit_cap_rate::text, yield_on_cost::text,
			details_json, source_document_id, version_label, created_at
		FROM deal_underwriting WHERE deal_id = $1`, dealID).Scan(dests...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("underwriting for deal %s: %w", dealID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get underwriting: %w", err)
	}

	fields := []*decimal.NullDecimal{
		&u.TotalProjectCost, &u.LandCost, &u.HardCost, &u.SoftCost,
		&u.LoanAmount, &u.EquityRequired, &u.OurInvestment, &u.InterestRate,
		&u.LTV, &u.LTC, &u.DSCRAtStabilization, &u.LeveredIRR,
		&u.UnleveredIRR, &u.EquityMultiple, &u.AvgCashOnCash,
		&u.ProjectDurationYears, &u.ExitCapRate, &u.YieldOnCost,
	}
	for i, dst := range fields {
		if *dst, err = decScan(nums[i]); err != nil {
			return nil, err
		}
	}
	if err := unmarshalJSON(details, &u.Details); err != nil {
		return nil, err
	}
	return &u, nil
}

// ---------------------------------------------------------------------------
// documents
// ---------------------------------------------------------------------------

func (r *pgRepos) CreateDealDocument(ctx context.Context, doc *models.DealDocument) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	meta, err := marshalJSON(doc.Metadata)
	if err != nil {
		return err
	}
	err = r.q.QueryRow(ctx, `
		INSERT INTO deal_documents (
			id, deal_id, document_type, file_name, file_url, file_size, parsed_text,
			parsing_status, parsing_error, metadata_json
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`,
		doc.ID, doc.DealID, string(doc.DocumentType), doc.FileName, doc.FileURL, doc.FileSize,
		nullString(doc.ParsedText), string(doc.ParsingStatus), nullString(doc.ParsingError), meta,
	).Scan(&doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert deal document: %w", mapPgError(err))
	}
	return nil
}

func (r *pgRepos) ListDealDocuments(ctx context.Context, dealID uuid.UUID) ([]models.DealDocument, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, deal_id, document_type, file_name, file_url, file_size, parsed_text,
			parsing_status, parsing_error, metadata_json, created_at
		FROM deal_documents WHERE deal_id = $1 ORDER BY created_at, file_name`, dealID)
	if err != nil {
		return nil, fmt.Errorf("failed to list deal documents: %w", err)
	}
	defer rows.Close()

	var out []models.DealDocument
	for rows.Next() {
		var (
			d               models.DealDocument
			docType, status string
			text, parseErr  *string
			meta            []byte
		)
		if err := rows.Scan(&d.ID, &d.DealID, &docType, &d.FileName, &d.FileURL, &d.FileSize,
			&text, &status, &parseErr, &meta, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.DocumentType = models.DocumentType(docType)
		d.ParsingStatus = models.ParsingStatus(status)
		d.ParsedText = derefString(text)
		d.ParsingError = derefString(parseErr)
		if err := unmarshalJSON(meta, &d.Metadata); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
