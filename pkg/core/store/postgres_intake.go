package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"deal_intake/pkg/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const itemColumns = `
	id, organization_id, status, from_address, from_name, to_addresses, cc_addresses,
	subject, body_text, body_html, email_date, message_id, in_reply_to, raw_headers,
	extracted_data, operator_matches, error_message, deal_id, pending_attachments,
	created_at, updated_at, processed_at`

const attachmentColumns = `
	id, pending_email_id, file_name, content_type, file_size, storage_url,
	parsing_status, parsed_text, parsing_error, created_at`

func scanItem(row pgx.Row) (*models.IntakeItem, error) {
	var (
		item                                       models.IntakeItem
		status                                     string
		fromName, bodyHTML, msgID, replyTo, errMsg *string
		headers, extracted, matches                []byte
	)
	err := row.Scan(
		&item.ID, &item.OrganizationID, &status, &item.FromAddress, &fromName,
		&item.ToAddresses, &item.CcAddresses, &item.Subject, &item.BodyText, &bodyHTML,
		&item.EmailDate, &msgID, &replyTo, &headers, &extracted, &matches, &errMsg,
		&item.DealID, &item.PendingAttachments, &item.CreatedAt, &item.UpdatedAt, &item.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	item.Status = models.IntakeStatus(status)
	item.FromName = derefString(fromName)
	item.BodyHTML = derefString(bodyHTML)
	item.MessageID = derefString(msgID)
	item.InReplyTo = derefString(replyTo)
	item.ErrorMessage = derefString(errMsg)
	if err := unmarshalJSON(headers, &item.RawHeaders); err != nil {
		return nil, err
	}
	if len(extracted) > 0 && string(extracted) != "null" {
		item.ExtractedData = &models.ExtractionCandidate{}
		if err := unmarshalJSON(extracted, item.ExtractedData); err != nil {
			return nil, err
		}
	}
	if err := unmarshalJSON(matches, &item.OperatorMatches); err != nil {
		return nil, err
	}
	return &item, nil
}

func scanAttachment(row pgx.Row) (models.Attachment, error) {
	var (
		a             models.Attachment
		status        string
		text, perrMsg *string
	)
	err := row.Scan(&a.ID, &a.IntakeItemID, &a.FileName, &a.ContentType, &a.FileSize,
		&a.StorageURL, &status, &text, &perrMsg, &a.CreatedAt)
	if err != nil {
		return a, err
	}
	a.ParsingStatus = models.ParsingStatus(status)
	a.ParsedText = derefString(text)
	a.ParsingError = derefString(perrMsg)
	return a, nil
}

func (r *pgRepos) CreateIntakeItem(ctx context.Context, item *models.IntakeItem) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.Status == "" {
		item.Status = models.StatusReceived
	}
	headers, err := marshalJSON(item.RawHeaders)
	if err != nil {
		return err
	}
	to, cc := item.ToAddresses, item.CcAddresses
	if to == nil {
		to = []string{}
	}
	if cc == nil {
		cc = []string{}
	}

	query := `
		INSERT INTO pending_emails (
			id, organization_id, status, from_address, from_name, to_addresses, cc_addresses,
			subject, body_text, body_html, email_date, message_id, in_reply_to, raw_headers,
			pending_attachments
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at, updated_at
	`
	err = r.q.QueryRow(ctx, query,
		item.ID, item.OrganizationID, string(item.Status), item.FromAddress, nullString(item.FromName),
		to, cc, item.Subject, item.BodyText, nullString(item.BodyHTML), item.EmailDate,
		nullString(item.MessageID), nullString(item.InReplyTo), headers, item.PendingAttachments,
	).Scan(&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert intake item: %w", mapPgError(err))
	}

	attQuery := `
		INSERT INTO pending_email_attachments (
			id, pending_email_id, file_name, content_type, file_size, storage_url,
			parsing_status, parsed_text, parsing_error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`
	for i := range item.Attachments {
		a := &item.Attachments[i]
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		a.IntakeItemID = item.ID
		err := r.q.QueryRow(ctx, attQuery,
			a.ID, a.IntakeItemID, a.FileName, a.ContentType, a.FileSize, a.StorageURL,
			string(a.ParsingStatus), nullString(a.ParsedText), nullString(a.ParsingError),
		).Scan(&a.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert attachment %s: %w", a.FileName, mapPgError(err))
		}
	}
	return nil
}

func (r *pgRepos) GetIntakeItem(ctx context.Context, id uuid.UUID) (*models.IntakeItem, error) {
	item, err := scanItem(r.q.QueryRow(ctx, `SELECT `+itemColumns+` FROM pending_emails WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("intake item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get intake item: %w", err)
	}
	if item.Attachments, err = r.listAttachments(ctx, id); err != nil {
		return nil, err
	}
	return item, nil
}

func (r *pgRepos) listAttachments(ctx context.Context, itemID uuid.UUID) ([]models.Attachment, error) {
	rows, err := r.q.Query(ctx, `SELECT `+attachmentColumns+`
		FROM pending_email_attachments WHERE pending_email_id = $1
		ORDER BY created_at, file_name`, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attachments: %w", err)
	}
	defer rows.Close()

	var out []models.Attachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *pgRepos) ListIntakeItems(ctx context.Context, f ListFilter) ([]models.IntakeItem, int, error) {
	var (
		where []string
		args  []any
	)
	if f.OrganizationID != "" {
		args = append(args, f.OrganizationID)
		where = append(where, "organization_id = $"+strconv.Itoa(len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, "status = $"+strconv.Itoa(len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM pending_emails`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count intake items: %w", err)
	}

	query := `SELECT ` + itemColumns + ` FROM pending_emails` + clause + ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += " OFFSET $" + strconv.Itoa(len(args))
	}
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list intake items: %w", err)
	}
	defer rows.Close()

	items := []models.IntakeItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan intake item: %w", err)
		}
		items = append(items, *item)
	}
	return items, total, rows.Err()
}

func (r *pgRepos) CountIntakeItems(ctx context.Context, orgID string) (map[models.IntakeStatus]int, error) {
	rows, err := r.q.Query(ctx, `
		SELECT status, COUNT(*) FROM pending_emails
		WHERE $1 = '' OR organization_id = $1
		GROUP BY status`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to count intake items: %w", err)
	}
	defer rows.Close()

	out := map[models.IntakeStatus]int{}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[models.IntakeStatus(status)] = n
	}
	return out, rows.Err()
}

// TransitionIntakeItem is a single guarded UPDATE; zero rows means the guard
// failed and the current row decides between ErrNotFound and ErrStaleState.
func (r *pgRepos) TransitionIntakeItem(ctx context.Context, id uuid.UUID, t Transition) (*models.IntakeItem, error) {
	from := make([]string, len(t.From))
	for i, s := range t.From {
		from[i] = string(s)
	}
	args := []any{id, string(t.To), from}
	set := []string{"status = $2", "updated_at = NOW()"}
	add := func(col string, v any) {
		args = append(args, v)
		set = append(set, col+" = $"+strconv.Itoa(len(args)))
	}

	if t.ErrorMessage != nil {
		add("error_message", nullString(*t.ErrorMessage))
	}
	if t.ClearExtractedData {
		set = append(set, "extracted_data = NULL", "operator_matches = NULL")
	}
	if t.ExtractedData != nil {
		b, err := marshalJSON(t.ExtractedData)
		if err != nil {
			return nil, err
		}
		add("extracted_data", b)
	}
	if t.OperatorMatches != nil {
		b, err := marshalJSON(t.OperatorMatches)
		if err != nil {
			return nil, err
		}
		add("operator_matches", b)
	}
	if t.DealID != nil {
		add("deal_id", *t.DealID)
	}
	if t.ProcessedAt != nil {
		add("processed_at", *t.ProcessedAt)
	}

	guard := "id = $1 AND status = ANY($3)"
	if t.RequireNoPending {
		guard += " AND pending_attachments = 0"
	}
	query := `UPDATE pending_emails SET ` + strings.Join(set, ", ") + ` WHERE ` + guard + ` RETURNING ` + itemColumns

	item, err := scanItem(r.q.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		var current string
		lookup := r.q.QueryRow(ctx, `SELECT status FROM pending_emails WHERE id = $1`, id).Scan(&current)
		if errors.Is(lookup, pgx.ErrNoRows) {
			return nil, fmt.Errorf("intake item %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("intake item %s is %s: %w", id, current, ErrStaleState)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to transition intake item: %w", mapPgError(err))
	}
	if item.Attachments, err = r.listAttachments(ctx, id); err != nil {
		return nil, err
	}
	return item, nil
}

// CompleteAttachment finishes the attachment and decrements its item's
// counter in one statement.
func (r *pgRepos) CompleteAttachment(ctx context.Context, attachmentID uuid.UUID, status models.ParsingStatus, text, parseErr string) (AttachmentResult, error) {
	query := `
		WITH att AS (
			UPDATE pending_email_attachments
			SET parsing_status = $2, parsed_text = $3, parsing_error = $4
			WHERE id = $1 AND parsing_status = 'pending'
			RETURNING pending_email_id
		)
		UPDATE pending_emails e
		SET pending_attachments = GREATEST(e.pending_attachments - 1, 0), updated_at = NOW()
		FROM att
		WHERE e.id = att.pending_email_id
		RETURNING e.id, e.pending_attachments
	`
	var res AttachmentResult
	err := r.q.QueryRow(ctx, query, attachmentID, string(status), nullString(text), nullString(parseErr)).
		Scan(&res.ItemID, &res.Remaining)
	if err == nil {
		res.Applied = true
		return res, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return res, fmt.Errorf("failed to complete attachment: %w", err)
	}

	err = r.q.QueryRow(ctx, `
		SELECT a.pending_email_id, e.pending_attachments
		FROM pending_email_attachments a JOIN pending_emails e ON e.id = a.pending_email_id
		WHERE a.id = $1`, attachmentID).Scan(&res.ItemID, &res.Remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return res, fmt.Errorf("attachment %s: %w", attachmentID, ErrNotFound)
	}
	if err != nil {
		return res, fmt.Errorf("failed to look up attachment: %w", err)
	}
	return res, nil
}

func (r *pgRepos) ListStuckIntakeItems(ctx context.Context, status models.IntakeStatus, updatedBefore time.Time) ([]uuid.UUID, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id FROM pending_emails WHERE status = $1 AND updated_at < $2`,
		string(status), updatedBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to list stuck items: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
