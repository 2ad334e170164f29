// Package intake drives inbound items from receipt to a confirmed deal:
// attachment parsing, the fan-in barrier, AI extraction, human review and
// population.
package intake

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"deal_intake/pkg/core/extract"
	"deal_intake/pkg/core/geocode"
	"deal_intake/pkg/core/inbound"
	"deal_intake/pkg/core/llm"
	"deal_intake/pkg/core/parser"
	"deal_intake/pkg/core/populate"
	"deal_intake/pkg/core/storage"
	"deal_intake/pkg/core/store"
	"deal_intake/pkg/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrInvalidTransition means the item is not in a state that allows the
	// requested operation.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInvalidConfirm is a confirm request rejected before any write.
	ErrInvalidConfirm = errors.New("invalid confirm request")
)

const (
	geocodeTimeout = 10 * time.Second
	// emailDocNameChars bounds the subject part of an email document name.
	emailDocNameChars = 50
	// maxImages caps the pages sent on the vision path.
	maxImages = 10
)

// Parser turns a stored file into text.
type Parser interface {
	Parse(ctx context.Context, path string, declared models.DocumentType) (*parser.Result, error)
}

// Extractor turns text or images into a candidate.
type Extractor interface {
	Extract(ctx context.Context, in extract.Input) (*models.ExtractionCandidate, error)
}

// Geocoder resolves a one-line address.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*geocode.Result, error)
}

// Deps are the collaborators of a Service. Geocoder may be nil.
type Deps struct {
	Store     store.Store
	Storage   storage.Store
	Parser    Parser
	Extractor Extractor
	Populator *populate.Populator
	Geocoder  Geocoder
	Runner    *Runner
	Metrics   *Metrics
	Logger    *zap.Logger
}

type Service struct {
	store     store.Store
	storage   storage.Store
	parser    Parser
	extractor Extractor
	populator *populate.Populator
	geocoder  Geocoder
	runner    *Runner
	metrics   *Metrics
	logger    *zap.Logger
	now       func() time.Time
}

func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Metrics == nil {
		d.Metrics = NewMetrics(nil)
	}
	if d.Runner == nil {
		d.Runner = NewRunner(4, 5*time.Minute, d.Logger)
	}
	if d.Populator == nil {
		d.Populator = populate.New(d.Store, d.Logger)
	}
	return &Service{
		store:     d.Store,
		storage:   d.Storage,
		parser:    d.Parser,
		extractor: d.Extractor,
		populator: d.Populator,
		geocoder:  d.Geocoder,
		runner:    d.Runner,
		metrics:   d.Metrics,
		logger:    d.Logger,
		now:       time.Now,
	}
}

// ConfirmRequest is the reviewer's decision. Either DealID (link to an
// existing deal) or at least one operator id (create a new deal) is required.
type ConfirmRequest struct {
	OperatorIDs []uuid.UUID `json:"operator_ids"`
	DealID      *uuid.UUID  `json:"deal_id,omitempty"`
	// ExtractedData replaces the staged candidate when the reviewer edited it.
	ExtractedData *models.ExtractionCandidate `json:"extracted_data,omitempty"`
}

type ConfirmResult struct {
	Item        *models.IntakeItem `json:"pending_email"`
	DealID      uuid.UUID          `json:"deal_id"`
	OperatorIDs []uuid.UUID        `json:"operator_ids"`
	DocumentIDs []uuid.UUID        `json:"document_ids"`
	Population  *populate.Result   `json:"population,omitempty"`
}

// RouteResult says where an inbound email went: a new intake item, or a
// document on an existing deal.
type RouteResult struct {
	Item           *models.IntakeItem   `json:"pending_email,omitempty"`
	OrganizationID string               `json:"organization_id,omitempty"`
	Deal           *models.Deal         `json:"deal,omitempty"`
	DealDocument   *models.DealDocument `json:"deal_document,omitempty"`
}

// =============================================================================
// RECEIPT
// =============================================================================

// RouteInbound is the webhook entry point. An org +tag on a To address wins;
// otherwise a deal code in the subject that names an existing deal files the
// email on that deal; anything else lands in the default organization.
func (s *Service) RouteInbound(ctx context.Context, email *inbound.Email) (*RouteResult, error) {
	if org, ok := email.OrganizationOf(); ok {
		item, err := s.Receive(ctx, email, org)
		if err != nil {
			return nil, err
		}
		return &RouteResult{Item: item, OrganizationID: org}, nil
	}

	if code, ok := inbound.DealCodeFromSubject(email.Subject); ok {
		deal, err := s.store.FindDealByCode(ctx, code)
		switch {
		case err == nil:
			doc := emailDocument(deal.ID, email, email.FormatAsText())
			if err := s.store.CreateDealDocument(ctx, doc); err != nil {
				return nil, fmt.Errorf("failed to store email on deal %s: %w", deal.InternalCode, err)
			}
			s.logger.Info("email linked to existing deal",
				zap.String("deal_id", deal.ID.String()),
				zap.String("deal_code", deal.InternalCode))
			return &RouteResult{Deal: deal, DealDocument: doc}, nil
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
	}

	s.logger.Warn("no organization id in email address, using default", zap.Strings("to", email.To))
	item, err := s.Receive(ctx, email, inbound.DefaultOrganization)
	if err != nil {
		return nil, err
	}
	return &RouteResult{Item: item, OrganizationID: inbound.DefaultOrganization}, nil
}

// Receive stores the attachments, creates the item and schedules parsing.
// Attachments under models.MinAttachmentSize are dropped. An item without
// parseable attachments is claimed for extraction immediately.
func (s *Service) Receive(ctx context.Context, email *inbound.Email, orgID string) (*models.IntakeItem, error) {
	item := &models.IntakeItem{
		OrganizationID: orgID,
		Status:         models.StatusReceived,
		FromAddress:    email.FromAddress,
		FromName:       email.FromName,
		ToAddresses:    email.To,
		CcAddresses:    email.Cc,
		Subject:        email.Subject,
		BodyText:       email.BodyText,
		BodyHTML:       email.BodyHTML,
		EmailDate:      email.Date,
		MessageID:      email.MessageID,
		InReplyTo:      email.InReplyTo,
		RawHeaders:     email.RawHeaders,
	}

	for _, a := range email.Attachments {
		if a.Size() < models.MinAttachmentSize {
			continue
		}
		url, err := s.storage.Save(ctx, a.FileName, bytes.NewReader(a.Content))
		if err != nil {
			return nil, fmt.Errorf("failed to store attachment %q: %w", a.FileName, err)
		}
		att := models.Attachment{
			FileName:      a.FileName,
			ContentType:   a.ContentType,
			FileSize:      a.Size(),
			StorageURL:    url,
			ParsingStatus: models.ParsingCompleted,
		}
		if att.IsParseable() {
			att.ParsingStatus = models.ParsingPending
			item.PendingAttachments++
		}
		item.Attachments = append(item.Attachments, att)
		s.logger.Info("saved attachment", zap.String("file_name", a.FileName), zap.Int64("size", a.Size()))
	}

	if err := s.store.CreateIntakeItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to create intake item: %w", err)
	}
	s.metrics.ItemsReceived.Inc()
	s.logger.Info("intake item created",
		zap.String("item_id", item.ID.String()),
		zap.String("organization_id", orgID),
		zap.Int("attachments", len(item.Attachments)),
		zap.Int("pending", item.PendingAttachments))

	for _, att := range item.Attachments {
		if att.ParsingStatus != models.ParsingPending {
			continue
		}
		s.runner.Go("parse "+att.ID.String(), func(ctx context.Context) error {
			return s.ParseAttachment(ctx, att)
		})
	}
	if item.PendingAttachments == 0 {
		if err := s.claim(ctx, item.ID); err != nil {
			return nil, err
		}
	}
	return item, nil
}

// =============================================================================
// PARSING AND FAN-IN
// =============================================================================

// ParseAttachment parses one stored attachment and reports it through
// CompleteAttachment. Parse failures are recorded on the attachment, not
// returned.
func (s *Service) ParseAttachment(ctx context.Context, att models.Attachment) error {
	var text, parseErr string
	path, err := s.storage.Path(att.StorageURL)
	if err == nil {
		var res *parser.Result
		res, err = s.parser.Parse(ctx, path, att.DocumentType())
		if err == nil {
			text = res.Text
		}
	}
	if err != nil {
		parseErr = err.Error()
		s.logger.Warn("attachment parse failed",
			zap.String("attachment_id", att.ID.String()),
			zap.String("file_name", att.FileName),
			zap.Error(err))
	}
	return s.CompleteAttachment(ctx, att.ID, text, parseErr)
}

// CompleteAttachment finishes a pending attachment and, when it was the last
// one, moves the item to processing and schedules extraction. Exactly one
// caller per item wins the claim no matter how completions interleave; a
// repeated completion is a no-op.
func (s *Service) CompleteAttachment(ctx context.Context, attachmentID uuid.UUID, text, parseErr string) error {
	status := models.ParsingCompleted
	if parseErr != "" {
		status = models.ParsingFailed
	}

	var itemID uuid.UUID
	claimed := false
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		res, err := tx.CompleteAttachment(ctx, attachmentID, status, text, parseErr)
		if err != nil {
			return err
		}
		itemID = res.ItemID
		if !res.Applied || res.Remaining > 0 {
			return nil
		}
		_, err = tx.TransitionIntakeItem(ctx, res.ItemID, claimTransition)
		if errors.Is(err, store.ErrStaleState) {
			return nil
		}
		if err != nil {
			return err
		}
		claimed = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to complete attachment %s: %w", attachmentID, err)
	}
	s.metrics.AttachmentsParsed.WithLabelValues(string(status)).Inc()
	if claimed {
		s.scheduleExtraction(itemID)
	}
	return nil
}

var claimTransition = store.Transition{
	From:             []models.IntakeStatus{models.StatusReceived},
	To:               models.StatusProcessing,
	RequireNoPending: true,
}

// claim moves a received item with no pending attachments to processing and
// schedules extraction. Losing the race is not an error.
func (s *Service) claim(ctx context.Context, id uuid.UUID) error {
	_, err := s.store.TransitionIntakeItem(ctx, id, claimTransition)
	if errors.Is(err, store.ErrStaleState) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to claim item %s: %w", id, err)
	}
	s.scheduleExtraction(id)
	return nil
}

func (s *Service) scheduleExtraction(id uuid.UUID) {
	s.runner.Go("extract "+id.String(), func(ctx context.Context) error {
		return s.RunExtraction(ctx, id)
	})
}

// =============================================================================
// EXTRACTION
// =============================================================================

// RunExtraction assembles the item's text and images, calls the extractor and
// stages the candidate for review. Failures are written to the item.
func (s *Service) RunExtraction(ctx context.Context, id uuid.UUID) error {
	start := s.now()
	item, err := s.store.GetIntakeItem(ctx, id)
	if err != nil {
		return err
	}
	if item.Status != models.StatusProcessing {
		return fmt.Errorf("%w: extraction requires %s, item is %s", ErrInvalidTransition, models.StatusProcessing, item.Status)
	}

	text := ExtractionText(item)
	images := s.loadImages(ctx, item)
	if strings.TrimSpace(text) == "" && len(images) == 0 {
		return s.fail(ctx, id, "No content available for extraction")
	}

	s.logger.Info("starting extraction",
		zap.String("item_id", id.String()),
		zap.Int("text_chars", len(text)),
		zap.Int("images", len(images)))

	cand, err := s.extractor.Extract(ctx, extract.Input{Text: text, Images: images})
	s.metrics.ExtractionDuration.Observe(s.now().Sub(start).Seconds())
	if err != nil {
		s.metrics.Extractions.WithLabelValues("failed").Inc()
		return s.fail(ctx, id, "AI extraction failed: "+err.Error())
	}

	matches, err := s.OperatorMatches(ctx, cand)
	if err != nil {
		s.logger.Warn("operator match lookup failed", zap.String("item_id", id.String()), zap.Error(err))
	}

	cleared := ""
	processed := s.now().UTC()
	_, err = s.store.TransitionIntakeItem(ctx, id, store.Transition{
		From:            []models.IntakeStatus{models.StatusProcessing},
		To:              models.StatusReadyForReview,
		ExtractedData:   cand,
		OperatorMatches: matches,
		ErrorMessage:    &cleared,
		ProcessedAt:     &processed,
	})
	if err != nil {
		s.metrics.Extractions.WithLabelValues("failed").Inc()
		return fmt.Errorf("failed to stage extraction for %s: %w", id, err)
	}
	s.metrics.Extractions.WithLabelValues("success").Inc()
	s.logger.Info("extraction staged for review",
		zap.String("item_id", id.String()),
		zap.String("deal_name", cand.Deal.DealName),
		zap.Int("operators", len(cand.Operators)))
	return nil
}

// fail moves a processing item to failed. The error message is persisted,
// so the task itself reports success.
func (s *Service) fail(ctx context.Context, id uuid.UUID, msg string) error {
	processed := s.now().UTC()
	_, err := s.store.TransitionIntakeItem(ctx, id, store.Transition{
		From:         []models.IntakeStatus{models.StatusProcessing},
		To:           models.StatusFailed,
		ErrorMessage: &msg,
		ProcessedAt:  &processed,
	})
	if err != nil {
		return fmt.Errorf("failed to record failure for %s: %w", id, err)
	}
	s.logger.Warn("extraction failed", zap.String("item_id", id.String()), zap.String("error", msg))
	return nil
}

// ExtractionText is the extractor input for an item: subject, sender, body,
// then each completed attachment's text under a header.
func ExtractionText(item *models.IntakeItem) string {
	lines := []string{
		"Email Subject: " + item.Subject,
		fmt.Sprintf("From: %s <%s>", item.FromName, item.FromAddress),
	}
	if item.BodyText != "" {
		lines = append(lines, "", item.BodyText)
	}
	var b strings.Builder
	b.WriteString(strings.Join(lines, "\n"))
	for _, att := range item.Attachments {
		if att.ParsingStatus != models.ParsingCompleted || att.ParsedText == "" {
			continue
		}
		b.WriteString("\n\n--- Attachment: ")
		b.WriteString(att.FileName)
		b.WriteString(" ---\n")
		b.WriteString(att.ParsedText)
	}
	return b.String()
}

func (s *Service) loadImages(ctx context.Context, item *models.IntakeItem) []llm.Image {
	var images []llm.Image
	for _, att := range item.Attachments {
		if !att.IsImage() || len(images) >= maxImages {
			continue
		}
		data, err := s.readStored(ctx, att.StorageURL)
		if err != nil {
			s.logger.Warn("image attachment unreadable",
				zap.String("attachment_id", att.ID.String()), zap.Error(err))
			continue
		}
		mime := att.ContentType
		if i := strings.IndexByte(mime, ';'); i >= 0 {
			mime = mime[:i]
		}
		images = append(images, llm.Image{Data: data, MIMEType: strings.TrimSpace(mime), Name: att.FileName})
	}
	return images
}

func (s *Service) readStored(ctx context.Context, url string) ([]byte, error) {
	rc, err := s.storage.Open(ctx, url)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// =============================================================================
// REVIEW
// =============================================================================

// Confirm turns a ready_for_review item into a deal, or files it on an
// existing one. Request validation happens before any write; population
// failures roll back every write including the item transition.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID, req ConfirmRequest) (*ConfirmResult, error) {
	item, err := s.store.GetIntakeItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if !item.Status.CanTransition(models.StatusConfirmed) {
		return nil, fmt.Errorf("%w: cannot confirm email with status: %s", ErrInvalidTransition, item.Status)
	}
	if req.DealID == nil && len(req.OperatorIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one operator required when creating a new deal", ErrInvalidConfirm)
	}

	cand := item.ExtractedData
	if req.ExtractedData != nil {
		cand = req.ExtractedData
	}
	popReq := populate.Request{Candidate: cand, OperatorIDs: req.OperatorIDs}
	if req.DealID == nil {
		if cand == nil {
			return nil, fmt.Errorf("%w: no extracted data available", ErrInvalidConfirm)
		}
		if err := s.populator.Validate(popReq); err != nil {
			return nil, err
		}
	}

	res := &ConfirmResult{OperatorIDs: req.OperatorIDs}
	var created *models.Deal
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		var deal *models.Deal
		if req.DealID != nil {
			d, err := tx.GetDeal(ctx, *req.DealID)
			if err != nil {
				return fmt.Errorf("deal %s: %w", *req.DealID, err)
			}
			deal = d
		} else {
			pop, err := s.populator.PopulateTx(ctx, tx, popReq)
			if err != nil {
				return err
			}
			res.Population = pop
			res.OperatorIDs = pop.OperatorIDs
			deal = pop.Deal
			created = deal
		}
		res.DealID = deal.ID

		docs := []*models.DealDocument{emailDocument(deal.ID, emailOf(item), item.BodyText)}
		for _, att := range item.Attachments {
			docs = append(docs, attachmentDocument(deal.ID, item.ID, att))
		}
		for _, doc := range docs {
			if err := tx.CreateDealDocument(ctx, doc); err != nil {
				return fmt.Errorf("failed to create document %q: %w", doc.FileName, err)
			}
			res.DocumentIDs = append(res.DocumentIDs, doc.ID)
		}

		updated, err := tx.TransitionIntakeItem(ctx, id, store.Transition{
			From:          []models.IntakeStatus{models.StatusReadyForReview},
			To:            models.StatusConfirmed,
			DealID:        &deal.ID,
			ExtractedData: req.ExtractedData,
		})
		if errors.Is(err, store.ErrStaleState) {
			return fmt.Errorf("%w: item changed state during confirm", ErrInvalidTransition)
		}
		if err != nil {
			return err
		}
		res.Item = updated
		return nil
	})
	if err != nil {
		s.metrics.Confirmations.WithLabelValues("failed").Inc()
		s.logger.Error("confirm failed", zap.String("item_id", id.String()), zap.Error(err))
		return nil, err
	}
	s.metrics.Confirmations.WithLabelValues("success").Inc()
	s.logger.Info("intake item confirmed",
		zap.String("item_id", id.String()),
		zap.String("deal_id", res.DealID.String()),
		zap.Int("documents", len(res.DocumentIDs)))

	if created != nil {
		s.geocodeLater(created)
	}
	return res, nil
}

// geocodeLater resolves a new deal's address after commit. Failures are
// logged and leave the deal untouched.
func (s *Service) geocodeLater(deal *models.Deal) {
	addr := deal.GeocodeAddress()
	if s.geocoder == nil || addr == "" {
		return
	}
	dealID := deal.ID
	s.runner.Go("geocode "+dealID.String(), func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, geocodeTimeout)
		defer cancel()
		r, err := s.geocoder.Geocode(ctx, addr)
		if err != nil {
			s.logger.Warn("geocoding failed", zap.String("deal_id", dealID.String()), zap.Error(err))
			return nil
		}
		return s.store.UpdateDealGeocode(ctx, dealID, models.GeoPoint{
			Latitude:  r.Lat,
			Longitude: r.Lon,
			MSA:       r.MSA,
			Source:    geocode.SourceCensus,
			At:        s.now().UTC(),
		})
	})
}

// Reject closes an item that has not been confirmed. Deleting an item is a
// rejection.
func (s *Service) Reject(ctx context.Context, id uuid.UUID) (*models.IntakeItem, error) {
	item, err := s.transition(ctx, id, store.Transition{
		From: []models.IntakeStatus{
			models.StatusReceived,
			models.StatusProcessing,
			models.StatusReadyForReview,
			models.StatusFailed,
		},
		To: models.StatusRejected,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("intake item rejected", zap.String("item_id", id.String()))
	return item, nil
}

// Reprocess clears a failed or received item's results and reruns extraction
// over the already parsed attachments.
func (s *Service) Reprocess(ctx context.Context, id uuid.UUID) (*models.IntakeItem, error) {
	cleared := ""
	item, err := s.transition(ctx, id, store.Transition{
		From:               []models.IntakeStatus{models.StatusFailed, models.StatusReceived},
		To:                 models.StatusReceived,
		ErrorMessage:       &cleared,
		ClearExtractedData: true,
	})
	if err != nil {
		return nil, err
	}
	if err := s.claim(ctx, id); err != nil {
		return nil, err
	}
	s.logger.Info("intake item queued for reprocessing", zap.String("item_id", id.String()))
	return item, nil
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, t store.Transition) (*models.IntakeItem, error) {
	item, err := s.store.TransitionIntakeItem(ctx, id, t)
	if errors.Is(err, store.ErrStaleState) {
		current, gerr := s.store.GetIntakeItem(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		return nil, fmt.Errorf("%w: cannot move item from %s to %s", ErrInvalidTransition, current.Status, t.To)
	}
	return item, err
}

// =============================================================================
// READS
// =============================================================================

// Get returns the item with its attachments.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.IntakeItem, error) {
	return s.store.GetIntakeItem(ctx, id)
}

func (s *Service) List(ctx context.Context, f store.ListFilter) ([]models.IntakeItem, int, error) {
	return s.store.ListIntakeItems(ctx, f)
}

func (s *Service) Count(ctx context.Context, orgID string) (map[models.IntakeStatus]int, error) {
	return s.store.CountIntakeItems(ctx, orgID)
}

// =============================================================================
// DOCUMENTS
// =============================================================================

func emailDocument(dealID uuid.UUID, email *inbound.Email, text string) *models.DealDocument {
	return &models.DealDocument{
		DealID:        dealID,
		DocumentType:  models.DocEmail,
		FileName:      "Email: " + truncateRunes(email.Subject, emailDocNameChars),
		FileSize:      int64(len(text)),
		ParsedText:    text,
		ParsingStatus: models.ParsingCompleted,
		Metadata:      email.Metadata(),
	}
}

func attachmentDocument(dealID, itemID uuid.UUID, att models.Attachment) *models.DealDocument {
	return &models.DealDocument{
		DealID:        dealID,
		DocumentType:  att.DocumentType(),
		FileName:      att.FileName,
		FileURL:       att.StorageURL,
		FileSize:      att.FileSize,
		ParsedText:    att.ParsedText,
		ParsingStatus: att.ParsingStatus,
		ParsingError:  att.ParsingError,
		Metadata: map[string]any{
			"source":           "pending_email_attachment",
			"pending_email_id": itemID.String(),
			"content_type":     att.ContentType,
		},
	}
}

// emailOf rebuilds the message view of a stored item. Attachment content is
// not loaded.
func emailOf(item *models.IntakeItem) *inbound.Email {
	e := &inbound.Email{
		FromAddress: item.FromAddress,
		FromName:    item.FromName,
		To:          item.ToAddresses,
		Cc:          item.CcAddresses,
		Subject:     item.Subject,
		BodyText:    item.BodyText,
		BodyHTML:    item.BodyHTML,
		Date:        item.EmailDate,
		MessageID:   item.MessageID,
		InReplyTo:   item.InReplyTo,
		RawHeaders:  item.RawHeaders,
	}
	for _, att := range item.Attachments {
		e.Attachments = append(e.Attachments, inbound.Attachment{FileName: att.FileName, ContentType: att.ContentType})
	}
	return e
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
