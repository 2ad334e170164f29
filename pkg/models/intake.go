package models

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// INTAKE LIFECYCLE
// =============================================================================

// IntakeStatus is the lifecycle state of an inbound item.
type IntakeStatus string

const (
	StatusReceived       IntakeStatus = "received"
	StatusProcessing     IntakeStatus = "processing"
	StatusReadyForReview IntakeStatus = "ready_for_review"
	StatusConfirmed      IntakeStatus = "confirmed"
	StatusRejected       IntakeStatus = "rejected"
	StatusFailed         IntakeStatus = "failed"
)

// transitions lists every legal move. received -> received is the reprocess
// reset and failed -> received is the retry.
var transitions = map[IntakeStatus][]IntakeStatus{
	StatusReceived:       {StatusReceived, StatusProcessing, StatusRejected},
	StatusProcessing:     {StatusReadyForReview, StatusFailed, StatusRejected},
	StatusReadyForReview: {StatusConfirmed, StatusRejected},
	StatusFailed:         {StatusReceived, StatusRejected},
}

// CanTransition reports whether an item may move from s to next.
func (s IntakeStatus) CanTransition(next IntakeStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s IntakeStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

// Valid reports whether s is a known status.
func (s IntakeStatus) Valid() bool {
	switch s {
	case StatusReceived, StatusProcessing, StatusReadyForReview, StatusConfirmed, StatusRejected, StatusFailed:
		return true
	}
	return false
}

// ParsingStatus is the per-attachment parse state.
type ParsingStatus string

const (
	ParsingPending   ParsingStatus = "pending"
	ParsingCompleted ParsingStatus = "completed"
	ParsingFailed    ParsingStatus = "failed"
)

// =============================================================================
// INTAKE ITEM
// =============================================================================

// IntakeItem is a raw inbound item (a forwarded email) awaiting human-confirmed
// conversion into a deal.
type IntakeItem struct {
	ID             uuid.UUID    `json:"id"`
	OrganizationID string       `json:"organization_id"`
	Status         IntakeStatus `json:"status"`

	FromAddress string            `json:"from_address"`
	FromName    string            `json:"from_name,omitempty"`
	ToAddresses []string          `json:"to_addresses"`
	CcAddresses []string          `json:"cc_addresses"`
	Subject     string            `json:"subject"`
	BodyText    string            `json:"body_text"`
	BodyHTML    string            `json:"body_html,omitempty"`
	EmailDate   *time.Time        `json:"email_date,omitempty"`
	MessageID   string            `json:"message_id,omitempty"`
	InReplyTo   string            `json:"in_reply_to,omitempty"`
	RawHeaders  map[string]string `json:"raw_headers,omitempty"`

	ExtractedData   *ExtractionCandidate `json:"extracted_data,omitempty"`
	OperatorMatches []OperatorMatch      `json:"operator_matches,omitempty"`
	ErrorMessage    string               `json:"error_message,omitempty"`
	DealID          *uuid.UUID           `json:"deal_id,omitempty"`

	// PendingAttachments counts attachments still in ParsingPending. It is
	// decremented in the same transaction that finishes an attachment.
	PendingAttachments int `json:"pending_attachments"`

	Attachments []Attachment `json:"attachments,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// StatusView is the poll payload exposed to callers.
type StatusView struct {
	ID            uuid.UUID            `json:"id"`
	Status        IntakeStatus         `json:"status"`
	ErrorMessage  string               `json:"error_message,omitempty"`
	ExtractedData *ExtractionCandidate `json:"extracted_data,omitempty"`
}

func (i *IntakeItem) StatusView() StatusView {
	return StatusView{ID: i.ID, Status: i.Status, ErrorMessage: i.ErrorMessage, ExtractedData: i.ExtractedData}
}

// OperatorMatch is a suggestion list for one extracted operator name. Matches
// are never merged automatically.
type OperatorMatch struct {
	ExtractedName string               `json:"extracted_name"`
	IsPrimary     bool                 `json:"is_primary"`
	Matches       []OperatorMatchEntry `json:"matches"`
}

type OperatorMatchEntry struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	LegalName *string   `json:"legal_name"`
	HQCity    *string   `json:"hq_city"`
	HQState   *string   `json:"hq_state"`
}

// =============================================================================
// ATTACHMENT
// =============================================================================

const (
	ContentTypePDF  = "application/pdf"
	ContentTypeXLS  = "application/vnd.ms-excel"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// MinAttachmentSize is the smallest attachment kept on receipt; anything
// smaller is a signature image or an empty part.
const MinAttachmentSize = 100

// Attachment belongs to exactly one IntakeItem and is deleted with it.
type Attachment struct {
	ID            uuid.UUID     `json:"id"`
	IntakeItemID  uuid.UUID     `json:"pending_email_id"`
	FileName      string        `json:"file_name"`
	ContentType   string        `json:"content_type"`
	FileSize      int64         `json:"file_size"`
	StorageURL    string        `json:"storage_url"`
	ParsingStatus ParsingStatus `json:"parsing_status"`
	ParsedText    string        `json:"parsed_text,omitempty"`
	ParsingError  string        `json:"parsing_error,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// IsParseable reports whether the attachment contributes text through a parser.
func (a Attachment) IsParseable() bool {
	switch baseContentType(a.ContentType) {
	case ContentTypePDF, ContentTypeXLS, ContentTypeXLSX:
		return true
	}
	return false
}

// IsSpreadsheet reports whether the attachment is a workbook.
func (a Attachment) IsSpreadsheet() bool {
	switch baseContentType(a.ContentType) {
	case ContentTypeXLS, ContentTypeXLSX:
		return true
	}
	switch strings.ToLower(filepath.Ext(a.FileName)) {
	case ".xls", ".xlsx", ".xlsm":
		return true
	}
	return false
}

func (a Attachment) IsImage() bool {
	return strings.HasPrefix(baseContentType(a.ContentType), "image/")
}

// DocumentType maps an attachment onto the deal document taxonomy.
func (a Attachment) DocumentType() DocumentType {
	switch {
	case baseContentType(a.ContentType) == ContentTypePDF:
		return DocOfferMemo
	case a.IsSpreadsheet():
		return DocFinancialModel
	}
	return DocAttachment
}

func baseContentType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}
