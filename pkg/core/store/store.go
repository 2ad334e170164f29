// Package store persists intake items, attachments and the deal graph.
//
// Two implementations share the Store interface: Postgres (pgx) for
// production and Memory for tests and local runs. Every state transition is a
// single conditional write, so callers never read-modify-write an item.
package store

import (
	"context"
	"errors"
	"time"

	"deal_intake/pkg/models"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is a uniqueness violation.
	ErrConflict = errors.New("conflict")
	// ErrStaleState means a conditional transition found the row in another state.
	ErrStaleState = errors.New("stale state")
)

// Transition is a compare-and-set on an intake item's status. Only non-nil
// fields are written.
type Transition struct {
	From []models.IntakeStatus
	To   models.IntakeStatus
	// RequireNoPending adds "pending_attachments = 0" to the guard.
	RequireNoPending bool

	ErrorMessage       *string
	ExtractedData      *models.ExtractionCandidate
	ClearExtractedData bool
	OperatorMatches    []models.OperatorMatch
	DealID             *uuid.UUID
	ProcessedAt        *time.Time
}

// AttachmentResult reports the effect of CompleteAttachment.
type AttachmentResult struct {
	ItemID uuid.UUID
	// Applied is false when the attachment had already left pending.
	Applied   bool
	Remaining int
}

// ListFilter selects intake items. Zero values mean "any".
type ListFilter struct {
	OrganizationID string
	Status         models.IntakeStatus
	Limit          int
	Offset         int
}

// IntakeRepo stores intake items and their attachments.
type IntakeRepo interface {
	// CreateIntakeItem inserts the item and its attachments, assigning ids
	// and timestamps in place.
	CreateIntakeItem(ctx context.Context, item *models.IntakeItem) error
	GetIntakeItem(ctx context.Context, id uuid.UUID) (*models.IntakeItem, error)
	ListIntakeItems(ctx context.Context, f ListFilter) ([]models.IntakeItem, int, error)
	CountIntakeItems(ctx context.Context, orgID string) (map[models.IntakeStatus]int, error)
	TransitionIntakeItem(ctx context.Context, id uuid.UUID, t Transition) (*models.IntakeItem, error)
	// CompleteAttachment moves a pending attachment to status and decrements
	// the owning item's pending counter.
	CompleteAttachment(ctx context.Context, attachmentID uuid.UUID, status models.ParsingStatus, text, parseErr string) (AttachmentResult, error)
	ListStuckIntakeItems(ctx context.Context, status models.IntakeStatus, updatedBefore time.Time) ([]uuid.UUID, error)
}

// DealRepo stores operators, deals and everything hanging off a deal.
type DealRepo interface {
	GetOperator(ctx context.Context, id uuid.UUID) (*models.Operator, error)
	FindOperatorByName(ctx context.Context, name string) (*models.Operator, error)
	SearchOperatorsByName(ctx context.Context, fragment string, limit int) ([]models.Operator, error)
	CreateOperator(ctx context.Context, op *models.Operator) error
	UpdateOperator(ctx context.Context, op *models.Operator) error

	CreateDeal(ctx context.Context, d *models.Deal) error
	GetDeal(ctx context.Context, id uuid.UUID) (*models.Deal, error)
	FindDealByCode(ctx context.Context, code string) (*models.Deal, error)
	UpdateDealGeocode(ctx context.Context, id uuid.UUID, p models.GeoPoint) error

	LinkDealOperator(ctx context.Context, link *models.DealOperator) error
	ListDealOperators(ctx context.Context, dealID uuid.UUID) ([]models.DealOperator, error)

	FindPrincipal(ctx context.Context, operatorID uuid.UUID, fullName string) (*models.Principal, error)
	CreatePrincipal(ctx context.Context, p *models.Principal) error
	UpdatePrincipal(ctx context.Context, p *models.Principal) error

	CreateUnderwriting(ctx context.Context, u *models.Underwriting) error
	GetUnderwritingByDeal(ctx context.Context, dealID uuid.UUID) (*models.Underwriting, error)

	CreateDealDocument(ctx context.Context, doc *models.DealDocument) error
	ListDealDocuments(ctx context.Context, dealID uuid.UUID) ([]models.DealDocument, error)
}

// Tx is the repository view inside a transaction.
type Tx interface {
	IntakeRepo
	DealRepo
}

// Store is a Tx outside a transaction plus the ability to open one.
type Store interface {
	Tx
	// WithTx runs fn in a transaction. A non-nil error from fn rolls back
	// every write fn made.
	WithTx(ctx context.Context, fn func(Tx) error) error
	Close()
}

// allowed reports whether status is one of from.
func allowed(status models.IntakeStatus, from []models.IntakeStatus) bool {
	for _, s := range from {
		if s == status {
			return true
		}
	}
	return false
}
