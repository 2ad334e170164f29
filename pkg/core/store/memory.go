package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"deal_intake/pkg/models"

	"github.com/google/uuid"
)

// Memory is a Store held in process memory. One mutex serializes every call;
// WithTx runs against a copy that replaces the live state only on success.
type Memory struct {
	mu  sync.Mutex
	st  *memState
	now func() time.Time
}

type memState struct {
	items       map[uuid.UUID]models.IntakeItem
	attachments map[uuid.UUID]models.Attachment
	operators   map[uuid.UUID]models.Operator
	deals       map[uuid.UUID]models.Deal
	dealOps     map[uuid.UUID]models.DealOperator
	principals  map[uuid.UUID]models.Principal
	uw          map[uuid.UUID]models.Underwriting
	docs        map[uuid.UUID]models.DealDocument
}

func NewMemory() *Memory {
	return &Memory{st: newMemState(), now: func() time.Time { return time.Now().UTC() }}
}

func newMemState() *memState {
	return &memState{
		items:       map[uuid.UUID]models.IntakeItem{},
		attachments: map[uuid.UUID]models.Attachment{},
		operators:   map[uuid.UUID]models.Operator{},
		deals:       map[uuid.UUID]models.Deal{},
		dealOps:     map[uuid.UUID]models.DealOperator{},
		principals:  map[uuid.UUID]models.Principal{},
		uw:          map[uuid.UUID]models.Underwriting{},
		docs:        map[uuid.UUID]models.DealDocument{},
	}
}

func cloneMap[V any](m map[uuid.UUID]V) map[uuid.UUID]V {
	out := make(map[uuid.UUID]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *memState) clone() *memState {
	return &memState{
		items:       cloneMap(s.items),
		attachments: cloneMap(s.attachments),
		operators:   cloneMap(s.operators),
		deals:       cloneMap(s.deals),
		dealOps:     cloneMap(s.dealOps),
		principals:  cloneMap(s.principals),
		uw:          cloneMap(s.uw),
		docs:        cloneMap(s.docs),
	}
}

func (m *Memory) WithTx(ctx context.Context, fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	work := m.st.clone()
	if err := fn(&memTx{st: work, now: m.now}); err != nil {
		return err
	}
	m.st = work
	return nil
}

func (m *Memory) Close() {}

// run executes fn against the live state under the lock.
func (m *Memory) run(fn func(*memTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&memTx{st: m.st, now: m.now})
}

// memTx implements Tx over a memState without locking; its owner holds the lock.
type memTx struct {
	st  *memState
	now func() time.Time
}

// ---------------------------------------------------------------------------
// intake items
// ---------------------------------------------------------------------------

func (t *memTx) CreateIntakeItem(ctx context.Context, item *models.IntakeItem) error {
	now := t.now()
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if _, exists := t.st.items[item.ID]; exists {
		return fmt.Errorf("intake item %s: %w", item.ID, ErrConflict)
	}
	if item.Status == "" {
		item.Status = models.StatusReceived
	}
	item.CreatedAt, item.UpdatedAt = now, now
	for i := range item.Attachments {
		a := &item.Attachments[i]
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		a.IntakeItemID = item.ID
		a.CreatedAt = now
		t.st.attachments[a.ID] = *a
	}
	stored := *item
	stored.Attachments = nil
	t.st.items[item.ID] = stored
	return nil
}

func (t *memTx) GetIntakeItem(ctx context.Context, id uuid.UUID) (*models.IntakeItem, error) {
	item, ok := t.st.items[id]
	if !ok {
		return nil, fmt.Errorf("intake item %s: %w", id, ErrNotFound)
	}
	item.Attachments = t.attachmentsOf(id)
	return &item, nil
}

func (t *memTx) attachmentsOf(itemID uuid.UUID) []models.Attachment {
	var out []models.Attachment
	for _, a := range t.st.attachments {
		if a.IntakeItemID == itemID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].FileName < out[j].FileName
	})
	return out
}

func (t *memTx) ListIntakeItems(ctx context.Context, f ListFilter) ([]models.IntakeItem, int, error) {
	var matched []models.IntakeItem
	for _, item := range t.st.items {
		if f.OrganizationID != "" && item.OrganizationID != f.OrganizationID {
			continue
		}
		if f.Status != "" && item.Status != f.Status {
			continue
		}
		matched = append(matched, item)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := len(matched)
	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return []models.IntakeItem{}, total, nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}

func (t *memTx) CountIntakeItems(ctx context.Context, orgID string) (map[models.IntakeStatus]int, error) {
	out := map[models.IntakeStatus]int{}
	for _, item := range t.st.items {
		if orgID != "" && item.OrganizationID != orgID {
			continue
		}
		out[item.Status]++
	}
	return out, nil
}

func (t *memTx) TransitionIntakeItem(ctx context.Context, id uuid.UUID, tr Transition) (*models.IntakeItem, error) {
	item, ok := t.st.items[id]
	if !ok {
		return nil, fmt.Errorf("intake item %s: %w", id, ErrNotFound)
	}
	if !allowed(item.Status, tr.From) || (tr.RequireNoPending && item.PendingAttachments != 0) {
		return nil, fmt.Errorf("intake item %s is %s: %w", id, item.Status, ErrStaleState)
	}

	item.Status = tr.To
	if tr.ErrorMessage != nil {
		item.ErrorMessage = *tr.ErrorMessage
	}
	if tr.ClearExtractedData {
		item.ExtractedData = nil
		item.OperatorMatches = nil
	}
	if tr.ExtractedData != nil {
		item.ExtractedData = tr.ExtractedData
	}
	if tr.OperatorMatches != nil {
		item.OperatorMatches = tr.OperatorMatches
	}
	if tr.DealID != nil {
		item.DealID = tr.DealID
	}
	if tr.ProcessedAt != nil {
		item.ProcessedAt = tr.ProcessedAt
	}
	item.UpdatedAt = t.now()
	t.st.items[id] = item

	item.Attachments = t.attachmentsOf(id)
	return &item, nil
}

func (t *memTx) CompleteAttachment(ctx context.Context, attachmentID uuid.UUID, status models.ParsingStatus, text, parseErr string) (AttachmentResult, error) {
	a, ok := t.st.attachments[attachmentID]
	if !ok {
		return AttachmentResult{}, fmt.Errorf("attachment %s: %w", attachmentID, ErrNotFound)
	}
	item := t.st.items[a.IntakeItemID]
	res := AttachmentResult{ItemID: a.IntakeItemID, Remaining: item.PendingAttachments}
	if a.ParsingStatus != models.ParsingPending {
		return res, nil
	}

	a.ParsingStatus = status
	a.ParsedText = text
	a.ParsingError = parseErr
	t.st.attachments[attachmentID] = a

	if item.PendingAttachments > 0 {
		item.PendingAttachments--
	}
	item.UpdatedAt = t.now()
	t.st.items[item.ID] = item

	res.Applied = true
	res.Remaining = item.PendingAttachments
	return res, nil
}

func (t *memTx) ListStuckIntakeItems(ctx context.Context, status models.IntakeStatus, updatedBefore time.Time) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for id, item := range t.st.items {
		if item.Status == status && item.UpdatedAt.Before(updatedBefore) {
			out = append(out, id)
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// operators
// ---------------------------------------------------------------------------

func (t *memTx) GetOperator(ctx context.Context, id uuid.UUID) (*models.Operator, error) {
	op, ok := t.st.operators[id]
	if !ok {
		return nil, fmt.Errorf("operator %s: %w", id, ErrNotFound)
	}
	return &op, nil
}

func (t *memTx) FindOperatorByName(ctx context.Context, name string) (*models.Operator, error) {
	for _, op := range t.st.operators {
		if op.Name == name {
			return &op, nil
		}
	}
	return nil, fmt.Errorf("operator %q: %w", name, ErrNotFound)
}

func (t *memTx) SearchOperatorsByName(ctx context.Context, fragment string, limit int) ([]models.Operator, error) {
	needle := strings.ToLower(fragment)
	var out []models.Operator
	for _, op := range t.st.operators {
		if strings.Contains(strings.ToLower(op.Name), needle) {
			out = append(out, op)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *memTx) CreateOperator(ctx context.Context, op *models.Operator) error {
	for _, existing := range t.st.operators {
		if existing.Name == op.Name {
			return fmt.Errorf("operator %q: %w", op.Name, ErrConflict)
		}
	}
	if op.ID == uuid.Nil {
		op.ID = uuid.New()
	}
	now := t.now()
	op.CreatedAt, op.UpdatedAt = now, now
	t.st.operators[op.ID] = *op
	return nil
}

func (t *memTx) UpdateOperator(ctx context.Context, op *models.Operator) error {
	if _, ok := t.st.operators[op.ID]; !ok {
		return fmt.Errorf("operator %s: %w", op.ID, ErrNotFound)
	}
	op.UpdatedAt = t.now()
	t.st.operators[op.ID] = *op
	return nil
}

// ---------------------------------------------------------------------------
// deals
// ---------------------------------------------------------------------------

func (t *memTx) CreateDeal(ctx context.Context, d *models.Deal) error {
	if d.OperatorID != nil {
		if _, ok := t.st.operators[*d.OperatorID]; !ok {
			return fmt.Errorf("deal operator %s: %w", *d.OperatorID, ErrNotFound)
		}
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	now := t.now()
	d.CreatedAt, d.UpdatedAt = now, now
	t.st.deals[d.ID] = *d
	return nil
}

func (t *memTx) GetDeal(ctx context.Context, id uuid.UUID) (*models.Deal, error) {
	d, ok := t.st.deals[id]
	if !ok {
		return nil, fmt.Errorf("deal %s: %w", id, ErrNotFound)
	}
	return &d, nil
}

func (t *memTx) FindDealByCode(ctx context.Context, code string) (*models.Deal, error) {
	for _, d := range t.st.deals {
		if strings.EqualFold(d.InternalCode, code) {
			return &d, nil
		}
	}
	return nil, fmt.Errorf("deal code %q: %w", code, ErrNotFound)
}

func (t *memTx) UpdateDealGeocode(ctx context.Context, id uuid.UUID, p models.GeoPoint) error {
	d, ok := t.st.deals[id]
	if !ok {
		return fmt.Errorf("deal %s: %w", id, ErrNotFound)
	}
	lat, lon, at := p.Latitude, p.Longitude, p.At
	d.Latitude, d.Longitude, d.GeocodedAt = &lat, &lon, &at
	if p.MSA != "" {
		msa, src := p.MSA, p.Source
		d.MSA, d.MSASource = &msa, &src
	}
	d.UpdatedAt = t.now()
	t.st.deals[id] = d
	return nil
}

func (t *memTx) LinkDealOperator(ctx context.Context, link *models.DealOperator) error {
	if _, ok := t.st.deals[link.DealID]; !ok {
		return fmt.Errorf("deal %s: %w", link.DealID, ErrNotFound)
	}
	if _, ok := t.st.operators[link.OperatorID]; !ok {
		return fmt.Errorf("operator %s: %w", link.OperatorID, ErrNotFound)
	}
	for _, existing := range t.st.dealOps {
		if existing.DealID == link.DealID && existing.OperatorID == link.OperatorID {
			return fmt.Errorf("deal operator link: %w", ErrConflict)
		}
	}
	if link.ID == uuid.Nil {
		link.ID = uuid.New()
	}
	link.CreatedAt = t.now()
	t.st.dealOps[link.ID] = *link
	return nil
}

func (t *memTx) ListDealOperators(ctx context.Context, dealID uuid.UUID) ([]models.DealOperator, error) {
	var out []models.DealOperator
	for _, l := range t.st.dealOps {
		if l.DealID == dealID {
			out = append(out, l)
		}
	}
	// Primary first, then insertion time.
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsPrimary != out[j].IsPrimary {
			return out[i].IsPrimary
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ---------------------------------------------------------------------------
// principals
// ---------------------------------------------------------------------------

func (t *memTx) FindPrincipal(ctx context.Context, operatorID uuid.UUID, fullName string) (*models.Principal, error) {
	for _, p := range t.st.principals {
		if p.OperatorID == operatorID && p.FullName == fullName {
			return &p, nil
		}
	}
	return nil, fmt.Errorf("principal %q: %w", fullName, ErrNotFound)
}

func (t *memTx) CreatePrincipal(ctx context.Context, p *models.Principal) error {
	if _, err := t.FindPrincipal(ctx, p.OperatorID, p.FullName); err == nil {
		return fmt.Errorf("principal %q: %w", p.FullName, ErrConflict)
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := t.now()
	p.CreatedAt, p.UpdatedAt = now, now
	t.st.principals[p.ID] = *p
	return nil
}

func (t *memTx) UpdatePrincipal(ctx context.Context, p *models.Principal) error {
	if _, ok := t.st.principals[p.ID]; !ok {
		return fmt.Errorf("principal %s: %w", p.ID, ErrNotFound)
	}
	p.UpdatedAt = t.now()
	t.st.principals[p.ID] = *p
	return nil
}

// ---------------------------------------------------------------------------
// underwriting and documents
// ---------------------------------------------------------------------------

func (t *memTx) CreateUnderwriting(ctx context.Context, u *models.Underwriting) error {
	if _, ok := t.st.deals[u.DealID]; !ok {
		return fmt.Errorf("deal %s: %w", u.DealID, ErrNotFound)
	}
	for _, existing := range t.st.uw {
		if existing.DealID == u.DealID {
			return fmt.Errorf("underwriting for deal %s: %w", u.DealID, ErrConflict)
		}
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.CreatedAt = t.now()
	t.st.uw[u.ID] = *u
	return nil
}

func (t *memTx) GetUnderwritingByDeal(ctx context.Context, dealID uuid.UUID) (*models.Underwriting, error) {
	for _, u := range t.st.uw {
		if u.DealID == dealID {
			return &u, nil
		}
	}
	return nil, fmt.Errorf("underwriting for deal %s: %w", dealID, ErrNotFound)
}

func (t *memTx) CreateDealDocument(ctx context.Context, doc *models.DealDocument) error {
	if _, ok := t.st.deals[doc.DealID]; !ok {
		return fmt.Errorf("deal %s: %w", doc.DealID, ErrNotFound)
	}
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	doc.CreatedAt = t.now()
	t.st.docs[doc.ID] = *doc
	return nil
}

func (t *memTx) ListDealDocuments(ctx context.Context, dealID uuid.UUID) ([]models.DealDocument, error) {
	var out []models.DealDocument
	for _, d := range t.st.docs {
		if d.DealID == dealID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileName < out[j].FileName })
	return out, nil
}

// ---------------------------------------------------------------------------
// Memory outside a transaction
// ---------------------------------------------------------------------------

func (m *Memory) CreateIntakeItem(ctx context.Context, item *models.IntakeItem) error {
	return m.run(func(t *memTx) error { return t.CreateIntakeItem(ctx, item) })
}

func (m *Memory) GetIntakeItem(ctx context.Context, id uuid.UUID) (item *models.IntakeItem, err error) {
	err = m.run(func(t *memTx) error { item, err = t.GetIntakeItem(ctx, id); return err })
	return item, err
}

func (m *Memory) ListIntakeItems(ctx context.Context, f ListFilter) (items []models.IntakeItem, total int, err error) {
	err = m.run(func(t *memTx) error { items, total, err = t.ListIntakeItems(ctx, f); return err })
	return items, total, err
}

func (m *Memory) CountIntakeItems(ctx context.Context, orgID string) (counts map[models.IntakeStatus]int, err error) {
	err = m.run(func(t *memTx) error { counts, err = t.CountIntakeItems(ctx, orgID); return err })
	return counts, err
}

func (m *Memory) TransitionIntakeItem(ctx context.Context, id uuid.UUID, tr Transition) (item *models.IntakeItem, err error) {
	err = m.run(func(t *memTx) error { item, err = t.TransitionIntakeItem(ctx, id, tr); return err })
	return item, err
}

func (m *Memory) CompleteAttachment(ctx context.Context, attachmentID uuid.UUID, status models.ParsingStatus, text, parseErr string) (res AttachmentResult, err error) {
	err = m.run(func(t *memTx) error {
		res, err = t.CompleteAttachment(ctx, attachmentID, status, text, parseErr)
		return err
	})
	return res, err
}

func (m *Memory) ListStuckIntakeItems(ctx context.Context, status models.IntakeStatus, updatedBefore time.Time) (ids []uuid.UUID, err error) {
	err = m.run(func(t *memTx) error { ids, err = t.ListStuckIntakeItems(ctx, status, updatedBefore); return err })
	return ids, err
}

func (m *Memory) GetOperator(ctx context.Context, id uuid.UUID) (op *models.Operator, err error) {
	err = m.run(func(t *memTx) error { op, err = t.GetOperator(ctx, id); return err })
	return op, err
}

func (m *Memory) FindOperatorByName(ctx context.Context, name string) (op *models.Operator, err error) {
	err = m.run(func(t *memTx) error { op, err = t.FindOperatorByName(ctx, name); return err })
	return op, err
}

func (m *Memory) SearchOperatorsByName(ctx context.Context, fragment string, limit int) (ops []models.Operator, err error) {
	err = m.run(func(t *memTx) error { ops, err = t.SearchOperatorsByName(ctx, fragment, limit); return err })
	return ops, err
}

func (m *Memory) CreateOperator(ctx context.Context, op *models.Operator) error {
	return m.run(func(t *memTx) error { return t.CreateOperator(ctx, op) })
}

func (m *Memory) UpdateOperator(ctx context.Context, op *models.Operator) error {
	return m.run(func(t *memTx) error { return t.UpdateOperator(ctx, op) })
}

func (m *Memory) CreateDeal(ctx context.Context, d *models.Deal) error {
	return m.run(func(t *memTx) error { return t.CreateDeal(ctx, d) })
}

func (m *Memory) GetDeal(ctx context.Context, id uuid.UUID) (d *models.Deal, err error) {
	err = m.run(func(t *memTx) error { d, err = t.GetDeal(ctx, id); return err })
	return d, err
}

func (m *Memory) FindDealByCode(ctx context.Context, code string) (d *models.Deal, err error) {
	err = m.run(func(t *memTx) error { d, err = t.FindDealByCode(ctx, code); return err })
	return d, err
}

func (m *Memory) UpdateDealGeocode(ctx context.Context, id uuid.UUID, p models.GeoPoint) error {
	return m.run(func(t *memTx) error { return t.UpdateDealGeocode(ctx, id, p) })
}

func (m *Memory) LinkDealOperator(ctx context.Context, link *models.DealOperator) error {
	return m.run(func(t *memTx) error { return t.LinkDealOperator(ctx, link) })
}

func (m *Memory) ListDealOperators(ctx context.Context, dealID uuid.UUID) (links []models.DealOperator, err error) {
	err = m.run(func(t *memTx) error { links, err = t.ListDealOperators(ctx, dealID); return err })
	return links, err
}

func (m *Memory) FindPrincipal(ctx context.Context, operatorID uuid.UUID, fullName string) (p *models.Principal, err error) {
	err = m.run(func(t *memTx) error { p, err = t.FindPrincipal(ctx, operatorID, fullName); return err })
	return p, err
}

func (m *Memory) CreatePrincipal(ctx context.Context, p *models.Principal) error {
	return m.run(func(t *memTx) error { return t.CreatePrincipal(ctx, p) })
}

func (m *Memory) UpdatePrincipal(ctx context.Context, p *models.Principal) error {
	return m.run(func(t *memTx) error { return t.UpdatePrincipal(ctx, p) })
}

func (m *Memory) CreateUnderwriting(ctx context.Context, u *models.Underwriting) error {
	return m.run(func(t *memTx) error { return t.CreateUnderwriting(ctx, u) })
}

func (m *Memory) GetUnderwritingByDeal(ctx context.Context, dealID uuid.UUID) (u *models.Underwriting, err error) {
	err = m.run(func(t *memTx) error { u, err = t.GetUnderwritingByDeal(ctx, dealID); return err })
	return u, err
}

func (m *Memory) CreateDealDocument(ctx context.Context, doc *models.DealDocument) error {
	return m.run(func(t *memTx) error { return t.CreateDealDocument(ctx, doc) })
}

func (m *Memory) ListDealDocuments(ctx context.Context, dealID uuid.UUID) (docs []models.DealDocument, err error) {
	err = m.run(func(t *memTx) error { docs, err = t.ListDealDocuments(ctx, dealID); return err })
	return docs, err
}

var (
	_ Store = (*Memory)(nil)
	_ Tx    = (*memTx)(nil)
)
