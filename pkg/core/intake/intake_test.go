package intake

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"deal_intake/pkg/core/extract"
	"deal_intake/pkg/core/geocode"
	"deal_intake/pkg/core/inbound"
	"deal_intake/pkg/core/parser"
	"deal_intake/pkg/core/storage"
	"deal_intake/pkg/core/store"
	"deal_intake/pkg/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// =============================================================================
// MOCKS
// =============================================================================

type mockParser struct {
	ParseFunc func(ctx context.Context, path string, declared models.DocumentType) (*parser.Result, error)
	calls     atomic.Int32
}

func (m *mockParser) Parse(ctx context.Context, path string, declared models.DocumentType) (*parser.Result, error) {
	m.calls.Add(1)
	if m.ParseFunc != nil {
		return m.ParseFunc(ctx, path, declared)
	}
	return &parser.Result{Text: "parsed " + filepath.Base(path), Kind: parser.KindPDF}, nil
}

type mockExtractor struct {
	ExtractFunc func(ctx context.Context, in extract.Input) (*models.ExtractionCandidate, error)

	mu     sync.Mutex
	inputs []extract.Input
}

func (m *mockExtractor) Extract(ctx context.Context, in extract.Input) (*models.ExtractionCandidate, error) {
	m.mu.Lock()
	m.inputs = append(m.inputs, in)
	m.mu.Unlock()
	if m.ExtractFunc != nil {
		return m.ExtractFunc(ctx, in)
	}
	return candidate(), nil
}

func (m *mockExtractor) Inputs() []extract.Input {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]extract.Input(nil), m.inputs...)
}

type mockGeocoder struct {
	GeocodeFunc func(ctx context.Context, address string) (*geocode.Result, error)
	addresses   chan string
}

func (m *mockGeocoder) Geocode(ctx context.Context, address string) (*geocode.Result, error) {
	if m.addresses != nil {
		m.addresses <- address
	}
	if m.GeocodeFunc != nil {
		return m.GeocodeFunc(ctx, address)
	}
	return &geocode.Result{Lat: 30.2672, Lon: -97.7431, MSA: "Austin-Round Rock-San Marcos, TX"}, nil
}

// =============================================================================
// HARNESS
// =============================================================================

type harness struct {
	svc       *Service
	store     *store.Memory
	storage   *storage.Local
	runner    *Runner
	parser    *mockParser
	extractor *mockExtractor
	geocoder  *mockGeocoder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	fs, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	h := &harness{
		store:     store.NewMemory(),
		storage:   fs,
		runner:    NewRunner(4, 10*time.Second, logger),
		parser:    &mockParser{},
		extractor: &mockExtractor{},
		geocoder:  &mockGeocoder{addresses: make(chan string, 4)},
	}
	h.svc = NewService(Deps{
		Store:     h.store,
		Storage:   h.storage,
		Parser:    h.parser,
		Extractor: h.extractor,
		Geocoder:  h.geocoder,
		Runner:    h.runner,
		Logger:    logger,
	})
	t.Cleanup(h.runner.Wait)
	return h
}

func strPtr(s string) *string { return &s }

func candidate() *models.ExtractionCandidate {
	op := models.OperatorCandidate{Name: "Acme Capital", IsPrimary: true}
	return &models.ExtractionCandidate{
		Operators: []models.OperatorCandidate{op, {Name: "Beacon Partners"}},
		Operator:  &op,
		Deal: models.DealCandidate{
			DealName:     "Riverside Apartments",
			AddressLine1: strPtr("100 Main St"),
			State:        strPtr("TX"),
			PostalCode:   strPtr("78701"),
		},
	}
}

func blob(n int) []byte {
	return bytes.Repeat([]byte("x"), n)
}

func forwardedEmail(to string, atts ...inbound.Attachment) *inbound.Email {
	return &inbound.Email{
		FromAddress: "broker@example.com",
		FromName:    "Pat Broker",
		To:          []string{to},
		Subject:     "Fwd: Riverside Apartments OM",
		BodyText:    "Please see the attached offering memorandum.",
		Attachments: atts,
	}
}

// readyItem stores an item already waiting for review.
func readyItem(t *testing.T, h *harness, atts ...models.Attachment) *models.IntakeItem {
	t.Helper()
	item := &models.IntakeItem{
		OrganizationID: "org1",
		Status:         models.StatusReadyForReview,
		FromAddress:    "broker@example.com",
		ToAddresses:    []string{"deals+org1@example.com"},
		Subject:        "Riverside Apartments OM",
		BodyText:       "See attached.",
		ExtractedData:  candidate(),
		Attachments:    atts,
	}
	require.NoError(t, h.store.CreateIntakeItem(context.Background(), item))
	return item
}

func seedOperators(t *testing.T, h *harness, names ...string) []uuid.UUID {
	t.Helper()
	var ids []uuid.UUID
	for _, n := range names {
		op := &models.Operator{Name: n}
		require.NoError(t, h.store.CreateOperator(context.Background(), op))
		ids = append(ids, op.ID)
	}
	return ids
}

// =============================================================================
// RECEIPT AND FAN-IN
// =============================================================================

func TestReceive_NoParseableAttachmentsExtractsImmediately(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	item, err := h.svc.Receive(ctx, forwardedEmail("deals+org1@example.com",
		inbound.Attachment{FileName: "logo.png", ContentType: "image/png", Content: blob(40)},
		inbound.Attachment{FileName: "notes.docx", ContentType: "application/msword", Content: blob(500)},
	), "org1")
	require.NoError(t, err)
	require.Len(t, item.Attachments, 1, "attachments under 100 bytes are dropped")
	assert.Equal(t, models.ParsingCompleted, item.Attachments[0].ParsingStatus)
	assert.Equal(t, 0, item.PendingAttachments)

	h.runner.Wait()
	got, err := h.svc.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReadyForReview, got.Status)
	assert.NotNil(t, got.ProcessedAt)
	assert.Equal(t, "Riverside Apartments", got.ExtractedData.Deal.DealName)
	assert.Equal(t, int32(0), h.parser.calls.Load())
	require.Len(t, h.extractor.Inputs(), 1)
}

func TestReceive_PDFAndImageReachProcessingAfterOneCompletion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	release := make(chan struct{})
	h.parser.ParseFunc = func(ctx context.Context, path string, declared models.DocumentType) (*parser.Result, error) {
		<-release
		assert.Equal(t, models.DocOfferMemo, declared)
		return &parser.Result{Text: "Offering memorandum for Riverside", Kind: parser.KindPDF}, nil
	}

	item, err := h.svc.Receive(ctx, forwardedEmail("deals+org1@example.com",
		inbound.Attachment{FileName: "om.pdf", ContentType: "application/pdf", Content: blob(2048)},
		inbound.Attachment{FileName: "site.png", ContentType: "image/png", Content: blob(1024)},
	), "org1")
	require.NoError(t, err)

	got, err := h.svc.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReceived, got.Status)
	assert.Equal(t, 1, got.PendingAttachments, "only the pdf is pending")

	close(release)
	h.runner.Wait()

	got, err = h.svc.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReadyForReview, got.Status)
	assert.Equal(t, int32(1), h.parser.calls.Load())

	inputs := h.extractor.Inputs()
	require.Len(t, inputs, 1)
	assert.Contains(t, inputs[0].Text, "--- Attachment: om.pdf ---\nOffering memorandum for Riverside")
	require.Len(t, inputs[0].Images, 1)
	assert.Equal(t, "image/png", inputs[0].Images[0].MIMEType)
	assert.Len(t, inputs[0].Images[0].Data, 1024)
}

func TestCompleteAttachment_FanInClaimsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	for round := 0; round < 25; round++ {
		h := newHarness(t)

		const n = 6
		atts := make([]models.Attachment, n)
		for i := range atts {
			atts[i] = models.Attachment{
				FileName:      fmt.Sprintf("doc%d.pdf", i),
				ContentType:   models.ContentTypePDF,
				ParsingStatus: models.ParsingPending,
			}
		}
		item := &models.IntakeItem{OrganizationID: "org1", Subject: "OM", PendingAttachments: n, Attachments: atts}
		require.NoError(t, h.store.CreateIntakeItem(ctx, item))

		// Every attachment is reported twice, in random order.
		var ids []uuid.UUID
		for _, a := range item.Attachments {
			ids = append(ids, a.ID, a.ID)
		}
		rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })

		var wg sync.WaitGroup
		for _, id := range ids {
			wg.Add(1)
			go func(id uuid.UUID) {
				defer wg.Done()
				assert.NoError(t, h.svc.CompleteAttachment(ctx, id, "page text", ""))
			}(id)
		}
		wg.Wait()
		h.runner.Wait()

		require.Len(t, h.extractor.Inputs(), 1, "round %d", round)
		got, err := h.svc.Get(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusReadyForReview, got.Status)
		assert.Equal(t, 0, got.PendingAttachments)
	}
}

func TestParseAttachment_FailureStillReleasesBarrier(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.parser.ParseFunc = func(ctx context.Context, path string, declared models.DocumentType) (*parser.Result, error) {
		if strings.HasSuffix(path, "broken.pdf") {
			return nil, errors.New("no text layer")
		}
		return &parser.Result{Text: "good text"}, nil
	}

	item, err := h.svc.Receive(ctx, forwardedEmail("deals+org1@example.com",
		inbound.Attachment{FileName: "broken.pdf", ContentType: "application/pdf", Content: blob(300)},
		inbound.Attachment{FileName: "model.xlsx", ContentType: models.ContentTypeXLSX, Content: blob(300)},
	), "org1")
	require.NoError(t, err)
	h.runner.Wait()

	got, err := h.svc.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReadyForReview, got.Status)
	for _, a := range got.Attachments {
		switch a.FileName {
		case "broken.pdf":
			assert.Equal(t, models.ParsingFailed, a.ParsingStatus)
			assert.Contains(t, a.ParsingError, "no text layer")
		case "model.xlsx":
			assert.Equal(t, models.ParsingCompleted, a.ParsingStatus)
		}
	}
	text := h.extractor.Inputs()[0].Text
	assert.Contains(t, text, "--- Attachment: model.xlsx ---")
	assert.NotContains(t, text, "broken.pdf")
}

// =============================================================================
// EXTRACTION
// =============================================================================

func TestRunExtraction_FailureRecorded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.extractor.ExtractFunc = func(ctx context.Context, in extract.Input) (*models.ExtractionCandidate, error) {
		return nil, errors.New("model unavailable")
	}

	item, err := h.svc.Receive(ctx, forwardedEmail("deals+org1@example.com"), "org1")
	require.NoError(t, err)
	h.runner.Wait()

	got, err := h.svc.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, "AI extraction failed: model unavailable", got.ErrorMessage)
	assert.Nil(t, got.ExtractedData)
}

func TestRunExtraction_RequiresProcessing(t *testing.T) {
	h := newHarness(t)
	item := readyItem(t, h)
	err := h.svc.RunExtraction(context.Background(), item.ID)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Empty(t, h.extractor.Inputs())
}

func TestRunExtraction_OperatorMatches(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	seedOperators(t, h, "Acme Capital Partners", "ACME Capital", "Unrelated LLC")

	item, err := h.svc.Receive(ctx, forwardedEmail("deals+org1@example.com"), "org1")
	require.NoError(t, err)
	h.runner.Wait()

	got, err := h.svc.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, got.OperatorMatches, 2)
	assert.Equal(t, "Acme Capital", got.OperatorMatches[0].ExtractedName)
	assert.True(t, got.OperatorMatches[0].IsPrimary)
	assert.Len(t, got.OperatorMatches[0].Matches, 2)
	assert.False(t, got.OperatorMatches[1].IsPrimary)
	assert.Empty(t, got.OperatorMatches[1].Matches)
}

func TestOperatorMatches_FollowsCandidatePrimary(t *testing.T) {
	h := newHarness(t)
	seedOperators(t, h, "Alpha Capital Group", "Beta Partners LLC")

	got, err := h.svc.OperatorMatches(context.Background(), &models.ExtractionCandidate{
		Operators: []models.OperatorCandidate{
			{Name: "Alpha Capital"},
			{Name: "Beta Partners", IsPrimary: true},
			{Name: "  "},
		},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Beta Partners", got[0].ExtractedName)
	assert.True(t, got[0].IsPrimary)
	require.Len(t, got[0].Matches, 1)
	assert.Equal(t, "Beta Partners LLC", got[0].Matches[0].Name)
	assert.Equal(t, "Alpha Capital", got[1].ExtractedName)
	assert.False(t, got[1].IsPrimary)
}

func TestExtractionText(t *testing.T) {
	item := &models.IntakeItem{
		Subject:     "Riverside OM",
		FromName:    "Pat Broker",
		FromAddress: "pat@example.com",
		BodyText:    "See attached.",
		Attachments: []models.Attachment{
			{FileName: "om.pdf", ParsingStatus: models.ParsingCompleted, ParsedText: "OM text"},
			{FileName: "bad.pdf", ParsingStatus: models.ParsingFailed},
			{FileName: "empty.pdf", ParsingStatus: models.ParsingCompleted},
		},
	}
	want := "Email Subject: Riverside OM\nFrom: Pat Broker <pat@example.com>\n\nSee attached." +
		"\n\n--- Attachment: om.pdf ---\nOM text"
	assert.Equal(t, want, ExtractionText(item))

	item.BodyText = ""
	item.Attachments = nil
	assert.Equal(t, "Email Subject: Riverside OM\nFrom: Pat Broker <pat@example.com>", ExtractionText(item))
}

// =============================================================================
// REVIEW
// =============================================================================

func TestConfirm_CreatesDealAndDocuments(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	ops := seedOperators(t, h, "Acme Capital", "Beacon Partners")
	item := readyItem(t, h,
		models.Attachment{FileName: "om.pdf", ContentType: models.ContentTypePDF, ParsingStatus: models.ParsingCompleted, ParsedText: "OM", StorageURL: "local://a"},
		models.Attachment{FileName: "model.xlsx", ContentType: models.ContentTypeXLSX, ParsingStatus: models.ParsingCompleted, StorageURL: "local://b"},
		models.Attachment{FileName: "site.png", ContentType: "image/png", ParsingStatus: models.ParsingCompleted, StorageURL: "local://c"},
	)

	res, err := h.svc.Confirm(ctx, item.ID, ConfirmRequest{OperatorIDs: ops})
	require.NoError(t, err)
	require.NotNil(t, res.Population)
	assert.Equal(t, models.StatusConfirmed, res.Item.Status)
	assert.Equal(t, res.DealID, *res.Item.DealID)
	assert.Len(t, res.DocumentIDs, 4)

	docs, err := h.store.ListDealDocuments(ctx, res.DealID)
	require.NoError(t, err)
	types := map[string]models.DocumentType{}
	for _, d := range docs {
		types[d.FileName] = d.DocumentType
	}
	assert.Equal(t, models.DocEmail, types["Email: Riverside Apartments OM"])
	assert.Equal(t, models.DocOfferMemo, types["om.pdf"])
	assert.Equal(t, models.DocFinancialModel, types["model.xlsx"])
	assert.Equal(t, models.DocAttachment, types["site.png"])

	links, err := h.store.ListDealOperators(ctx, res.DealID)
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.True(t, links[0].IsPrimary)
	assert.Equal(t, ops[0], links[0].OperatorID)

	select {
	case addr := <-h.geocoder.addresses:
		assert.Equal(t, "100 Main St, TX 78701", addr)
	case <-time.After(5 * time.Second):
		t.Fatal("geocoder not called")
	}
	h.runner.Wait()
	deal, err := h.store.GetDeal(ctx, res.DealID)
	require.NoError(t, err)
	require.NotNil(t, deal.Latitude)
	assert.InDelta(t, 30.2672, *deal.Latitude, 1e-9)
	require.NotNil(t, deal.MSASource)
	assert.Equal(t, geocode.SourceCensus, *deal.MSASource)
}

func TestConfirm_EmptyOperatorsRejectedBeforeWrites(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	item := readyItem(t, h)

	_, err := h.svc.Confirm(ctx, item.ID, ConfirmRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfirm))

	got, err := h.svc.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReadyForReview, got.Status)
	assert.Nil(t, got.DealID)
	_, err = h.store.FindOperatorByName(ctx, "Acme Capital")
	assert.True(t, errors.Is(err, store.ErrNotFound), "no operator was written")
}

func TestConfirm_UnknownOperatorRollsBack(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	item := readyItem(t, h)

	_, err := h.svc.Confirm(ctx, item.ID, ConfirmRequest{OperatorIDs: []uuid.UUID{uuid.New()}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrNotFound))

	got, err := h.svc.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReadyForReview, got.Status)
}

func TestConfirm_LinksExistingDeal(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	deal := &models.Deal{InternalCode: "DEAL-EXIST01", DealName: "Existing", Country: models.DefaultCountry, Status: models.DealStatusReceived}
	require.NoError(t, h.store.CreateDeal(ctx, deal))
	item := readyItem(t, h)

	res, err := h.svc.Confirm(ctx, item.ID, ConfirmRequest{DealID: &deal.ID})
	require.NoError(t, err)
	assert.Equal(t, deal.ID, res.DealID)
	assert.Nil(t, res.Population)

	docs, err := h.store.ListDealDocuments(ctx, deal.ID)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, models.DocEmail, docs[0].DocumentType)
	assert.Equal(t, "See attached.", docs[0].ParsedText)
}

func TestConfirm_WrongStatus(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	item := readyItem(t, h)
	_, err := h.svc.Reject(ctx, item.ID)
	require.NoError(t, err)

	_, err = h.svc.Confirm(ctx, item.ID, ConfirmRequest{OperatorIDs: seedOperators(t, h, "Acme Capital")})
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestReject(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	ops := seedOperators(t, h, "Acme Capital")

	item := readyItem(t, h)
	got, err := h.svc.Reject(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, got.Status)

	confirmed := readyItem(t, h)
	_, err = h.svc.Confirm(ctx, confirmed.ID, ConfirmRequest{OperatorIDs: ops})
	require.NoError(t, err)
	_, err = h.svc.Reject(ctx, confirmed.ID)
	assert.True(t, errors.Is(err, ErrInvalidTransition), "confirmed items cannot be rejected")

	_, err = h.svc.Reject(ctx, uuid.New())
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestReprocess(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	fail := true
	h.extractor.ExtractFunc = func(ctx context.Context, in extract.Input) (*models.ExtractionCandidate, error) {
		if fail {
			return nil, errors.New("timeout")
		}
		return candidate(), nil
	}

	item, err := h.svc.Receive(ctx, forwardedEmail("deals+org1@example.com"), "org1")
	require.NoError(t, err)
	h.runner.Wait()
	got, err := h.svc.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, got.Status)

	fail = false
	reset, err := h.svc.Reprocess(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReceived, reset.Status)
	assert.Empty(t, reset.ErrorMessage)
	h.runner.Wait()

	got, err = h.svc.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReadyForReview, got.Status)
	assert.Empty(t, got.ErrorMessage)
	assert.Len(t, h.extractor.Inputs(), 2)

	_, err = h.svc.Reprocess(ctx, item.ID)
	assert.True(t, errors.Is(err, ErrInvalidTransition), "ready_for_review cannot be reprocessed")
}

func TestListAndCount(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	readyItem(t, h)
	readyItem(t, h)
	_, err := h.svc.Receive(ctx, forwardedEmail("deals+org2@example.com"), "org2")
	require.NoError(t, err)
	h.runner.Wait()

	items, total, err := h.svc.List(ctx, store.ListFilter{OrganizationID: "org1", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, items, 1)

	counts, err := h.svc.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, counts[models.StatusReadyForReview])
}

// =============================================================================
// ROUTING
// =============================================================================

func TestRouteInbound(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	deal := &models.Deal{InternalCode: "DEAL-AB12CD34", DealName: "Riverside", Country: models.DefaultCountry, Status: models.DealStatusReceived}
	require.NoError(t, h.store.CreateDeal(ctx, deal))

	t.Run("org tag", func(t *testing.T) {
		res, err := h.svc.RouteInbound(ctx, forwardedEmail("deals+acme@example.com"))
		require.NoError(t, err)
		assert.Equal(t, "acme", res.OrganizationID)
		require.NotNil(t, res.Item)
		assert.Equal(t, "acme", res.Item.OrganizationID)
	})

	t.Run("deal code in subject", func(t *testing.T) {
		email := forwardedEmail("deals@example.com")
		email.Subject = "Re: [deal-ab12cd34] updated rent roll"
		res, err := h.svc.RouteInbound(ctx, email)
		require.NoError(t, err)
		assert.Nil(t, res.Item)
		require.NotNil(t, res.DealDocument)
		assert.Equal(t, deal.ID, res.DealDocument.DealID)
		assert.Equal(t, models.DocEmail, res.DealDocument.DocumentType)
		assert.True(t, strings.HasPrefix(res.DealDocument.ParsedText, "--- Forwarded Email ---"))
	})

	t.Run("unknown code falls back to default", func(t *testing.T) {
		email := forwardedEmail("deals@example.com")
		email.Subject = "Deal: NOPE123"
		res, err := h.svc.RouteInbound(ctx, email)
		require.NoError(t, err)
		assert.Equal(t, inbound.DefaultOrganization, res.OrganizationID)
		require.NotNil(t, res.Item)
	})
	h.runner.Wait()
}

// =============================================================================
// BACKGROUND
// =============================================================================

func TestReaper_Sweep(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	stuck := &models.IntakeItem{OrganizationID: "org1", Status: models.StatusProcessing, Subject: "stuck"}
	require.NoError(t, h.store.CreateIntakeItem(ctx, stuck))
	ready := readyItem(t, h)

	r := NewReaper(h.store, 15*time.Minute, nil, zaptest.NewLogger(t))
	r.now = func() time.Time { return time.Now().Add(time.Hour) }

	n, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := h.svc.Get(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, "extraction timed out", got.ErrorMessage)

	got, err = h.svc.Get(ctx, ready.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReadyForReview, got.Status)

	r.now = time.Now
	n, err = r.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReaper_InvalidSchedule(t *testing.T) {
	r := NewReaper(store.NewMemory(), time.Minute, nil, nil)
	assert.Error(t, r.Start("not a schedule"))
	r.Stop()
}

func TestRunner_RecoversPanicsAndWaits(t *testing.T) {
	r := NewRunner(2, time.Second, zaptest.NewLogger(t))
	var done atomic.Int32
	r.Go("panics", func(ctx context.Context) error { panic("boom") })
	for i := 0; i < 5; i++ {
		r.Go("counts", func(ctx context.Context) error {
			_, ok := ctx.Deadline()
			assert.True(t, ok)
			done.Add(1)
			return nil
		})
	}
	r.Wait()
	assert.Equal(t, int32(5), done.Load())
}
