// Package intake serves the inbound-email webhooks, the review queue and the
// ad-hoc document tools over HTTP.
package intake

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"deal_intake/pkg/core/excel"
	"deal_intake/pkg/core/extract"
	"deal_intake/pkg/core/inbound"
	coreIntake "deal_intake/pkg/core/intake"
	"deal_intake/pkg/core/populate"
	"deal_intake/pkg/core/storage"
	"deal_intake/pkg/core/store"
	"deal_intake/pkg/models"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 50
	maxListLimit     = 100
	// maxJSONBody bounds JSON request bodies.
	maxJSONBody = 5 << 20
)

// Handler holds dependencies for the intake endpoints. Gatherer is optional;
// when set, /metrics is served from it.
type Handler struct {
	Service   *coreIntake.Service
	Storage   storage.Store
	Parser    coreIntake.Parser
	Analyzer  *excel.Analyzer
	Extractor coreIntake.Extractor
	Gatherer  prometheus.Gatherer

	// WebhookToken, when set, must match the "token" query parameter of
	// webhook calls.
	WebhookToken   string
	MaxUploadBytes int64
	Logger         *zap.Logger
	now            func() time.Time
}

// Register mounts every route on r.
func (h *Handler) Register(r *mux.Router) {
	if h.Logger == nil {
		h.Logger = zap.NewNop()
	}
	if h.MaxUploadBytes <= 0 {
		h.MaxUploadBytes = 32 << 20
	}
	if h.now == nil {
		h.now = time.Now
	}

	r.HandleFunc("/health", h.HandleHealth).Methods(http.MethodGet)
	if h.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	wh := r.PathPrefix("/api/webhooks/email").Subrouter()
	wh.HandleFunc("/sendgrid", h.webhook(inbound.ParseSendGrid)).Methods(http.MethodPost)
	wh.HandleFunc("/mailgun", h.webhook(inbound.ParseMailgun)).Methods(http.MethodPost)

	pe := r.PathPrefix("/api/pending-emails").Subrouter()
	pe.HandleFunc("", h.HandleList).Methods(http.MethodGet)
	pe.HandleFunc("/", h.HandleList).Methods(http.MethodGet)
	pe.HandleFunc("/count", h.HandleCount).Methods(http.MethodGet)
	pe.HandleFunc("/{id}", h.HandleGet).Methods(http.MethodGet)
	pe.HandleFunc("/{id}", h.HandleReject).Methods(http.MethodDelete)
	pe.HandleFunc("/{id}/confirm", h.HandleConfirm).Methods(http.MethodPost)
	pe.HandleFunc("/{id}/reject", h.HandleReject).Methods(http.MethodPost)
	pe.HandleFunc("/{id}/reprocess", h.HandleReprocess).Methods(http.MethodPost)

	docs := r.PathPrefix("/api/documents").Subrouter()
	docs.HandleFunc("/parse", h.HandleParse).Methods(http.MethodPost)
	docs.HandleFunc("/analyze-excel", h.HandleAnalyzeExcel).Methods(http.MethodPost)
	docs.HandleFunc("/extract", h.HandleExtract).Methods(http.MethodPost)
}

// =============================================================================
// WEBHOOKS
// =============================================================================

// InboundResponse acknowledges a webhook delivery.
type InboundResponse struct {
	Success         bool       `json:"success"`
	PendingEmailID  *uuid.UUID `json:"pending_email_id"`
	OrganizationID  string     `json:"organization_id,omitempty"`
	DealID          *uuid.UUID `json:"deal_id,omitempty"`
	Message         string     `json:"message"`
	AttachmentCount int        `json:"attachment_count"`
}

type webhookParser func(form *multipart.Form, now func() time.Time) (*inbound.Email, error)

func (h *Handler) webhook(parse webhookParser) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.WebhookToken != "" &&
			subtle.ConstantTimeCompare([]byte(r.URL.Query().Get("token")), []byte(h.WebhookToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid webhook token")
			return
		}

		form, err := h.readForm(w, r)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Email parsing failed: %v", err))
			return
		}
		email, err := parse(form, h.now)
		if err != nil {
			h.Logger.Warn("inbound email rejected", zap.Error(err))
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Email parsing failed: %v", err))
			return
		}

		res, err := h.Service.RouteInbound(r.Context(), email)
		if err != nil {
			h.Logger.Error("failed to process inbound email", zap.Error(err))
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to process email: %v", err))
			return
		}

		if res.Item == nil {
			writeJSON(w, http.StatusOK, InboundResponse{
				Success:         true,
				DealID:          &res.Deal.ID,
				Message:         "Email linked to existing deal: " + res.Deal.DealName,
				AttachmentCount: len(email.Attachments),
			})
			return
		}
		writeJSON(w, http.StatusAccepted, InboundResponse{
			Success:         true,
			PendingEmailID:  &res.Item.ID,
			OrganizationID:  res.OrganizationID,
			Message:         "Email received and queued for processing",
			AttachmentCount: len(res.Item.Attachments),
		})
	}
}

// readForm accepts multipart bodies and, for attachment-less Mailgun
// deliveries, url-encoded ones.
func (h *Handler) readForm(w http.ResponseWriter, r *http.Request) (*multipart.Form, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes)
	err := r.ParseMultipartForm(h.MaxUploadBytes)
	if errors.Is(err, http.ErrNotMultipart) {
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		return &multipart.Form{Value: r.PostForm}, nil
	}
	if err != nil {
		return nil, err
	}
	return r.MultipartForm, nil
}

// =============================================================================
// REVIEW QUEUE
// =============================================================================

type ListResponse struct {
	Items  []models.IntakeItem `json:"items"`
	Total  int                 `json:"total"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.ListFilter{
		OrganizationID: q.Get("organization_id"),
		Status:         models.IntakeStatus(q.Get("status")),
		Limit:          defaultListLimit,
	}
	if f.Status != "" && !f.Status.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", f.Status))
		return
	}
	var err error
	if f.Limit, err = intParam(q.Get("limit"), defaultListLimit, 1, maxListLimit); err != nil {
		writeError(w, http.StatusBadRequest, "limit: "+err.Error())
		return
	}
	if f.Offset, err = intParam(q.Get("offset"), 0, 0, -1); err != nil {
		writeError(w, http.StatusBadRequest, "offset: "+err.Error())
		return
	}

	items, total, err := h.Service.List(r.Context(), f)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if items == nil {
		items = []models.IntakeItem{}
	}
	writeJSON(w, http.StatusOK, ListResponse{Items: items, Total: total, Limit: f.Limit, Offset: f.Offset})
}

// CountResponse carries the inbox badge count (items awaiting review) and
// the full per-status breakdown.
type CountResponse struct {
	Count    int                         `json:"count"`
	ByStatus map[models.IntakeStatus]int `json:"by_status"`
}

func (h *Handler) HandleCount(w http.ResponseWriter, r *http.Request) {
	counts, err := h.Service.Count(r.Context(), r.URL.Query().Get("organization_id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: counts[models.StatusReadyForReview], ByStatus: counts})
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	item, err := h.Service.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req coreIntake.ConfirmRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	res, err := h.Service.Confirm(r.Context(), id, req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) HandleReject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	item, err := h.Service.Reject(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) HandleReprocess(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	item, err := h.Service.Reprocess(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, item)
}

// =============================================================================
// DOCUMENT TOOLS
// =============================================================================

type ParseResponse struct {
	FileName string         `json:"file_name"`
	FileURL  string         `json:"file_url"`
	Kind     string         `json:"kind"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

// HandleParse stores an uploaded file and runs it through the dispatcher.
// An optional document_type form field steers parser selection.
func (h *Handler) HandleParse(w http.ResponseWriter, r *http.Request) {
	url, path, name, ok := h.saveUpload(w, r)
	if !ok {
		return
	}
	declared := models.DocumentType(r.FormValue("document_type"))
	res, err := h.Parser.Parse(r.Context(), path, declared)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ParseResponse{FileName: name, FileURL: url, Kind: res.Kind, Text: res.Text, Metadata: res.Metadata})
}

// HandleAnalyzeExcel runs the spreadsheet analyzer over an uploaded workbook.
// The optional metrics form field is a comma-separated list.
func (h *Handler) HandleAnalyzeExcel(w http.ResponseWriter, r *http.Request) {
	_, path, _, ok := h.saveUpload(w, r)
	if !ok {
		return
	}
	var metrics []string
	for _, m := range strings.Split(r.FormValue("metrics"), ",") {
		if m = strings.TrimSpace(m); m != "" {
			metrics = append(metrics, m)
		}
	}
	res, err := h.Analyzer.Analyze(path, metrics)
	switch {
	case errors.Is(err, excel.ErrUnsupportedFormat):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

type ExtractRequest struct {
	Text            string `json:"text"`
	RequireOperator bool   `json:"require_operator"`
}

func (h *Handler) HandleExtract(w http.ResponseWriter, r *http.Request) {
	var req ExtractRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	cand, err := h.Extractor.Extract(r.Context(), extract.Input{Text: req.Text, RequireOperator: req.RequireOperator})
	switch {
	case errors.Is(err, extract.ErrValidation):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case err != nil:
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeJSON(w, http.StatusOK, cand)
	}
}

// saveUpload stores the "file" form part and returns its storage url and
// local path. It writes the error response itself when ok is false.
func (h *Handler) saveUpload(w http.ResponseWriter, r *http.Request) (url, path, name string, ok bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid upload: "+err.Error())
		return "", "", "", false
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file")
		return "", "", "", false
	}
	defer file.Close()

	url, err = h.Storage.Save(r.Context(), header.Filename, file)
	if err != nil {
		h.Logger.Error("failed to store upload", zap.String("file_name", header.Filename), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return "", "", "", false
	}
	path, err = h.Storage.Path(url)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return "", "", "", false
	}
	return url, path, header.Filename, true
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

type errorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Detail: msg})
}

// writeServiceError maps service errors onto status codes.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var popErr *populate.PopulationError
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &popErr):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, coreIntake.ErrInvalidTransition),
		errors.Is(err, coreIntake.ErrInvalidConfirm),
		errors.Is(err, populate.ErrNoOperators):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.Logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

// intParam parses an optional integer within [lo, hi]; hi < 0 means unbounded.
func intParam(raw string, def, lo, hi int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("not an integer: %q", raw)
	}
	if n < lo || (hi >= 0 && n > hi) {
		return 0, fmt.Errorf("out of range: %d", n)
	}
	return n, nil
}
