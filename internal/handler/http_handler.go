package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pesio-ai/be-wf-approvals/internal/domain"
	"github.com/pesio-ai/be-wf-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-wf-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-wf-approvals/internal/service"
)

// ActorHeader carries the authenticated user ID set by the gateway.
const ActorHeader = "X-User-ID"

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	service *service.ApprovalService
	log     *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(service *service.ApprovalService, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		service: service,
		log:     log.Component("http_handler"),
	}
}

// Routes mounts the approval endpoints.
func (h *HTTPHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.CreateApproval)
	r.Get("/pending", h.ListPendingApprovals)
	r.Get("/mine", h.ListMyDocuments)
	r.Route("/{documentID}", func(r chi.Router) {
		r.Get("/", h.GetApprovalDetail)
		r.Post("/decision", h.ProcessApproval)
		r.Post("/cancel", h.CancelApproval)
		r.Get("/history", h.GetApprovalHistory)
	})
	return r
}

// ── DTOs ──────────────────────────────────────────────────────────────────────

// CreateApprovalBody is the create request payload.
type CreateApprovalBody struct {
	ProjectID   *string  `json:"project_id,omitempty"`
	Type        string   `json:"type"`
	Amount      *int64   `json:"amount,omitempty"`
	Title       string   `json:"title"`
	Content     string   `json:"content"`
	ApproverIDs []string `json:"approver_ids"`
}

// ProcessApprovalBody is the decision payload.
type ProcessApprovalBody struct {
	Decision string  `json:"decision"`
	Comment  *string `json:"comment,omitempty"`
}

// DocumentResponse is the JSON form of a document.
type DocumentResponse struct {
	ID          string     `json:"id"`
	DrafterID   string     `json:"drafter_id"`
	ProjectID   *string    `json:"project_id,omitempty"`
	Type        string     `json:"type"`
	Amount      *int64     `json:"amount,omitempty"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// LineResponse is the JSON form of an approval line.
type LineResponse struct {
	ID         string     `json:"id"`
	ApproverID string     `json:"approver_id"`
	Sequence   int        `json:"sequence"`
	Status     string     `json:"status"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	Comment    *string    `json:"comment,omitempty"`
}

// DetailResponse is a document with its chain.
type DetailResponse struct {
	Document DocumentResponse `json:"document"`
	Lines    []LineResponse   `json:"lines"`
}

// HistoryResponse is one history entry.
type HistoryResponse struct {
	ID           string         `json:"id"`
	LineID       *string        `json:"line_id,omitempty"`
	Action       string         `json:"action"`
	PerformedBy  string         `json:"performed_by"`
	PerformedAt  time.Time      `json:"performed_at"`
	StatusBefore string         `json:"status_before,omitempty"`
	StatusAfter  string         `json:"status_after,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func toDocumentResponse(d *domain.ApprovalDocument) DocumentResponse {
	return DocumentResponse{
		ID:          d.ID,
		DrafterID:   d.DrafterID,
		ProjectID:   d.ProjectID,
		Type:        string(d.Type),
		Amount:      d.Amount,
		Title:       d.Title,
		Content:     d.Content,
		Status:      string(d.Status),
		CreatedAt:   d.CreatedAt,
		CompletedAt: d.CompletedAt,
	}
}

func toDocumentResponses(docs []*domain.ApprovalDocument) []DocumentResponse {
	out := make([]DocumentResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, toDocumentResponse(d))
	}
	return out
}

func toDetailResponse(d *service.ApprovalDetail) DetailResponse {
	lines := make([]LineResponse, 0, len(d.Lines))
	for _, l := range d.Lines {
		lines = append(lines, LineResponse{
			ID:         l.ID,
			ApproverID: l.ApproverID,
			Sequence:   l.Sequence,
			Status:     string(l.Status),
			ApprovedAt: l.ApprovedAt,
			Comment:    l.Comment,
		})
	}
	return DetailResponse{Document: toDocumentResponse(d.Document), Lines: lines}
}

// ── Handlers ──────────────────────────────────────────────────────────────────

// CreateApproval handles create approval HTTP requests
func (h *HTTPHandler) CreateApproval(w http.ResponseWriter, r *http.Request) {
	var body CreateApprovalBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body"))
		return
	}

	id, err := h.service.CreateApproval(r.Context(), actor(r), service.CreateApprovalRequest{
		ProjectID:   body.ProjectID,
		Type:        domain.DocumentType(strings.ToUpper(body.Type)),
		Amount:      body.Amount,
		Title:       body.Title,
		Content:     body.Content,
		ApproverIDs: body.ApproverIDs,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// ProcessApproval handles approve/reject HTTP requests
func (h *HTTPHandler) ProcessApproval(w http.ResponseWriter, r *http.Request) {
	var body ProcessApprovalBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body"))
		return
	}

	documentID := chi.URLParam(r, "documentID")
	err := h.service.ProcessApproval(r.Context(), actor(r), documentID, service.ProcessApprovalRequest{
		Decision: domain.Decision(strings.ToUpper(body.Decision)),
		Comment:  body.Comment,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CancelApproval handles cancel HTTP requests
func (h *HTTPHandler) CancelApproval(w http.ResponseWriter, r *http.Request) {
	if err := h.service.CancelApproval(r.Context(), actor(r), chi.URLParam(r, "documentID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetApprovalDetail handles detail HTTP requests
func (h *HTTPHandler) GetApprovalDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := h.service.GetApprovalDetail(r.Context(), actor(r), chi.URLParam(r, "documentID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDetailResponse(detail))
}

// GetApprovalHistory handles history HTTP requests
func (h *HTTPHandler) GetApprovalHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.GetApprovalHistory(r.Context(), actor(r), chi.URLParam(r, "documentID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]HistoryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, HistoryResponse{
			ID:           e.ID,
			LineID:       e.LineID,
			Action:       e.Action,
			PerformedBy:  e.PerformedBy,
			PerformedAt:  e.PerformedAt,
			StatusBefore: e.StatusBefore,
			StatusAfter:  e.StatusAfter,
			Metadata:     e.Metadata,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": out})
}

// ListPendingApprovals handles "awaiting my decision" HTTP requests
func (h *HTTPHandler) ListPendingApprovals(w http.ResponseWriter, r *http.Request) {
	docs, err := h.service.ListPendingApprovals(r.Context(), actor(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"documents": toDocumentResponses(docs)})
}

// ListMyDocuments handles "drafted by me" HTTP requests
func (h *HTTPHandler) ListMyDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.service.ListMyDocuments(r.Context(), actor(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"documents": toDocumentResponses(docs)})
}

func actor(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(ActorHeader))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := toErrorBody(err)
	status := httpStatus(body.Code)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Request failed")
	}
	writeJSON(w, status, body)
}
