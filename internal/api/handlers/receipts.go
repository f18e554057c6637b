package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/the491/branchledger/internal/api/middleware"
	"github.com/the491/branchledger/internal/domain"
	"github.com/the491/branchledger/internal/jobs"
	"github.com/the491/branchledger/internal/receipt"
)

// maxUploadBytes caps receipt image uploads at 10 MiB.
const maxUploadBytes = 10 << 20

// ImageStore stores an uploaded image and returns its gs:// URI.
type ImageStore interface {
	Save(ctx context.Context, r io.Reader, filename string) (string, error)
}

// ReceiptsHandler serves the receipt lifecycle endpoints.
type ReceiptsHandler struct {
	service   *receipt.Service
	images    ImageStore
	publisher jobs.Publisher
	log       zerolog.Logger
}

// NewReceiptsHandler creates the handler. images and publisher may be nil
// when image upload is disabled; the JSON ingestion path works regardless.
func NewReceiptsHandler(service *receipt.Service, images ImageStore, publisher jobs.Publisher, log zerolog.Logger) *ReceiptsHandler {
	return &ReceiptsHandler{service: service, images: images, publisher: publisher, log: log}
}

type ingestItemRequest struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

type ingestRequest struct {
	BranchID string              `json:"branch_id"`
	Merchant string              `json:"merchant"`
	Date     string              `json:"date"`
	Total    decimal.Decimal     `json:"total"`
	Items    []ingestItemRequest `json:"items"`
}

// CreateReceipt handles POST /api/receipts. It ingests pre-extracted line
// items directly, without the OCR path.
func (h *ReceiptsHandler) CreateReceipt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.BranchID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "branch_id is required")
		return
	}
	if len(req.Items) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "at least one item is required")
		return
	}

	date, err := civil.ParseDate(req.Date)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	raw := make([]domain.RawLineItem, len(req.Items))
	for i, item := range req.Items {
		raw[i] = domain.RawLineItem{Description: item.Description, Amount: item.Amount}
	}

	header := receipt.Header{Merchant: req.Merchant, Date: date, Total: req.Total}
	created, err := h.service.Ingest(ctx, req.BranchID, middleware.UserID(ctx), header, raw)
	if err != nil {
		h.writeServiceError(w, err, "Failed to create receipt")
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, created)
}

// UploadReceipt handles POST /api/receipts/upload. The multipart image is
// stored in GCS and an ingestion job is queued; OCR and categorization run
// asynchronously.
func (h *ReceiptsHandler) UploadReceipt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.images == nil || h.publisher == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "Image upload is not configured")
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	branchID := r.FormValue("branch_id")
	if branchID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "branch_id is required")
		return
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	uri, err := h.images.Save(ctx, file, fileHeader.Filename)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to store receipt image")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to store image")
		return
	}

	job := &jobs.IngestReceiptJob{
		BranchID:   branchID,
		ImageURI:   uri,
		MimeType:   fileHeader.Header.Get("Content-Type"),
		UploadedBy: middleware.UserID(ctx),
	}
	if err := h.publisher.PublishIngestReceipt(ctx, job); err != nil {
		h.log.Error().Err(err).Msg("Failed to enqueue ingestion job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue ingestion")
		return
	}

	h.log.Info().Str("job_id", job.JobID).Str("branch_id", branchID).
		Str("image_uri", uri).Msg("Receipt upload accepted")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id":    job.JobID,
		"image_uri": uri,
		"status":    string(job.Status),
	})
}

// GetReceipt handles GET /api/receipts/{id}.
func (h *ReceiptsHandler) GetReceipt(w http.ResponseWriter, r *http.Request, receiptID string) {
	rec, err := h.service.Get(r.Context(), receiptID)
	if err != nil {
		if errors.Is(err, domain.ErrReceiptNotFound) {
			middleware.WriteError(w, http.StatusNotFound, "Receipt not found")
			return
		}
		h.log.Error().Err(err).Str("receipt_id", receiptID).Msg("Failed to get receipt")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get receipt")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, rec)
}

// ListReceipts handles GET /api/receipts.
func (h *ReceiptsHandler) ListReceipts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	branchID := query.Get("branch_id")
	if branchID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "branch_id is required")
		return
	}

	limit := 50
	if limitStr := query.Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			limit = n
		}
	}

	receipts, err := h.service.List(r.Context(), branchID, domain.ReceiptStatus(query.Get("status")), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list receipts")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list receipts")
		return
	}
	if receipts == nil {
		receipts = []*domain.Receipt{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"receipts": receipts,
		"count":    len(receipts),
	})
}

type verifyItemRequest struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	CategoryID  string          `json:"category_id"`
}

type verifyRequest struct {
	Items      []verifyItemRequest `json:"items"`
	TotalCheck decimal.Decimal     `json:"total_check"`
}

// VerifyReceipt handles POST /api/receipts/{id}/verify.
func (h *ReceiptsHandler) VerifyReceipt(w http.ResponseWriter, r *http.Request, receiptID string) {
	ctx := r.Context()

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	input := receipt.VerifyInput{
		Items:      make([]receipt.VerifyItem, len(req.Items)),
		TotalCheck: req.TotalCheck,
		VerifiedBy: middleware.UserID(ctx),
	}
	for i, item := range req.Items {
		input.Items[i] = receipt.VerifyItem{
			Description: item.Description,
			Amount:      item.Amount,
			CategoryID:  item.CategoryID,
		}
	}

	verified, err := h.service.Verify(ctx, receiptID, input)
	if err != nil {
		h.writeServiceError(w, err, "Failed to verify receipt")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, verified)
}

// RejectReceipt handles POST /api/receipts/{id}/reject.
func (h *ReceiptsHandler) RejectReceipt(w http.ResponseWriter, r *http.Request, receiptID string) {
	rejected, err := h.service.Reject(r.Context(), receiptID)
	if err != nil {
		h.writeServiceError(w, err, "Failed to reject receipt")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, rejected)
}

// writeServiceError maps domain errors onto HTTP statuses.
func (h *ReceiptsHandler) writeServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, domain.ErrReceiptNotFound):
		middleware.WriteError(w, http.StatusNotFound, "Receipt not found")
	case errors.Is(err, domain.ErrBranchNotFound):
		middleware.WriteError(w, http.StatusNotFound, "Branch not found")
	case errors.Is(err, domain.ErrIllegalTransition):
		middleware.WriteError(w, http.StatusConflict, err.Error())
	case domain.IsValidation(err):
		middleware.WriteError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.log.Error().Err(err).Msg(fallback)
		middleware.WriteError(w, http.StatusInternalServerError, fallback)
	}
}
