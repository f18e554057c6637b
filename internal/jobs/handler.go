package jobs

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/the491/branchledger/internal/extract"
	"github.com/the491/branchledger/internal/receipt"
)

// ImageFetcher downloads a stored receipt image by its gs:// URI.
type ImageFetcher interface {
	Fetch(ctx context.Context, gcsURI string) ([]byte, error)
}

// IngestHandler is the worker side of receipt ingestion: fetch the image,
// extract its contents, create the draft.
type IngestHandler struct {
	images    ImageFetcher
	extractor extract.Extractor
	service   *receipt.Service
	log       zerolog.Logger
}

// NewIngestHandler wires the ingestion handler.
func NewIngestHandler(images ImageFetcher, extractor extract.Extractor, service *receipt.Service, log zerolog.Logger) *IngestHandler {
	return &IngestHandler{images: images, extractor: extractor, service: service, log: log}
}

// Handle processes one queued job. Returning an error signals the queue
// to retry; ingestion is safe to retry because a failed attempt creates
// no draft.
func (h *IngestHandler) Handle(ctx context.Context, job Job) error {
	ingest, ok := job.(*IngestReceiptJob)
	if !ok {
		return fmt.Errorf("ingest handler: unexpected job type %s", job.GetType())
	}

	content, err := h.images.Fetch(ctx, ingest.ImageURI)
	if err != nil {
		return fmt.Errorf("ingest handler: fetching image: %w", err)
	}

	extraction, err := h.extractor.Extract(ctx, content, ingest.MimeType)
	if err != nil {
		return fmt.Errorf("ingest handler: extraction: %w", err)
	}

	header := receipt.Header{
		Merchant: extraction.Header.Merchant,
		Date:     extraction.Header.Date,
		Total:    extraction.Header.Total,
		ImageURI: ingest.ImageURI,
	}
	// Receipts with no readable date default to the upload day; the
	// verifier corrects it if wrong.
	if !extraction.Header.HasDate {
		header.Date = civil.DateOf(time.Now().UTC())
	}

	r, err := h.service.Ingest(ctx, ingest.BranchID, ingest.UploadedBy, header, extraction.Items)
	if err != nil {
		return fmt.Errorf("ingest handler: creating draft: %w", err)
	}
	ingest.ReceiptID = r.ID

	h.log.Info().Str("job_id", ingest.JobID).Str("receipt_id", r.ID).
		Str("branch_id", ingest.BranchID).Msg("Receipt image ingested")
	return nil
}
