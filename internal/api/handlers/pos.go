package handlers

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/the491/branchledger/internal/api/middleware"
	"github.com/the491/branchledger/internal/domain"
	"github.com/the491/branchledger/internal/ledger"
	"github.com/the491/branchledger/internal/pos"
)

// POSHandler serves the daily POS revenue import endpoint.
type POSHandler struct {
	committer *ledger.Committer
	log       zerolog.Logger
}

// NewPOSHandler creates the handler.
func NewPOSHandler(committer *ledger.Committer, log zerolog.Logger) *POSHandler {
	return &POSHandler{committer: committer, log: log}
}

// ImportBatch handles POST /api/pos/import. The CSV file is parsed and
// committed as one batch; the batch ID is derived from the file contents,
// so re-uploading the same file is a no-op.
func (h *POSHandler) ImportBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	branchID := r.FormValue("branch_id")
	if branchID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "branch_id is required")
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Failed to read file")
		return
	}

	records, err := pos.ParseCSV(bytes.NewReader(raw))
	if err != nil {
		if domain.IsValidation(err) {
			middleware.WriteError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		middleware.WriteError(w, http.StatusBadRequest, "Failed to parse CSV")
		return
	}

	batch := &ledger.POSBatch{
		BatchID:    pos.BatchID(branchID, raw),
		BranchID:   branchID,
		ImportedBy: middleware.UserID(ctx),
		Records:    records,
	}

	inserted, err := h.committer.CommitBatch(ctx, batch)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNegativeBatchTotal):
			middleware.WriteError(w, http.StatusUnprocessableEntity, "Batch total is negative; file rejected")
		case domain.IsValidation(err):
			middleware.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			h.log.Error().Err(err).Str("batch_id", batch.BatchID).Msg("Failed to commit POS batch")
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to commit batch")
		}
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"batch_id": batch.BatchID,
		"records":  len(records),
		"inserted": inserted,
		"skipped":  len(records) - inserted,
		"total":    batch.Total(),
	})
}
