package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/the491/branchledger/internal/api/middleware"
	"github.com/the491/branchledger/internal/domain"
	"github.com/the491/branchledger/internal/receipt"
)

// BranchWriter is the mutable side of the branch registry.
type BranchWriter interface {
	UpsertBranch(ctx context.Context, b *domain.Branch) error
}

// BranchesHandler serves the branch registry endpoints.
type BranchesHandler struct {
	branches receipt.BranchRepository
	writer   BranchWriter
	log      zerolog.Logger
}

// NewBranchesHandler creates the handler.
func NewBranchesHandler(branches receipt.BranchRepository, writer BranchWriter, log zerolog.Logger) *BranchesHandler {
	return &BranchesHandler{branches: branches, writer: writer, log: log}
}

// ListBranches handles GET /api/branches.
func (h *BranchesHandler) ListBranches(w http.ResponseWriter, r *http.Request) {
	branches, err := h.branches.ListBranches(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list branches")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list branches")
		return
	}
	if branches == nil {
		branches = []*domain.Branch{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"branches": branches,
		"count":    len(branches),
	})
}

// GetBranch handles GET /api/branches/{id}. The response includes the
// category table the branch's business type selects.
func (h *BranchesHandler) GetBranch(w http.ResponseWriter, r *http.Request, branchID string) {
	branch, err := h.branches.GetBranch(r.Context(), branchID)
	if err != nil {
		if errors.Is(err, domain.ErrBranchNotFound) {
			middleware.WriteError(w, http.StatusNotFound, "Branch not found")
			return
		}
		h.log.Error().Err(err).Str("branch_id", branchID).Msg("Failed to get branch")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get branch")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"branch":     branch,
		"categories": domain.CategoriesFor(branch.Type),
	})
}

type upsertBranchRequest struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// UpsertBranch handles PUT /api/branches/{id}.
func (h *BranchesHandler) UpsertBranch(w http.ResponseWriter, r *http.Request, branchID string) {
	var req upsertBranchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" {
		middleware.WriteError(w, http.StatusBadRequest, "name is required")
		return
	}

	bt, err := domain.ParseBusinessType(req.Type)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "type must be COFFEE or RESTAURANT")
		return
	}

	branch := &domain.Branch{ID: branchID, Name: req.Name, Type: bt}
	if err := h.writer.UpsertBranch(r.Context(), branch); err != nil {
		h.log.Error().Err(err).Str("branch_id", branchID).Msg("Failed to upsert branch")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to save branch")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, branch)
}
