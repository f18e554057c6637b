package receipt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/the491/branchledger/internal/categorize"
	"github.com/the491/branchledger/internal/domain"
)

// Repository is the mutable draft store for receipts. Only DRAFT receipts
// are ever updated through it; terminal receipts are read-only facts.
type Repository interface {
	CreateReceipt(ctx context.Context, r *domain.Receipt) error
	GetReceipt(ctx context.Context, id string) (*domain.Receipt, error)
	UpdateReceipt(ctx context.Context, r *domain.Receipt) error
	ListReceipts(ctx context.Context, branchID string, status domain.ReceiptStatus, limit int) ([]*domain.Receipt, error)
}

// BranchRepository resolves branches to their business type.
type BranchRepository interface {
	GetBranch(ctx context.Context, id string) (*domain.Branch, error)
	ListBranches(ctx context.Context) ([]*domain.Branch, error)
}

// Committer writes a verified receipt into the append-only ledger.
type Committer interface {
	CommitReceipt(ctx context.Context, r *domain.Receipt) ([]*domain.LedgerRow, error)
}

// Header carries the receipt-level fields the extraction step produced,
// plus the stored image location when the receipt came from an upload.
type Header struct {
	Merchant string
	Date     civil.Date
	Total    decimal.Decimal
	ImageURI string
}

// VerifyItem is one line item as submitted by the verifying human,
// possibly corrected from what the categorizer produced.
type VerifyItem struct {
	Description string
	Amount      decimal.Decimal
	CategoryID  string
}

// VerifyInput is the payload of a DRAFT -> VERIFIED transition.
type VerifyInput struct {
	Items      []VerifyItem
	TotalCheck decimal.Decimal
	VerifiedBy string
}

// Service owns the receipt lifecycle: ingestion into DRAFT, the
// DRAFT -> VERIFIED transition with its ledger commit, and rejection.
type Service struct {
	receipts    Repository
	branches    BranchRepository
	committer   Committer
	categorizer *categorize.Categorizer
	tolerance   decimal.Decimal
	log         zerolog.Logger

	// verifyLocks serializes verification per receipt ID so two concurrent
	// submissions cannot both pass the preconditions.
	mu          sync.Mutex
	verifyLocks map[string]*sync.Mutex
}

// NewService wires the lifecycle service.
func NewService(receipts Repository, branches BranchRepository, committer Committer,
	categorizer *categorize.Categorizer, tolerance decimal.Decimal, log zerolog.Logger) *Service {
	return &Service{
		receipts:    receipts,
		branches:    branches,
		committer:   committer,
		categorizer: categorizer,
		tolerance:   tolerance,
		log:         log,
		verifyLocks: make(map[string]*sync.Mutex),
	}
}

// Ingest categorizes the raw line items and stores a new DRAFT receipt.
// Items are categorized concurrently; each categorization is an independent
// pure computation, so no ordering is required between them.
func (s *Service) Ingest(ctx context.Context, branchID, createdBy string, header Header, raw []domain.RawLineItem) (*domain.Receipt, error) {
	branch, err := s.branches.GetBranch(ctx, branchID)
	if err != nil {
		return nil, fmt.Errorf("Ingest: branch %s: %w", branchID, err)
	}

	items := make([]domain.LineItem, len(raw))
	var wg sync.WaitGroup
	for i, rawItem := range raw {
		wg.Add(1)
		go func(i int, rawItem domain.RawLineItem) {
			defer wg.Done()
			assignment := s.categorizer.Categorize(ctx, rawItem.Description, branch.Type)
			items[i] = domain.LineItem{
				ID:           fmt.Sprintf("item_%d", i+1),
				Description:  rawItem.Description,
				Amount:       rawItem.Amount,
				CategoryID:   assignment.CategoryID,
				CategoryName: assignment.CategoryName,
				Confidence:   assignment.Confidence,
				Provenance:   assignment.Provenance,
			}
		}(i, rawItem)
	}
	wg.Wait()

	r := &domain.Receipt{
		ID:        uuid.NewString(),
		BranchID:  branchID,
		Status:    domain.ReceiptStatusDraft,
		Merchant:  header.Merchant,
		Date:      header.Date,
		Total:     header.Total,
		ImageURI:  header.ImageURI,
		Items:     items,
		CreatedBy: createdBy,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.receipts.CreateReceipt(ctx, r); err != nil {
		return nil, fmt.Errorf("Ingest: creating receipt: %w", err)
	}

	s.log.Info().Str("receipt_id", r.ID).Str("branch_id", branchID).
		Int("items", len(items)).Msg("Receipt ingested as DRAFT")

	return r, nil
}

// Get returns a receipt by ID.
func (s *Service) Get(ctx context.Context, id string) (*domain.Receipt, error) {
	return s.receipts.GetReceipt(ctx, id)
}

// List returns receipts filtered by branch and status.
func (s *Service) List(ctx context.Context, branchID string, status domain.ReceiptStatus, limit int) ([]*domain.Receipt, error) {
	return s.receipts.ListReceipts(ctx, branchID, status, limit)
}

// Verify runs the DRAFT -> VERIFIED transition. The submitted items replace
// the draft's items; preconditions are checked against the submission, not
// the stale draft. The ledger commit and the status flip form one unit:
// rows are committed first (idempotently), the flip happens only after the
// commit succeeds, so no reader ever observes a VERIFIED receipt without
// its ledger rows. A crash between the two steps leaves a DRAFT whose rows
// already exist; retrying the verification re-commits (duplicates are
// skipped at the storage boundary) and completes the flip.
func (s *Service) Verify(ctx context.Context, receiptID string, input VerifyInput) (*domain.Receipt, error) {
	unlock := s.lockReceipt(receiptID)
	defer unlock()

	r, err := s.receipts.GetReceipt(ctx, receiptID)
	if err != nil {
		return nil, err
	}
	if r.Status != domain.ReceiptStatusDraft {
		return nil, fmt.Errorf("Verify: receipt %s is %s: %w", receiptID, r.Status, domain.ErrIllegalTransition)
	}

	branch, err := s.branches.GetBranch(ctx, r.BranchID)
	if err != nil {
		return nil, fmt.Errorf("Verify: branch %s: %w", r.BranchID, err)
	}

	if err := s.validateVerifyInput(branch.Type, input); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	verified := *r
	verified.Items = mergeVerifiedItems(r.Items, input.Items)
	verified.Total = input.TotalCheck
	verified.Status = domain.ReceiptStatusVerified
	verified.VerifiedBy = input.VerifiedBy
	verified.VerifiedAt = &now

	// Commit before flip. Committer rows are keyed by receipt ID + item
	// ordinal, so a retry after a partial failure cannot duplicate them.
	if _, err := s.committer.CommitReceipt(ctx, &verified); err != nil {
		return nil, fmt.Errorf("Verify: ledger commit for receipt %s: %w", receiptID, err)
	}

	if err := s.receipts.UpdateReceipt(ctx, &verified); err != nil {
		return nil, fmt.Errorf("Verify: persisting status flip for receipt %s: %w", receiptID, err)
	}

	s.log.Info().Str("receipt_id", receiptID).Str("verified_by", input.VerifiedBy).
		Int("items", len(verified.Items)).Msg("Receipt verified and committed to ledger")

	return &verified, nil
}

// Reject runs the DRAFT -> REJECTED transition. No preconditions beyond
// being in DRAFT, and no ledger effect.
func (s *Service) Reject(ctx context.Context, receiptID string) (*domain.Receipt, error) {
	unlock := s.lockReceipt(receiptID)
	defer unlock()

	r, err := s.receipts.GetReceipt(ctx, receiptID)
	if err != nil {
		return nil, err
	}
	if r.Status != domain.ReceiptStatusDraft {
		return nil, fmt.Errorf("Reject: receipt %s is %s: %w", receiptID, r.Status, domain.ErrIllegalTransition)
	}

	r.Status = domain.ReceiptStatusRejected
	if err := s.receipts.UpdateReceipt(ctx, r); err != nil {
		return nil, fmt.Errorf("Reject: updating receipt %s: %w", receiptID, err)
	}

	s.log.Info().Str("receipt_id", receiptID).Msg("Receipt rejected")
	return r, nil
}

// validateVerifyInput checks the verification preconditions: every item
// categorized with a category valid for the branch type, non-negative
// amounts, and the item sum within tolerance of the submitted total.
func (s *Service) validateVerifyInput(bt domain.BusinessType, input VerifyInput) error {
	if len(input.Items) == 0 {
		return domain.NewValidationError("items", "at least one line item is required")
	}

	sum := decimal.Zero
	for i, item := range input.Items {
		if item.CategoryID == "" {
			return domain.NewValidationError(
				fmt.Sprintf("items[%d].category_id", i),
				"item %q has no category; resolve uncategorized items before verifying", item.Description)
		}
		if !domain.ValidCategory(bt, item.CategoryID) {
			return domain.NewValidationError(
				fmt.Sprintf("items[%d].category_id", i),
				"category %q is not valid for %s branches", item.CategoryID, bt)
		}
		if item.Amount.IsNegative() {
			return domain.NewValidationError(
				fmt.Sprintf("items[%d].amount", i),
				"amount must be non-negative, got %s", item.Amount)
		}
		sum = sum.Add(item.Amount)
	}

	if sum.Sub(input.TotalCheck).Abs().GreaterThan(s.tolerance) {
		return domain.NewValidationError("total_check",
			"total check (%s) does not match sum of items (%s)", input.TotalCheck, sum)
	}

	return nil
}

// mergeVerifiedItems builds the final item list from the submission.
// Items unchanged from the draft keep their original provenance and
// confidence; anything the human altered is marked MANUAL.
func mergeVerifiedItems(draft []domain.LineItem, submitted []VerifyItem) []domain.LineItem {
	items := make([]domain.LineItem, len(submitted))
	for i, sub := range submitted {
		item := domain.LineItem{
			ID:          fmt.Sprintf("item_%d", i+1),
			Description: sub.Description,
			Amount:      sub.Amount,
			CategoryID:  sub.CategoryID,
			Provenance:  domain.ProvenanceManual,
			ManualEdit:  true,
			Confidence:  1.0,
		}

		if i < len(draft) {
			orig := draft[i]
			if orig.Description == sub.Description &&
				orig.Amount.Equal(sub.Amount) &&
				orig.CategoryID == sub.CategoryID {
				item.Provenance = orig.Provenance
				item.Confidence = orig.Confidence
				item.ManualEdit = orig.ManualEdit
			}
		}

		// Denormalize the category name from whichever table owns the ID.
		if item.CategoryName == "" {
			for _, bt := range []domain.BusinessType{domain.BusinessTypeCoffee, domain.BusinessTypeRestaurant} {
				if cat, ok := domain.CategoryByID(bt, item.CategoryID); ok {
					item.CategoryName = cat.Name
					break
				}
			}
		}

		items[i] = item
	}
	return items
}

// lockReceipt takes the per-receipt verification lock, creating it on
// first use. At most one Verify or Reject for a given receipt ID runs at
// a time; independent receipts proceed concurrently.
func (s *Service) lockReceipt(receiptID string) func() {
	s.mu.Lock()
	lock, ok := s.verifyLocks[receiptID]
	if !ok {
		lock = &sync.Mutex{}
		s.verifyLocks[receiptID] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
