package summary

import (
	"context"
	"sort"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/the491/branchledger/internal/domain"
	"github.com/the491/branchledger/internal/ledger"
	"github.com/the491/branchledger/internal/receipt"
)

// CategoryTotal is one category's aggregate spend within a summary window.
type CategoryTotal struct {
	CategoryID   string          `json:"category_id"`
	CategoryName string          `json:"category_name"`
	Total        decimal.Decimal `json:"total"`
}

// Report is the aggregate view of a branch over a date range. All monetary
// values are exact decimals computed from committed ledger rows only; draft
// and rejected receipts never contribute.
type Report struct {
	BranchID string     `json:"branch_id"`
	Start    civil.Date `json:"start"`
	End      civil.Date `json:"end"`

	// CategoryFilter echoes the optional expense-category filter. Revenue
	// is never filtered; a filter narrows expenses only.
	CategoryFilter string `json:"category_filter,omitempty"`

	TotalRevenue decimal.Decimal `json:"total_revenue"`
	TotalExpense decimal.Decimal `json:"total_expense"`
	Net          decimal.Decimal `json:"net"`

	// Breakdown lists per-category expense totals, largest first.
	Breakdown []CategoryTotal `json:"breakdown"`

	// TopCategory is nil when the window has no expenses.
	TopCategory *CategoryTotal `json:"top_category,omitempty"`

	// PrimaryCostPercent is primary-ingredient spend over revenue, as a
	// percentage. Zero revenue yields zero rather than a division error.
	PrimaryCostPercent decimal.Decimal `json:"primary_cost_percent"`
}

// Engine computes summary reports from the committed ledger.
type Engine struct {
	rows     ledger.Repository
	branches receipt.BranchRepository

	// primaryCost maps business type to the category IDs whose spend
	// counts toward the primary-ingredient cost ratio.
	primaryCost map[domain.BusinessType][]string
	log         zerolog.Logger
}

// NewEngine wires a summary engine over the ledger repository.
func NewEngine(rows ledger.Repository, branches receipt.BranchRepository,
	primaryCost map[domain.BusinessType][]string, log zerolog.Logger) *Engine {
	return &Engine{rows: rows, branches: branches, primaryCost: primaryCost, log: log}
}

// Summarize aggregates the branch's committed rows between start and end
// inclusive. categoryID optionally restricts the expense side to a single
// category; it must belong to the branch's business type.
func (e *Engine) Summarize(ctx context.Context, branchID string, start, end civil.Date, categoryID string) (*Report, error) {
	if !start.IsValid() || !end.IsValid() {
		return nil, domain.NewValidationError("range", "start and end must be valid dates")
	}
	if end.Before(start) {
		return nil, domain.NewValidationError("range", "end %s is before start %s", end, start)
	}

	branch, err := e.branches.GetBranch(ctx, branchID)
	if err != nil {
		return nil, err
	}
	if categoryID != "" && !domain.ValidCategory(branch.Type, categoryID) {
		return nil, domain.NewValidationError("category_id",
			"category %q is not valid for %s branches", categoryID, branch.Type)
	}

	rows, err := e.rows.QueryRange(ctx, branchID, start, end)
	if err != nil {
		return nil, err
	}

	report := &Report{
		BranchID:       branchID,
		Start:          start,
		End:            end,
		CategoryFilter: categoryID,
		TotalRevenue:   decimal.Zero,
		TotalExpense:   decimal.Zero,
	}

	primary := decimal.Zero
	primarySet := map[string]bool{}
	for _, id := range e.primaryCost[branch.Type] {
		primarySet[id] = true
	}

	perCategory := map[string]*CategoryTotal{}
	for _, row := range rows {
		switch row.Flow {
		case domain.FlowRevenue:
			// Revenue always counts in full, even under a category filter.
			report.TotalRevenue = report.TotalRevenue.Add(row.Amount)
		case domain.FlowExpense:
			if primarySet[row.CategoryID] {
				primary = primary.Add(row.Amount)
			}
			if categoryID != "" && row.CategoryID != categoryID {
				continue
			}
			report.TotalExpense = report.TotalExpense.Add(row.Amount)
			ct, ok := perCategory[row.CategoryID]
			if !ok {
				ct = &CategoryTotal{
					CategoryID:   row.CategoryID,
					CategoryName: row.CategoryName,
					Total:        decimal.Zero,
				}
				perCategory[row.CategoryID] = ct
			}
			ct.Total = ct.Total.Add(row.Amount)
		}
	}

	report.Net = report.TotalRevenue.Sub(report.TotalExpense)

	report.Breakdown = make([]CategoryTotal, 0, len(perCategory))
	for _, ct := range perCategory {
		report.Breakdown = append(report.Breakdown, *ct)
	}
	sort.Slice(report.Breakdown, func(i, j int) bool {
		if !report.Breakdown[i].Total.Equal(report.Breakdown[j].Total) {
			return report.Breakdown[i].Total.GreaterThan(report.Breakdown[j].Total)
		}
		return report.Breakdown[i].CategoryID < report.Breakdown[j].CategoryID
	})
	if len(report.Breakdown) > 0 {
		top := report.Breakdown[0]
		report.TopCategory = &top
	}

	if report.TotalRevenue.IsPositive() {
		report.PrimaryCostPercent = primary.
			Div(report.TotalRevenue).
			Mul(decimal.NewFromInt(100)).
			Round(2)
	} else {
		report.PrimaryCostPercent = decimal.Zero
	}

	e.log.Debug().Str("branch_id", branchID).
		Str("start", start.String()).Str("end", end.String()).
		Int("rows", len(rows)).Msg("Summary computed")

	return report, nil
}
