package pos

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/the491/branchledger/internal/domain"
	"github.com/the491/branchledger/internal/ledger"
)

// Column roles in a POS export. Header names vary across POS vendors and
// languages; headerAliases maps the normalized variants onto these roles.
const (
	colDate    = "date"
	colAmount  = "amount"
	colPayment = "payment_method"
)

// headerAliases is keyed by normalized header text. Thai aliases come from
// the POS exports the branches actually produce.
var headerAliases = map[string]string{
	"date":           colDate,
	"txn date":       colDate,
	"วันที่":         colDate,
	"amount":         colAmount,
	"total":          colAmount,
	"sales":          colAmount,
	"ยอดขาย":         colAmount,
	"ยอดรวม":         colAmount,
	"payment":        colPayment,
	"payment method": colPayment,
	"วิธีชำระ":       colPayment,
	"ช่องทางชำระ":    colPayment,
}

// headerCleanRe keeps lowercase latin, digits, spaces and the Thai block.
var headerCleanRe = regexp.MustCompile(`[^a-z0-9 \x{0E00}-\x{0E7F}]+`)

// dateLayouts are the day-first export formats tried after ISO 8601.
var dateLayouts = []string{"02/01/2006", "2/1/2006"}

// normalizeHeader lowercases a header cell and strips everything outside
// letters, digits and Thai text so "Payment-Method " and "payment method"
// land on the same alias key.
func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = headerCleanRe.ReplaceAllString(h, " ")
	return strings.Join(strings.Fields(h), " ")
}

// ParseCSV reads a POS daily-sales export into records ready for a batch
// commit. The first row is the header; date, amount and payment columns are
// located by alias, extra columns are ignored. Any unparsable row aborts
// the whole file, a partial import would break batch idempotency.
func ParseCSV(r io.Reader) ([]ledger.POSRecord, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, domain.NewValidationError("file", "CSV file is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("ParseCSV: reading header: %w", err)
	}

	cols := map[string]int{}
	for i, cell := range header {
		if role, ok := headerAliases[normalizeHeader(cell)]; ok {
			if _, dup := cols[role]; !dup {
				cols[role] = i
			}
		}
	}
	for _, role := range []string{colDate, colAmount, colPayment} {
		if _, ok := cols[role]; !ok {
			return nil, domain.NewValidationError("header", "no column found for %s", role)
		}
	}

	var records []ledger.POSRecord
	line := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("ParseCSV: line %d: %w", line, err)
		}

		date, err := parseDate(row[cols[colDate]])
		if err != nil {
			return nil, domain.NewValidationError("date", "line %d: %v", line, err)
		}
		amount, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(row[cols[colAmount]]), ",", ""))
		if err != nil {
			return nil, domain.NewValidationError("amount", "line %d: bad amount %q", line, row[cols[colAmount]])
		}

		records = append(records, ledger.POSRecord{
			Date:         date,
			Amount:       amount,
			PaymentLabel: strings.TrimSpace(row[cols[colPayment]]),
		})
	}

	if len(records) == 0 {
		return nil, domain.NewValidationError("file", "CSV file has a header but no data rows")
	}
	return records, nil
}

func parseDate(s string) (civil.Date, error) {
	s = strings.TrimSpace(s)
	if d, err := civil.ParseDate(s); err == nil {
		return d, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return civil.DateOf(t), nil
		}
	}
	return civil.Date{}, fmt.Errorf("unrecognized date %q", s)
}

// BatchID derives a stable batch identifier from the branch and the raw
// file bytes. Re-uploading the same file yields the same ID, which makes
// the resulting ledger rows collide instead of duplicating.
func BatchID(branchID string, fileBytes []byte) string {
	sum := sha256.Sum256(fileBytes)
	return fmt.Sprintf("pos_%s_%s", branchID, hex.EncodeToString(sum[:8]))
}
