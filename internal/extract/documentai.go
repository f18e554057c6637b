package extract

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"google.golang.org/api/option"

	"github.com/the491/branchledger/internal/domain"
)

// DocumentAI runs receipt images through a pre-trained invoice processor.
// The processor handles Thai receipts without custom training.
type DocumentAI struct {
	client        *documentai.DocumentProcessorClient
	processorName string
	log           zerolog.Logger
}

// NewDocumentAI creates the adapter. The Document AI endpoint is regional
// and derived from the processor location, not the project location.
func NewDocumentAI(ctx context.Context, projectID, location, processorID string, log zerolog.Logger) (*DocumentAI, error) {
	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", location)
	client, err := documentai.NewDocumentProcessorClient(ctx, option.WithEndpoint(endpoint))
	if err != nil {
		return nil, fmt.Errorf("documentai extractor: client: %w", err)
	}
	return &DocumentAI{
		client:        client,
		processorName: fmt.Sprintf("projects/%s/locations/%s/processors/%s", projectID, location, processorID),
		log:           log,
	}, nil
}

// Close releases the underlying client.
func (d *DocumentAI) Close() error {
	return d.client.Close()
}

// Extract sends the raw document bytes through the invoice processor and
// maps its entities onto a receipt extraction.
func (d *DocumentAI) Extract(ctx context.Context, content []byte, mimeType string) (*Extraction, error) {
	if len(content) == 0 {
		return nil, domain.NewValidationError("file", "empty document")
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	resp, err := d.client.ProcessDocument(ctx, &documentaipb.ProcessRequest{
		Name: d.processorName,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  content,
				MimeType: mimeType,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("documentai extractor: process: %w", err)
	}
	if resp.GetDocument() == nil {
		return nil, fmt.Errorf("documentai extractor: empty document in response")
	}

	extraction := mapDocument(resp.GetDocument())
	d.log.Debug().Int("items", len(extraction.Items)).
		Str("merchant", extraction.Header.Merchant).
		Msg("Receipt extracted")
	return extraction, nil
}

// mapDocument walks the invoice processor's entities. The processor emits
// supplier_name, receipt_date/invoice_date, total_amount and repeated
// line_item entities whose properties hold the description and amount.
func mapDocument(doc *documentaipb.Document) *Extraction {
	extraction := &Extraction{}

	for _, entity := range doc.GetEntities() {
		switch strings.ToLower(entity.GetType()) {
		case "supplier_name", "merchant_name":
			if extraction.Header.Merchant == "" {
				extraction.Header.Merchant = entityText(entity)
			}
		case "receipt_date", "invoice_date":
			if !extraction.Header.HasDate {
				if nv := entity.GetNormalizedValue(); nv.GetDateValue() != nil {
					dv := nv.GetDateValue()
					extraction.Header.Date = civil.Date{
						Year:  int(dv.GetYear()),
						Month: time.Month(dv.GetMonth()),
						Day:   int(dv.GetDay()),
					}
					extraction.Header.HasDate = true
				}
			}
		case "total_amount", "net_amount":
			if extraction.Header.Total.IsZero() {
				if amount, ok := entityAmount(entity); ok {
					extraction.Header.Total = amount
				}
			}
		case "line_item":
			if item, ok := mapLineItem(entity); ok {
				extraction.Items = append(extraction.Items, item)
			}
		}
	}

	return extraction
}

func mapLineItem(entity *documentaipb.Document_Entity) (domain.RawLineItem, bool) {
	item := domain.RawLineItem{Amount: decimal.Zero}

	for _, prop := range entity.GetProperties() {
		switch strings.ToLower(prop.GetType()) {
		case "line_item/description", "line_item/product_code":
			if item.Description == "" {
				item.Description = entityText(prop)
			}
		case "line_item/amount":
			if amount, ok := entityAmount(prop); ok {
				item.Amount = amount
			}
		}
	}

	// Some receipts yield line items without property breakdown; the
	// entity's own text is the best available description.
	if item.Description == "" {
		item.Description = entityText(entity)
	}
	item.Description = strings.TrimSpace(strings.ReplaceAll(item.Description, "\n", " "))
	if item.Description == "" {
		return domain.RawLineItem{}, false
	}
	return item, true
}

// entityText prefers the normalized value over the raw mention.
func entityText(entity *documentaipb.Document_Entity) string {
	if nv := entity.GetNormalizedValue(); nv != nil && nv.GetText() != "" {
		return nv.GetText()
	}
	return entity.GetMentionText()
}

// entityAmount parses a money entity. The normalized MoneyValue is exact
// when present; otherwise the mention text is cleaned and parsed.
func entityAmount(entity *documentaipb.Document_Entity) (decimal.Decimal, bool) {
	if nv := entity.GetNormalizedValue(); nv.GetMoneyValue() != nil {
		mv := nv.GetMoneyValue()
		units := decimal.NewFromInt(mv.GetUnits())
		nanos := decimal.New(int64(mv.GetNanos()), -9)
		return units.Add(nanos), true
	}

	text := strings.TrimSpace(entity.GetMentionText())
	text = strings.ReplaceAll(text, ",", "")
	text = strings.TrimLeft(text, "฿$ ")
	if text == "" {
		return decimal.Decimal{}, false
	}
	amount, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return amount, true
}
