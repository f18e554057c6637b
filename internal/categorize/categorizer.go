package categorize

import (
	"context"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/the491/branchledger/internal/domain"
)

// Assignment is the categorization result for one line item description.
// An empty CategoryID with ProvenanceModel and zero confidence means the
// item is uncategorized and needs a human before verification.
type Assignment struct {
	CategoryID   string
	CategoryName string
	Confidence   float64
	Provenance   domain.Provenance
}

// ClassifierResult is what the classification backend returns: a category
// identifier and, optionally, a confidence score.
type ClassifierResult struct {
	CategoryID string
	Confidence *float64
}

// Classifier is the external classification backend. Implementations are
// not trusted to stay inside the permitted category set; the Categorizer
// validates every answer itself.
type Classifier interface {
	Classify(ctx context.Context, description string, bt domain.BusinessType) (ClassifierResult, error)
}

// Categorizer assigns a cost category to a line item description.
// Layer 1 is keyword rule matching against the business type's table;
// layer 2 is the classification backend. The whole thing is a pure
// function of its inputs plus the backend call.
type Categorizer struct {
	classifier        Classifier
	defaultConfidence float64
	log               zerolog.Logger
}

// New creates a Categorizer. classifier may be nil, in which case unmatched
// descriptions degrade straight to uncategorized.
func New(classifier Classifier, defaultConfidence float64, log zerolog.Logger) *Categorizer {
	return &Categorizer{
		classifier:        classifier,
		defaultConfidence: defaultConfidence,
		log:               log,
	}
}

// Categorize assigns a category to the description for the given business
// type. Rule matches win with confidence 1.0; ties between categories that
// share a keyword resolve to the first category/keyword pair in table
// declaration order. Backend failures and out-of-set answers never surface
// as errors; they produce the uncategorized assignment.
func (c *Categorizer) Categorize(ctx context.Context, description string, bt domain.BusinessType) Assignment {
	normalized := NormalizeDescription(description)

	for _, category := range domain.CategoriesFor(bt) {
		for _, keyword := range category.Keywords {
			if strings.Contains(normalized, NormalizeDescription(keyword)) {
				return Assignment{
					CategoryID:   category.ID,
					CategoryName: category.Name,
					Confidence:   1.0,
					Provenance:   domain.ProvenanceRule,
				}
			}
		}
	}

	return c.classify(ctx, description, bt)
}

// classify runs the backend fallback and validates its answer.
func (c *Categorizer) classify(ctx context.Context, description string, bt domain.BusinessType) Assignment {
	uncategorized := Assignment{Confidence: 0, Provenance: domain.ProvenanceModel}

	if c.classifier == nil {
		return uncategorized
	}

	result, err := c.classifier.Classify(ctx, description, bt)
	if err != nil {
		c.log.Warn().Err(err).Str("description", description).
			Msg("Classification backend failed, leaving item uncategorized")
		return uncategorized
	}

	category, ok := domain.CategoryByID(bt, result.CategoryID)
	if !ok {
		// Fail closed: an identifier outside the permitted set is never
		// accepted, even if the backend was confident about it.
		c.log.Warn().Str("category_id", result.CategoryID).Str("business_type", string(bt)).
			Msg("Classification backend returned out-of-set category, leaving item uncategorized")
		return uncategorized
	}

	confidence := c.defaultConfidence
	if result.Confidence != nil {
		confidence = *result.Confidence
	}

	return Assignment{
		CategoryID:   category.ID,
		CategoryName: category.Name,
		Confidence:   confidence,
		Provenance:   domain.ProvenanceModel,
	}
}

// NormalizeDescription lowercases, trims, strips punctuation and collapses
// whitespace. It is idempotent: normalizing twice yields the same string.
func NormalizeDescription(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	lastSpace := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			continue
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
			}
			lastSpace = true
		default:
			b.WriteRune(r)
			lastSpace = false
		}
	}

	return strings.TrimSpace(b.String())
}
