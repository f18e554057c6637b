package categorize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/the491/branchledger/internal/domain"
)

// GeminiClassifier calls Gemini with the description and the branch's
// permitted category set. It expects STRICT JSON back; any fence or prose
// the model adds anyway gets stripped before parsing.
type GeminiClassifier struct {
	model string
}

// NewGeminiClassifier creates a classifier using the given Gemini model name.
func NewGeminiClassifier(model string) *GeminiClassifier {
	return &GeminiClassifier{model: model}
}

// Classify implements the Classifier interface.
func (g *GeminiClassifier) Classify(ctx context.Context, description string, bt domain.BusinessType) (ClassifierResult, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return ClassifierResult{}, fmt.Errorf("Classify: create genai client: %w", err)
	}

	prompt := buildClassifyPrompt(description, bt)

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: prompt},
			},
		},
	}

	resp, err := client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return ClassifierResult{}, fmt.Errorf("Classify: generate content: %w", err)
	}

	rawText := resp.Text()
	if rawText == "" {
		return ClassifierResult{}, fmt.Errorf("Classify: empty response from model")
	}

	clean := cleanModelJSON(rawText)

	var parsed struct {
		CategoryID string   `json:"category_id"`
		Confidence *float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(clean), &parsed); err != nil {
		return ClassifierResult{}, fmt.Errorf("Classify: unmarshal JSON: %w\nraw response: %s", err, rawText)
	}

	return ClassifierResult{
		CategoryID: strings.TrimSpace(parsed.CategoryID),
		Confidence: parsed.Confidence,
	}, nil
}

// buildClassifyPrompt constrains the model to the category table of the
// given business type.
func buildClassifyPrompt(description string, bt domain.BusinessType) string {
	var b strings.Builder

	b.WriteString("You are an expense categorizer for a ")
	b.WriteString(strings.ToLower(string(bt)))
	b.WriteString(" business in Thailand.\n\n")
	b.WriteString("Task:\n")
	b.WriteString("- Assign the line item below to exactly one category ID.\n")
	b.WriteString("- Output STRICT JSON only (no comments, no extra text).\n")
	b.WriteString("- Output shape: {\"category_id\": \"...\", \"confidence\": 0.0-1.0}\n\n")

	b.WriteString("Use ONLY the following category IDs:\n\n")
	for _, c := range domain.CategoriesFor(bt) {
		b.WriteString("- " + c.ID + ": " + c.Name)
		if len(c.Keywords) > 0 {
			b.WriteString(" (examples: " + strings.Join(c.Keywords, ", ") + ")")
		}
		b.WriteString("\n")
	}

	b.WriteString("\nReturn ONLY valid raw JSON.\n")
	b.WriteString("Do NOT wrap the response in code fences.\n")
	b.WriteString("Do NOT use ```json or any Markdown.\n\n")
	b.WriteString("Line item: " + description + "\n")

	return b.String()
}

// cleanModelJSON strips Markdown fences and surrounding junk if the model
// ignored the formatting instructions.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	s = strings.TrimSpace(s)

	// Extra safety: keep only from the first '{' to the last '}'.
	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}

	return s
}
