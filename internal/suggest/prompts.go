package suggest

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/smartchecklab/smartcheck/internal/checklist"
)

// reviewDigest is the review outcome as presented to the model.
type reviewDigest struct {
	CheckID string `json:"check_id"`
	Name    string `json:"name,omitempty"`
	Checked bool   `json:"checked"`
	Remarks string `json:"remarks,omitempty"`
}

func digestReview(input Input, items []checklist.ChecklistItem) string {
	names := make(map[int64]string, len(items))
	for _, item := range items {
		names[item.CheckID] = item.Name
	}

	digests := make([]reviewDigest, 0, len(input.Review))
	for checkID, result := range input.Review {
		digests = append(digests, reviewDigest{
			CheckID: fmt.Sprintf("%d", checkID),
			Name:    names[checkID],
			Checked: result.Checked,
			Remarks: result.Remarks,
		})
	}
	encoded, err := json.Marshal(digests)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}

func catalogJSON(items []checklist.ChecklistItem) string {
	type entry struct {
		CheckID     string `json:"check_id"`
		Name        string `json:"name"`
		Category    string `json:"category"`
		Description string `json:"description,omitempty"`
		Level       int    `json:"level"`
	}
	entries := make([]entry, 0, len(items))
	for _, item := range items {
		entries = append(entries, entry{
			CheckID:     fmt.Sprintf("%d", item.CheckID),
			Name:        item.Name,
			Category:    item.Category,
			Description: item.Description,
			Level:       item.Level,
		})
	}
	encoded, err := json.Marshal(entries)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}

func buildItemPrompt(input Input, items []checklist.ChecklistItem, categories []checklist.Category) string {
	type categoryEntry struct {
		CategoryID string `json:"category_id"`
		Name       string `json:"name"`
	}
	entries := make([]categoryEntry, 0, len(categories))
	for _, category := range categories {
		entries = append(entries, categoryEntry{
			CategoryID: fmt.Sprintf("%d", category.ID),
			Name:       category.Name,
		})
	}
	encodedCategories, err := json.Marshal(entries)
	if err != nil {
		encodedCategories = []byte("[]")
	}

	var prompt strings.Builder
	prompt.WriteString("A reviewer just completed a check sheet. Propose checklist improvements.\n")
	prompt.WriteString("Suggest at most 2 NEW check items that would have caught the problems below earlier.\n")
	prompt.WriteString("Rules:\n")
	prompt.WriteString("- Answer with a JSON array of at most 2 elements; an empty array is a valid answer.\n")
	prompt.WriteString("- Each element is {\"name\", \"description\", \"level\", \"category_id\"}.\n")
	prompt.WriteString("- category_id must be copied from the category list; do not invent categories.\n")
	prompt.WriteString("- Do not repeat an item that already exists in the catalog.\n\n")
	prompt.WriteString("Categories:\n")
	prompt.Write(encodedCategories)
	prompt.WriteString("\n\nExisting checklist items:\n")
	prompt.WriteString(catalogJSON(items))
	prompt.WriteString("\n\nReview results:\n")
	prompt.WriteString(digestReview(input, items))
	if remarks := strings.TrimSpace(input.ReviewRemarks); remarks != "" {
		prompt.WriteString("\n\nReviewer remarks:\n")
		prompt.WriteString(remarks)
	}
	return prompt.String()
}

func buildNotePrompt(input Input, items []checklist.ChecklistItem) string {
	var prompt strings.Builder
	prompt.WriteString("A reviewer just completed a check sheet. Propose advisory notes.\n")
	prompt.WriteString("Suggest at most 2 notes attached to EXISTING checklist items, pointing out what to watch for next time.\n")
	prompt.WriteString("Rules:\n")
	prompt.WriteString("- Answer with a JSON array of at most 2 elements; an empty array is a valid answer.\n")
	prompt.WriteString("- Each element is {\"check_id\", \"note\"}.\n")
	prompt.WriteString("- check_id must be copied from the catalog; notes for unknown items are discarded.\n\n")
	prompt.WriteString("Checklist items:\n")
	prompt.WriteString(catalogJSON(items))
	prompt.WriteString("\n\nReview results:\n")
	prompt.WriteString(digestReview(input, items))
	if remarks := strings.TrimSpace(input.ReviewRemarks); remarks != "" {
		prompt.WriteString("\n\nReviewer remarks:\n")
		prompt.WriteString(remarks)
	}
	return prompt.String()
}
