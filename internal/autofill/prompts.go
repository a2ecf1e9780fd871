package autofill

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/smartchecklab/smartcheck/internal/checklist"
)

// catalogEntry is one checklist item as presented to the model.
type catalogEntry struct {
	CheckID     string `json:"check_id"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	Description string `json:"description,omitempty"`
	Level       int    `json:"level"`
	Note        string `json:"note,omitempty"`
}

func itemCatalog(items []checklist.ChecklistItem) string {
	entries := make([]catalogEntry, 0, len(items))
	for _, item := range items {
		entries = append(entries, catalogEntry{
			CheckID:     fmt.Sprintf("%d", item.CheckID),
			Name:        item.Name,
			Category:    item.Category,
			Description: item.Description,
			Level:       item.Level,
			Note:        item.Note,
		})
	}
	encoded, err := json.Marshal(entries)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}

// BuildDocumentPrompt prepares the auto-fill prompt for extracted document
// text. Items the document does not address are reported as satisfied, so a
// reviewer only sees the points that still need attention.
func BuildDocumentPrompt(documentText string, items []checklist.ChecklistItem) string {
	var prompt strings.Builder
	prompt.WriteString("You are filling in a review check sheet from a document.\n")
	prompt.WriteString("For every checklist item below, decide whether the document satisfies it.\n")
	prompt.WriteString("Rules:\n")
	prompt.WriteString("- Answer with a JSON array only.\n")
	prompt.WriteString("- For each item emit {\"check_id\", \"checked\", \"remarks\"}. check_id must be copied from the catalog.\n")
	prompt.WriteString("- If an item does not apply to this document, set checked to true and say why in remarks.\n")
	prompt.WriteString("- If an item is violated or cannot be confirmed, set checked to false and describe the problem in remarks.\n")
	prompt.WriteString("- Optionally add one {\"overall_remarks\"} element summarising the document as a whole.\n\n")
	prompt.WriteString("Checklist items:\n")
	prompt.WriteString(itemCatalog(items))
	prompt.WriteString("\n\nDocument text:\n")
	prompt.WriteString(documentText)
	return prompt.String()
}

// BuildVoicePrompt prepares the auto-fill prompt for a speech transcript.
// Items the transcript never mentions are left unchecked so a spoken pass
// can only add confirmations, never invent them.
func BuildVoicePrompt(transcript string, items []checklist.ChecklistItem) string {
	var prompt strings.Builder
	prompt.WriteString("You are filling in a review check sheet from a spoken report transcript.\n")
	prompt.WriteString("For every checklist item below, decide whether the speaker confirmed it.\n")
	prompt.WriteString("Rules:\n")
	prompt.WriteString("- Answer with a JSON array only.\n")
	prompt.WriteString("- For each item emit {\"check_id\", \"checked\", \"remarks\"}. check_id must be copied from the catalog.\n")
	prompt.WriteString("- Set checked to true only when the speaker clearly confirmed the item.\n")
	prompt.WriteString("- If the item was not mentioned, or the recording was unclear, set checked to false and note that in remarks.\n")
	prompt.WriteString("- Optionally add one {\"overall_remarks\"} element with anything the speaker said about the sheet overall.\n\n")
	prompt.WriteString("Checklist items:\n")
	prompt.WriteString(itemCatalog(items))
	prompt.WriteString("\n\nTranscript:\n")
	prompt.WriteString(transcript)
	return prompt.String()
}
