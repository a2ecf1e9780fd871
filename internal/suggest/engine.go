package suggest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/smartchecklab/smartcheck/internal/checklist"
)

// maxSuggestions caps how many items and notes one completed review may add.
const maxSuggestions = 2

const (
	// StepItems proposes new pending check items.
	StepItems = "suggest_items"
	// StepNotes attaches advisory notes to existing items.
	StepNotes = "suggest_notes"
)

var (
	errMissingEngineDeps = errors.New("suggest: checklist service and completer required")
	// ErrMalformedSuggestion indicates the model response did not match the
	// suggestion schema.
	ErrMalformedSuggestion = errors.New("suggest: malformed suggestion")
)

// Completer runs one structured-output completion. *autofill.GeminiClient
// satisfies it.
type Completer interface {
	GenerateJSON(ctx context.Context, prompt string, schema *genai.Schema) ([]byte, error)
}

// StepOutcome reports whether one suggestion step ran to completion. A
// failed step never blocks the review that triggered it.
type StepOutcome struct {
	Step    string
	Applied int
	Skipped int
	Err     error
}

// Failed reports whether the step aborted before applying its suggestions.
func (o StepOutcome) Failed() bool {
	return o.Err != nil
}

// EngineConfig bundles dependencies of the suggestion engine.
type EngineConfig struct {
	Checklist *checklist.Service
	Completer Completer
	Logger    *zap.Logger
	Clock     func() time.Time
}

// Engine derives checklist improvements from a completed review: new check
// items for recurring problems and notes for existing items.
type Engine struct {
	checklist *checklist.Service
	completer Completer
	logger    *zap.Logger
	clock     func() time.Time
}

// NewEngine validates dependencies and builds the engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Checklist == nil || cfg.Completer == nil {
		return nil, errMissingEngineDeps
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		checklist: cfg.Checklist,
		completer: cfg.Completer,
		logger:    logger,
		clock:     clock,
	}, nil
}

// Input describes the completed review the engine learns from.
type Input struct {
	SheetID       checklist.SheetID
	GroupID       int64
	Reviewer      checklist.UserID
	Review        checklist.ResultSet
	ReviewRemarks string
}

// Run executes both suggestion steps and reports a per-step outcome. Steps
// are independent: a failure in one leaves the other's results in place.
func (e *Engine) Run(ctx context.Context, input Input) []StepOutcome {
	sections, err := e.checklist.LoadChecklist(ctx, input.GroupID, input.Reviewer)
	if err != nil {
		failure := fmt.Errorf("suggest: load checklist: %w", err)
		return []StepOutcome{
			{Step: StepItems, Err: failure},
			{Step: StepNotes, Err: failure},
		}
	}
	items := checklist.FlatChecklistItems(sections)

	outcomes := []StepOutcome{
		e.runItemStep(ctx, input, items),
		e.runNoteStep(ctx, input, items),
	}
	for _, outcome := range outcomes {
		if outcome.Failed() {
			e.logger.Warn("suggestion step failed",
				zap.String("step", outcome.Step),
				zap.String("sheet_id", string(input.SheetID)),
				zap.Error(outcome.Err))
			continue
		}
		e.logger.Info("suggestion step applied",
			zap.String("step", outcome.Step),
			zap.String("sheet_id", string(input.SheetID)),
			zap.Int("applied", outcome.Applied),
			zap.Int("skipped", outcome.Skipped))
	}
	return outcomes
}

// itemSuggestion is the wire shape of one proposed check item.
type itemSuggestion struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Level       int    `json:"level"`
	CategoryID  string `json:"category_id"`
}

var itemSuggestionSchema = &genai.Schema{
	Type: genai.TypeArray,
	Items: &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"name":        {Type: genai.TypeString},
			"description": {Type: genai.TypeString},
			"level":       {Type: genai.TypeInteger},
			"category_id": {Type: genai.TypeString},
		},
		Required: []string{"name", "category_id"},
	},
}

func (e *Engine) runItemStep(ctx context.Context, input Input, items []checklist.ChecklistItem) StepOutcome {
	outcome := StepOutcome{Step: StepItems}

	categories, err := e.checklist.CategoriesForGroup(ctx, input.GroupID)
	if err != nil {
		outcome.Err = fmt.Errorf("suggest: load categories: %w", err)
		return outcome
	}
	allowed := make(map[int64]bool, len(categories))
	for _, category := range categories {
		allowed[category.ID] = true
	}

	payload, err := e.completer.GenerateJSON(ctx, buildItemPrompt(input, items, categories), itemSuggestionSchema)
	if err != nil {
		outcome.Err = err
		return outcome
	}

	var suggestions []itemSuggestion
	if err := json.Unmarshal(payload, &suggestions); err != nil {
		outcome.Err = fmt.Errorf("%w: %v", ErrMalformedSuggestion, err)
		return outcome
	}
	if len(suggestions) > maxSuggestions {
		suggestions = suggestions[:maxSuggestions]
	}

	for _, suggestion := range suggestions {
		categoryID, err := strconv.ParseInt(strings.TrimSpace(suggestion.CategoryID), 10, 64)
		if err != nil || !allowed[categoryID] || strings.TrimSpace(suggestion.Name) == "" {
			outcome.Skipped++
			continue
		}
		level := suggestion.Level
		if level < 1 {
			level = 1
		}
		_, err = e.checklist.AddPendingItem(ctx, checklist.NewItemInput{
			Name:        strings.TrimSpace(suggestion.Name),
			Description: strings.TrimSpace(suggestion.Description),
			Level:       level,
			CategoryID:  categoryID,
		}, input.GroupID)
		if err != nil {
			outcome.Err = fmt.Errorf("suggest: store pending item: %w", err)
			return outcome
		}
		outcome.Applied++
	}
	return outcome
}

// noteSuggestion is the wire shape of one advisory note.
type noteSuggestion struct {
	CheckID string `json:"check_id"`
	Note    string `json:"note"`
}

var noteSuggestionSchema = &genai.Schema{
	Type: genai.TypeArray,
	Items: &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"check_id": {Type: genai.TypeString},
			"note":     {Type: genai.TypeString},
		},
		Required: []string{"check_id", "note"},
	},
}

func (e *Engine) runNoteStep(ctx context.Context, input Input, items []checklist.ChecklistItem) StepOutcome {
	outcome := StepOutcome{Step: StepNotes}

	payload, err := e.completer.GenerateJSON(ctx, buildNotePrompt(input, items), noteSuggestionSchema)
	if err != nil {
		outcome.Err = err
		return outcome
	}

	var suggestions []noteSuggestion
	if err := json.Unmarshal(payload, &suggestions); err != nil {
		outcome.Err = fmt.Errorf("%w: %v", ErrMalformedSuggestion, err)
		return outcome
	}
	if len(suggestions) > maxSuggestions {
		suggestions = suggestions[:maxSuggestions]
	}

	for _, suggestion := range suggestions {
		checkID, err := strconv.ParseInt(strings.TrimSpace(suggestion.CheckID), 10, 64)
		note := strings.TrimSpace(suggestion.Note)
		if err != nil || note == "" {
			outcome.Skipped++
			continue
		}
		owner, err := e.checklist.GroupIDForItem(ctx, checkID)
		if err != nil {
			outcome.Err = fmt.Errorf("suggest: resolve item group: %w", err)
			return outcome
		}
		if owner != input.GroupID {
			outcome.Skipped++
			continue
		}
		if err := e.checklist.AddItemNote(ctx, checkID, input.Reviewer, note); err != nil {
			outcome.Err = fmt.Errorf("suggest: store note: %w", err)
			return outcome
		}
		outcome.Applied++
	}
	return outcome
}
