package autofill

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/smartchecklab/smartcheck/internal/checklist"
)

const defaultDocumentMIMEType = "application/pdf"

var (
	errMissingProcessor     = errors.New("document processor configuration required")
	errMissingTokenSource   = errors.New("document access token source required")
	ErrInvalidDocAIConfig   = errors.New("autofill: invalid document client config")
	errUnexpectedDocAICode  = errors.New("autofill: document processing failed")
	errEmptyDocumentText    = errors.New("autofill: document contained no text")
	ErrEmptyDocumentPayload = errors.New("autofill: empty document payload")
)

// DocumentClientConfig bundles configuration for the layout-parser client.
// TokenSource supplies OAuth bearer tokens; the processor endpoint does not
// accept API keys.
type DocumentClientConfig struct {
	ProjectID   string
	Location    string
	ProcessorID string
	BaseURL     string
	TokenSource func(ctx context.Context) (string, error)
	HTTPClient  *http.Client
	Logger      *zap.Logger
}

// DocumentClient extracts text from uploaded documents via the Document AI
// REST API.
type DocumentClient struct {
	endpoint    string
	tokenSource func(ctx context.Context) (string, error)
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewDocumentClient constructs a document text extractor with validated
// configuration.
func NewDocumentClient(cfg DocumentClientConfig) (*DocumentClient, error) {
	projectID := strings.TrimSpace(cfg.ProjectID)
	location := strings.TrimSpace(cfg.Location)
	processorID := strings.TrimSpace(cfg.ProcessorID)
	if projectID == "" || location == "" || processorID == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocAIConfig, errMissingProcessor)
	}
	if cfg.TokenSource == nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocAIConfig, errMissingTokenSource)
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s-documentai.googleapis.com", location)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	endpoint := fmt.Sprintf("%s/v1/projects/%s/locations/%s/processors/%s:process",
		baseURL, projectID, location, processorID)

	return &DocumentClient{
		endpoint:    endpoint,
		tokenSource: cfg.TokenSource,
		httpClient:  httpClient,
		logger:      logger,
	}, nil
}

type processRequest struct {
	RawDocument rawDocument `json:"rawDocument"`
}

type rawDocument struct {
	Content  string `json:"content"`
	MIMEType string `json:"mimeType"`
}

type processResponse struct {
	Document struct {
		Text           string `json:"text"`
		DocumentLayout struct {
			Blocks []layoutBlock `json:"blocks"`
		} `json:"documentLayout"`
	} `json:"document"`
}

type layoutBlock struct {
	TextBlock struct {
		Text   string        `json:"text"`
		Blocks []layoutBlock `json:"blocks"`
	} `json:"textBlock"`
}

// ExtractText runs the document through the layout processor and returns its
// text, preferring layout blocks over the flat text field.
func (c *DocumentClient) ExtractText(ctx context.Context, payload []byte, mimeType string) (string, error) {
	if len(payload) == 0 {
		return "", ErrEmptyDocumentPayload
	}
	if mimeType == "" {
		mimeType = defaultDocumentMIMEType
	}

	token, err := c.tokenSource(ctx)
	if err != nil {
		return "", fmt.Errorf("autofill: document access token: %w", err)
	}

	body, err := json.Marshal(processRequest{
		RawDocument: rawDocument{
			Content:  base64.StdEncoding.EncodeToString(payload),
			MIMEType: mimeType,
		},
	})
	if err != nil {
		return "", fmt.Errorf("autofill: encode process request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("autofill: build process request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+token)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return "", fmt.Errorf("autofill: process request: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		c.logger.Warn("document process failed", zap.Int("status", response.StatusCode))
		return "", fmt.Errorf("%w: status %d", errUnexpectedDocAICode, response.StatusCode)
	}

	var decoded processResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("autofill: decode process response: %w", err)
	}

	text := collectLayoutText(decoded.Document.DocumentLayout.Blocks)
	if text == "" {
		text = strings.TrimSpace(decoded.Document.Text)
	}
	if text == "" {
		return "", errEmptyDocumentText
	}
	return text, nil
}

func collectLayoutText(blocks []layoutBlock) string {
	parts := make([]string, 0, len(blocks))
	var walk func(blocks []layoutBlock)
	walk = func(blocks []layoutBlock) {
		for _, block := range blocks {
			if text := strings.TrimSpace(block.TextBlock.Text); text != "" {
				parts = append(parts, text)
			}
			walk(block.TextBlock.Blocks)
		}
	}
	walk(blocks)
	return strings.Join(parts, "\n")
}

// TextExtractor yields plain text from an uploaded document payload.
type TextExtractor interface {
	ExtractText(ctx context.Context, payload []byte, mimeType string) (string, error)
}

// ProposalGenerator produces auto-fill proposals from a prompt.
type ProposalGenerator interface {
	GenerateProposals(ctx context.Context, prompt string) ([]Proposal, error)
}

// DocumentPipelineConfig bundles dependencies for the document auto-fill
// pipeline.
type DocumentPipelineConfig struct {
	Checklist     *checklist.Service
	Extractor     TextExtractor
	Generator     ProposalGenerator
	AutoCheckUser checklist.UserID
	Clock         func() time.Time
	Logger        *zap.Logger
}

// DocumentPipeline turns one uploaded document into a saved check sheet
// awaiting review.
type DocumentPipeline struct {
	checklist     *checklist.Service
	extractor     TextExtractor
	generator     ProposalGenerator
	autoCheckUser checklist.UserID
	clock         func() time.Time
	logger        *zap.Logger
}

var errMissingPipelineDeps = errors.New("autofill: checklist service, extractor and generator required")

// NewDocumentPipeline validates dependencies and builds the pipeline.
func NewDocumentPipeline(cfg DocumentPipelineConfig) (*DocumentPipeline, error) {
	if cfg.Checklist == nil || cfg.Extractor == nil || cfg.Generator == nil {
		return nil, errMissingPipelineDeps
	}

	autoCheckUser := cfg.AutoCheckUser
	if autoCheckUser == "" {
		autoCheckUser = checklist.AutoCheckUserID
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DocumentPipeline{
		checklist:     cfg.Checklist,
		extractor:     cfg.Extractor,
		generator:     cfg.Generator,
		autoCheckUser: autoCheckUser,
		clock:         clock,
		logger:        logger,
	}, nil
}

// ProcessDocument extracts the document's text, has the model fill the
// group's checklist, and saves the sheet with the uploader as reviewer. The
// generated rows are authored by the auto-check user so reviewers can tell
// machine results from human ones.
func (p *DocumentPipeline) ProcessDocument(ctx context.Context, payload []byte, mimeType string, groupID int64, uploader checklist.UserID) (checklist.SheetID, error) {
	text, err := p.extractor.ExtractText(ctx, payload, mimeType)
	if err != nil {
		return "", err
	}

	sections, err := p.checklist.LoadChecklist(ctx, groupID, p.autoCheckUser)
	if err != nil {
		return "", err
	}
	items := checklist.FlatChecklistItems(sections)
	if len(items) == 0 {
		return "", fmt.Errorf("autofill: group %d has no open checklist items", groupID)
	}

	proposals, err := p.generator.GenerateProposals(ctx, BuildDocumentPrompt(text, items))
	if err != nil {
		return "", err
	}
	results, overallRemarks, err := SplitProposals(proposals)
	if err != nil {
		return "", err
	}

	sheetID := checklist.MintSheetID(p.clock())
	_, err = p.checklist.SaveResults(ctx, checklist.SaveResultsRequest{
		SheetID:      sheetID,
		Results:      results,
		CheckRemarks: overallRemarks,
		UserID:       p.autoCheckUser,
		ReviewerID:   string(uploader),
		GroupID:      groupID,
		Status:       checklist.SheetStatusReviewWaiting,
	})
	if err != nil {
		return "", err
	}

	p.logger.Info("document auto-fill saved",
		zap.String("sheet_id", string(sheetID)),
		zap.Int64("group_id", groupID),
		zap.Int("items", len(results)))
	return sheetID, nil
}
