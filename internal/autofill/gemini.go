package autofill

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const defaultGenerativeModel = "gemini-2.0-flash"

var errMissingAPIKey = errors.New("autofill: generative API key is required")

// proposalSchema constrains the model to the tagged result records the
// decoder accepts. The union is enforced again in DecodeProposals.
var proposalSchema = &genai.Schema{
	Type: genai.TypeArray,
	Items: &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"check_id":        {Type: genai.TypeString},
			"checked":         {Type: genai.TypeBoolean},
			"remarks":         {Type: genai.TypeString},
			"overall_remarks": {Type: genai.TypeString},
		},
	},
}

// GeminiClient talks to the Gemini API for auto-fill and suggestion calls.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient builds a client against the public Gemini API.
func NewGeminiClient(ctx context.Context, apiKey string, model string) (*GeminiClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errMissingAPIKey
	}
	if model == "" {
		model = defaultGenerativeModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("autofill: create generative client: %w", err)
	}
	return &GeminiClient{client: client, model: model}, nil
}

// GenerateJSON runs one structured-output completion and returns the raw
// JSON payload.
func (c *GeminiClient) GenerateJSON(ctx context.Context, prompt string, schema *genai.Schema) ([]byte, error) {
	result, err := c.client.Models.GenerateContent(ctx,
		c.model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   schema,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("autofill: generate content: %w", err)
	}
	text := strings.TrimSpace(result.Text())
	if text == "" {
		return nil, errors.New("autofill: empty completion")
	}
	return []byte(text), nil
}

// GenerateProposals asks the model for auto-fill results and validates the
// response against the tagged record schema.
func (c *GeminiClient) GenerateProposals(ctx context.Context, prompt string) ([]Proposal, error) {
	payload, err := c.GenerateJSON(ctx, prompt, proposalSchema)
	if err != nil {
		return nil, err
	}
	return DecodeProposals(payload)
}
