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

	"go.uber.org/zap"
)

const (
	defaultSpeechBaseURL  = "https://speech.googleapis.com"
	defaultSpeechLanguage = "en-US"
)

var (
	errMissingSpeechKey     = errors.New("speech api key required")
	ErrInvalidSpeechConfig  = errors.New("autofill: invalid speech client config")
	errUnexpectedSpeechCode = errors.New("autofill: recognizer request failed")
)

// SpeechClientConfig bundles configuration for the recognizer client.
type SpeechClientConfig struct {
	APIKey       string
	LanguageCode string
	BaseURL      string
	HTTPClient   *http.Client
	Logger       *zap.Logger
}

// SpeechClient transcribes short PCM clips via the Cloud Speech REST API.
type SpeechClient struct {
	apiKey     string
	language   string
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewSpeechClient constructs a recognizer client with validated configuration.
func NewSpeechClient(cfg SpeechClientConfig) (*SpeechClient, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpeechConfig, errMissingSpeechKey)
	}

	language := strings.TrimSpace(cfg.LanguageCode)
	if language == "" {
		language = defaultSpeechLanguage
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultSpeechBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SpeechClient{
		apiKey:     apiKey,
		language:   language,
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

type recognizeRequest struct {
	Config recognizeConfig `json:"config"`
	Audio  recognizeAudio  `json:"audio"`
}

type recognizeConfig struct {
	Encoding                   string `json:"encoding"`
	SampleRateHertz            int    `json:"sampleRateHertz"`
	LanguageCode               string `json:"languageCode"`
	EnableAutomaticPunctuation bool   `json:"enableAutomaticPunctuation"`
}

type recognizeAudio struct {
	Content string `json:"content"`
}

type recognizeResponse struct {
	Results []struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"results"`
}

// Transcribe sends the clip to the recognizer and returns the joined
// transcript. The clip must already be at a rate the recognizer accepts.
func (c *SpeechClient) Transcribe(ctx context.Context, clip Clip) (string, error) {
	if !recognizerRates[clip.SampleRate] {
		return "", fmt.Errorf("%w: sample rate %d not accepted", ErrInvalidAudio, clip.SampleRate)
	}
	if len(clip.Samples) == 0 {
		return "", fmt.Errorf("%w: empty clip", ErrInvalidAudio)
	}

	payload := recognizeRequest{
		Config: recognizeConfig{
			Encoding:                   "LINEAR16",
			SampleRateHertz:            clip.SampleRate,
			LanguageCode:               c.language,
			EnableAutomaticPunctuation: true,
		},
		Audio: recognizeAudio{
			Content: base64.StdEncoding.EncodeToString(clip.PCM16Bytes()),
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("autofill: encode recognize request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/speech:recognize?key=%s", c.baseURL, c.apiKey)
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("autofill: build recognize request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return "", fmt.Errorf("autofill: recognize request: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		c.logger.Warn("speech recognize failed", zap.Int("status", response.StatusCode))
		return "", fmt.Errorf("%w: status %d", errUnexpectedSpeechCode, response.StatusCode)
	}

	var decoded recognizeResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("autofill: decode recognize response: %w", err)
	}

	parts := make([]string, 0, len(decoded.Results))
	for _, result := range decoded.Results {
		if len(result.Alternatives) == 0 {
			continue
		}
		if transcript := strings.TrimSpace(result.Alternatives[0].Transcript); transcript != "" {
			parts = append(parts, transcript)
		}
	}
	if len(parts) == 0 {
		c.logger.Info("recognizer returned no speech")
		return "", nil
	}
	return strings.Join(parts, " "), nil
}
