package autofill

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSpeechClientTranscribesJoinedResults(t *testing.T) {
	var capturedBody recognizeRequest

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if err := json.NewDecoder(request.Body).Decode(&capturedBody); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{
			"results": [
				{"alternatives": [{"transcript": " hatch closed. "}]},
				{"alternatives": []},
				{"alternatives": [{"transcript": "valves sealed."}]}
			]
		}`))
	}))
	defer server.Close()

	client, err := NewSpeechClient(SpeechClientConfig{
		APIKey:     "test-key",
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
	})
	if err != nil {
		t.Fatalf("failed to construct speech client: %v", err)
	}

	clip := Clip{Samples: []float32{0.1, -0.1, 0.2}, SampleRate: 16000}
	transcript, err := client.Transcribe(context.Background(), clip)
	if err != nil {
		t.Fatalf("unexpected transcribe error: %v", err)
	}
	if transcript != "hatch closed. valves sealed." {
		t.Fatalf("unexpected transcript: %q", transcript)
	}

	if capturedBody.Config.Encoding != "LINEAR16" {
		t.Fatalf("unexpected encoding: %q", capturedBody.Config.Encoding)
	}
	if capturedBody.Config.SampleRateHertz != 16000 {
		t.Fatalf("unexpected sample rate: %d", capturedBody.Config.SampleRateHertz)
	}
	if capturedBody.Config.LanguageCode != defaultSpeechLanguage {
		t.Fatalf("unexpected language: %q", capturedBody.Config.LanguageCode)
	}
	if capturedBody.Audio.Content == "" {
		t.Fatal("expected base64 audio content in request")
	}
}

func TestSpeechClientReturnsEmptyTranscriptForSilence(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{}`))
	}))
	defer server.Close()

	client, err := NewSpeechClient(SpeechClientConfig{
		APIKey:     "key",
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
	})
	if err != nil {
		t.Fatalf("failed to construct speech client: %v", err)
	}

	// The recognizer answers an empty body when it hears no speech.
	clip := Clip{Samples: []float32{0, 0, 0}, SampleRate: 16000}
	transcript, err := client.Transcribe(context.Background(), clip)
	if err != nil {
		t.Fatalf("expected silence to transcribe cleanly, got %v", err)
	}
	if transcript != "" {
		t.Fatalf("expected empty transcript, got %q", transcript)
	}
}

func TestSpeechClientRejectsUnsupportedRate(t *testing.T) {
	client, err := NewSpeechClient(SpeechClientConfig{APIKey: "key"})
	if err != nil {
		t.Fatalf("failed to construct speech client: %v", err)
	}

	clip := Clip{Samples: []float32{0.1}, SampleRate: 44100}
	if _, err := client.Transcribe(context.Background(), clip); !errors.Is(err, ErrInvalidAudio) {
		t.Fatalf("expected ErrInvalidAudio, got %v", err)
	}
}

func TestSpeechClientReportsUpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client, err := NewSpeechClient(SpeechClientConfig{
		APIKey:     "key",
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
	})
	if err != nil {
		t.Fatalf("failed to construct speech client: %v", err)
	}

	clip := Clip{Samples: []float32{0.1}, SampleRate: 16000}
	if _, err := client.Transcribe(context.Background(), clip); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestSpeechClientRequiresAPIKey(t *testing.T) {
	if _, err := NewSpeechClient(SpeechClientConfig{}); !errors.Is(err, ErrInvalidSpeechConfig) {
		t.Fatalf("expected ErrInvalidSpeechConfig, got %v", err)
	}
}
