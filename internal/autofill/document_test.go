package autofill

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/smartchecklab/smartcheck/internal/checklist"
)

func TestDocumentClientExtractsLayoutText(t *testing.T) {
	var capturedAuth string
	var capturedBody processRequest

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		capturedAuth = request.Header.Get("Authorization")
		if err := json.NewDecoder(request.Body).Decode(&capturedBody); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{
			"document": {
				"text": "flat fallback",
				"documentLayout": {
					"blocks": [
						{"textBlock": {"text": "Section one", "blocks": [
							{"textBlock": {"text": "nested detail"}}
						]}},
						{"textBlock": {"text": "Section two"}}
					]
				}
			}
		}`))
	}))
	defer server.Close()

	client, err := NewDocumentClient(DocumentClientConfig{
		ProjectID:   "proj",
		Location:    "us",
		ProcessorID: "proc-1",
		BaseURL:     server.URL,
		TokenSource: func(context.Context) (string, error) { return "test-token", nil },
		HTTPClient:  server.Client(),
	})
	if err != nil {
		t.Fatalf("failed to construct document client: %v", err)
	}

	text, err := client.ExtractText(context.Background(), []byte("%PDF-1.4 payload"), "")
	if err != nil {
		t.Fatalf("unexpected extract error: %v", err)
	}
	if text != "Section one\nnested detail\nSection two" {
		t.Fatalf("unexpected extracted text: %q", text)
	}
	if capturedAuth != "Bearer test-token" {
		t.Fatalf("unexpected authorization header: %q", capturedAuth)
	}
	if capturedBody.RawDocument.MIMEType != "application/pdf" {
		t.Fatalf("expected pdf mime default, got %q", capturedBody.RawDocument.MIMEType)
	}
	if capturedBody.RawDocument.Content == "" {
		t.Fatal("expected base64 document content in request")
	}
}

func TestDocumentClientFallsBackToFlatText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{"document": {"text": "  plain body  "}}`))
	}))
	defer server.Close()

	client, err := NewDocumentClient(DocumentClientConfig{
		ProjectID:   "proj",
		Location:    "us",
		ProcessorID: "proc-1",
		BaseURL:     server.URL,
		TokenSource: func(context.Context) (string, error) { return "token", nil },
		HTTPClient:  server.Client(),
	})
	if err != nil {
		t.Fatalf("failed to construct document client: %v", err)
	}

	text, err := client.ExtractText(context.Background(), []byte("payload"), "image/png")
	if err != nil {
		t.Fatalf("unexpected extract error: %v", err)
	}
	if text != "plain body" {
		t.Fatalf("unexpected extracted text: %q", text)
	}
}

func TestDocumentClientReportsUpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client, err := NewDocumentClient(DocumentClientConfig{
		ProjectID:   "proj",
		Location:    "us",
		ProcessorID: "proc-1",
		BaseURL:     server.URL,
		TokenSource: func(context.Context) (string, error) { return "token", nil },
		HTTPClient:  server.Client(),
	})
	if err != nil {
		t.Fatalf("failed to construct document client: %v", err)
	}

	if _, err := client.ExtractText(context.Background(), []byte("payload"), ""); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestDocumentPipelineSavesGeneratedSheet(t *testing.T) {
	ctx := context.Background()
	service, db := newChecklistService(t)
	groupID, itemIDs := seedGroupWithItems(t, db, "labels attached", "seals intact")

	generator := &stubGenerator{proposals: []Proposal{
		itemProposal(strconv.FormatInt(itemIDs[0], 10), true, "labels listed on page 2"),
		itemProposal(strconv.FormatInt(itemIDs[1], 10), false, "no seal record found"),
		overallProposal("document covers one of two points"),
	}}
	extractor := &stubExtractor{text: "shipment manifest body"}

	pipeline, err := NewDocumentPipeline(DocumentPipelineConfig{
		Checklist: service,
		Extractor: extractor,
		Generator: generator,
		Clock:     func() time.Time { return testClockTime },
	})
	if err != nil {
		t.Fatalf("failed to construct pipeline: %v", err)
	}

	uploader := mustUser(t, "uploader@example.com")
	sheetID, err := pipeline.ProcessDocument(ctx, []byte("%PDF-1.4"), "", groupID, uploader)
	if err != nil {
		t.Fatalf("unexpected pipeline error: %v", err)
	}
	if sheetID != checklist.MintSheetID(testClockTime) {
		t.Fatalf("expected minted sheet id, got %q", sheetID)
	}

	sheet, err := service.LoadSheet(ctx, sheetID)
	if err != nil {
		t.Fatalf("unexpected sheet load error: %v", err)
	}
	if sheet.CreatedBy != checklist.AutoCheckUserID.String() {
		t.Fatalf("expected auto-check author, got %q", sheet.CreatedBy)
	}
	if sheet.ReviewerID != uploader.String() {
		t.Fatalf("expected uploader as reviewer, got %q", sheet.ReviewerID)
	}
	if sheet.CheckStatus != checklist.SheetStatusReviewWaiting {
		t.Fatalf("expected review_waiting status, got %q", sheet.CheckStatus)
	}
	if sheet.CheckRemarks != "document covers one of two points" {
		t.Fatalf("unexpected check remarks: %q", sheet.CheckRemarks)
	}

	stored, err := service.LoadResults(ctx, sheetID, checklist.ResultTypeCheck)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if !stored[itemIDs[0]].Checked {
		t.Fatalf("expected first item checked: %+v", stored[itemIDs[0]])
	}
	if stored[itemIDs[1]].Checked || stored[itemIDs[1]].Remarks != "no seal record found" {
		t.Fatalf("unexpected second item result: %+v", stored[itemIDs[1]])
	}

	if len(generator.prompts) != 1 || !strings.Contains(generator.prompts[0], "shipment manifest body") {
		t.Fatal("expected the document text to reach the prompt")
	}
}

func TestDocumentPipelineRejectsGroupWithoutItems(t *testing.T) {
	service, db := newChecklistService(t)
	group := checklist.CheckGroup{Name: "empty"}
	if err := db.Create(&group).Error; err != nil {
		t.Fatalf("failed to seed group: %v", err)
	}

	pipeline, err := NewDocumentPipeline(DocumentPipelineConfig{
		Checklist: service,
		Extractor: &stubExtractor{text: "body"},
		Generator: &stubGenerator{},
	})
	if err != nil {
		t.Fatalf("failed to construct pipeline: %v", err)
	}

	if _, err := pipeline.ProcessDocument(context.Background(), []byte("doc"), "", group.ID, mustUser(t, "user@example.com")); err == nil {
		t.Fatal("expected error for group with no open items")
	}
}
