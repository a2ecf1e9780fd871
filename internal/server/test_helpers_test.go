package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/smartchecklab/smartcheck/internal/auth"
	"github.com/smartchecklab/smartcheck/internal/autofill"
	"github.com/smartchecklab/smartcheck/internal/checklist"
	"github.com/smartchecklab/smartcheck/internal/suggest"
)

var testClockTime = time.Unix(1700000000, 0).UTC()

const testSigningSecret = "server-test-signing-secret"

type testEnv struct {
	handler  http.Handler
	service  *checklist.Service
	db       *gorm.DB
	issuer   *auth.TokenIssuer
	verifier *stubGoogleVerifier
}

func newTestEnv(t *testing.T, mutate func(*Dependencies)) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&checklist.User{},
		&checklist.Category{},
		&checklist.CheckGroup{},
		&checklist.UserCheckGroup{},
		&checklist.CheckItem{},
		&checklist.CheckSheet{},
		&checklist.CheckResult{},
		&checklist.CheckItemNote{},
	)
	if err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	service, err := checklist.NewService(checklist.ServiceConfig{
		Database: db,
		Clock:    func() time.Time { return testClockTime },
	})
	if err != nil {
		t.Fatalf("failed to construct checklist service: %v", err)
	}

	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        "smartcheck-auth",
		Audience:      "smartcheck-api",
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to construct token issuer: %v", err)
	}

	verifier := &stubGoogleVerifier{}
	deps := Dependencies{
		GoogleVerifier: verifier,
		TokenManager:   issuer,
		Checklist:      service,
	}
	if mutate != nil {
		mutate(&deps)
	}

	handler, err := NewHTTPHandler(deps)
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}
	return &testEnv{handler: handler, service: service, db: db, issuer: issuer, verifier: verifier}
}

// bearerFor issues a backend token for the given account email.
func (e *testEnv) bearerFor(t *testing.T, email, name string) string {
	t.Helper()
	token, _, err := e.issuer.IssueBackendToken(context.Background(), auth.GoogleClaims{
		Subject: "google-" + email,
		Email:   email,
		Name:    name,
	})
	if err != nil {
		t.Fatalf("failed to issue test token: %v", err)
	}
	return token
}

// enrollUser creates the account and its membership directly in the store.
func (e *testEnv) enrollUser(t *testing.T, email string, groupID int64, reviewer string, role checklist.Role) checklist.UserID {
	t.Helper()
	userID, err := checklist.NewUserID(email)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	if _, err := e.service.EnsureUser(context.Background(), userID, email); err != nil {
		t.Fatalf("failed to ensure user: %v", err)
	}
	if groupID > 0 {
		if _, err := e.service.AddMembership(context.Background(), userID, groupID, reviewer, role); err != nil {
			t.Fatalf("failed to add membership: %v", err)
		}
	}
	return userID
}

func (e *testEnv) perform(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	request := httptest.NewRequest(method, path, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	recorder := httptest.NewRecorder()
	e.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response body %q: %v", recorder.Body.String(), err)
	}
	return body
}

func seedGroupWithItems(t *testing.T, db *gorm.DB, itemNames ...string) (int64, []int64) {
	t.Helper()
	group := checklist.CheckGroup{Name: "safety"}
	if err := db.Create(&group).Error; err != nil {
		t.Fatalf("failed to seed group: %v", err)
	}
	category := checklist.Category{Name: "general"}
	if err := db.Create(&category).Error; err != nil {
		t.Fatalf("failed to seed category: %v", err)
	}

	itemIDs := make([]int64, 0, len(itemNames))
	for _, name := range itemNames {
		item := checklist.CheckItem{
			Name:       name,
			Level:      1,
			CategoryID: category.ID,
			GroupID:    group.ID,
			Status:     checklist.ItemStatusOpen,
		}
		if err := db.Create(&item).Error; err != nil {
			t.Fatalf("failed to seed item: %v", err)
		}
		itemIDs = append(itemIDs, item.ID)
	}
	return group.ID, itemIDs
}

type stubGoogleVerifier struct {
	claims auth.GoogleClaims
	err    error
}

func (s *stubGoogleVerifier) Verify(_ context.Context, _ string) (auth.GoogleClaims, error) {
	if s.err != nil {
		return auth.GoogleClaims{}, s.err
	}
	return s.claims, nil
}

type stubDocumentProcessor struct {
	sheetID  checklist.SheetID
	err      error
	groupIDs []int64
	payloads [][]byte
	uploader checklist.UserID
}

func (s *stubDocumentProcessor) ProcessDocument(_ context.Context, payload []byte, _ string, groupID int64, uploader checklist.UserID) (checklist.SheetID, error) {
	s.groupIDs = append(s.groupIDs, groupID)
	s.payloads = append(s.payloads, payload)
	s.uploader = uploader
	if s.err != nil {
		return "", s.err
	}
	return s.sheetID, nil
}

type stubVoiceCompleter struct {
	outcome    autofill.VoiceOutcome
	err        error
	sessionIDs []string
}

func (s *stubVoiceCompleter) Complete(_ context.Context, sessionID string) (autofill.VoiceOutcome, error) {
	s.sessionIDs = append(s.sessionIDs, sessionID)
	if s.err != nil {
		return autofill.VoiceOutcome{}, s.err
	}
	return s.outcome, nil
}

type stubSuggestionRunner struct {
	outcomes []suggest.StepOutcome
	inputs   []suggest.Input
}

func (s *stubSuggestionRunner) Run(_ context.Context, input suggest.Input) []suggest.StepOutcome {
	s.inputs = append(s.inputs, input)
	return s.outcomes
}
