package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"testing"

	"github.com/smartchecklab/smartcheck/internal/auth"
	"github.com/smartchecklab/smartcheck/internal/checklist"
	"github.com/smartchecklab/smartcheck/internal/suggest"
)

func TestHealthEndpointReportsOK(t *testing.T) {
	env := newTestEnv(t, nil)

	recorder := env.perform(t, http.MethodGet, "/healthz", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d, want %d", recorder.Code, http.StatusOK)
	}
	body := decodeBody(t, recorder)
	if body["status"] != "ok" {
		t.Fatalf("unexpected health body: %v", body)
	}
}

func TestGoogleAuthProvisionsAccountAndMemberships(t *testing.T) {
	env := newTestEnv(t, nil)
	groupID, _ := seedGroupWithItems(t, env.db, "check hoses")
	env.verifier.claims = auth.GoogleClaims{
		Subject: "google-sub-1",
		Email:   "inspector@example.com",
		Name:    "Pat Inspector",
	}

	recorder := env.perform(t, http.MethodPost, "/auth/google", "", map[string]string{"id_token": "opaque"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d, body %s", recorder.Code, recorder.Body.String())
	}
	body := decodeBody(t, recorder)
	token, ok := body["access_token"].(string)
	if !ok || token == "" {
		t.Fatalf("expected access token, got %v", body)
	}
	if body["token_type"] != "Bearer" {
		t.Fatalf("unexpected token type: %v", body["token_type"])
	}

	groups := env.perform(t, http.MethodGet, "/groups", token, nil)
	if groups.Code != http.StatusOK {
		t.Fatalf("unexpected groups status: got %d, body %s", groups.Code, groups.Body.String())
	}
	groupList, ok := decodeBody(t, groups)["groups"].([]any)
	if !ok || len(groupList) != 1 {
		t.Fatalf("expected one provisioned membership, got %s", groups.Body.String())
	}
	membership := groupList[0].(map[string]any)
	if int64(membership["group_id"].(float64)) != groupID {
		t.Fatalf("unexpected group id: %v", membership["group_id"])
	}
	if membership["role"] != string(checklist.RoleReviewer) {
		t.Fatalf("expected reviewer role on first login, got %v", membership["role"])
	}
}

func TestGoogleAuthRejectsInvalidToken(t *testing.T) {
	env := newTestEnv(t, nil)
	env.verifier.err = errors.New("token expired")

	recorder := env.perform(t, http.MethodPost, "/auth/google", "", map[string]string{"id_token": "stale"})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
}

func TestProtectedRoutesRequireBearerToken(t *testing.T) {
	env := newTestEnv(t, nil)

	recorder := env.perform(t, http.MethodGet, "/sheets", "", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}

	forged := env.perform(t, http.MethodGet, "/sheets", "not-a-jwt", nil)
	if forged.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status for forged token: got %d", forged.Code)
	}
}

func TestSubmitAndReviewFlow(t *testing.T) {
	suggestions := &stubSuggestionRunner{outcomes: []suggest.StepOutcome{
		{Step: suggest.StepItems, Err: errors.New("model unavailable")},
		{Step: suggest.StepNotes, Applied: 1},
	}}
	env := newTestEnv(t, func(deps *Dependencies) {
		deps.Suggestions = suggestions
	})
	groupID, itemIDs := seedGroupWithItems(t, env.db, "check hoses", "check valves")
	env.enrollUser(t, "member@example.com", groupID, "reviewer@example.com", checklist.RoleMember)
	env.enrollUser(t, "reviewer@example.com", groupID, "reviewer@example.com", checklist.RoleReviewer)

	memberToken := env.bearerFor(t, "member@example.com", "Member")
	reviewerToken := env.bearerFor(t, "reviewer@example.com", "Reviewer")
	sheetPath := "/sheets/20260101_090000"

	saved := env.perform(t, http.MethodPost, sheetPath+"/results", memberToken, map[string]any{
		"group_id":      groupID,
		"check_remarks": "first pass",
		"results": map[string]any{
			"1": map[string]any{"checked": true, "remarks": "ok"},
		},
	})
	if saved.Code != http.StatusOK {
		t.Fatalf("unexpected save status: got %d, body %s", saved.Code, saved.Body.String())
	}

	sheet, err := env.service.LoadSheet(context.Background(), "20260101_090000")
	if err != nil {
		t.Fatalf("failed to load sheet: %v", err)
	}
	if sheet.CheckStatus != checklist.SheetStatusReviewWaiting {
		t.Fatalf("expected review_waiting after submit, got %s", sheet.CheckStatus)
	}
	if sheet.ReviewerID != "reviewer@example.com" {
		t.Fatalf("expected membership reviewer assigned, got %q", sheet.ReviewerID)
	}

	returned := env.perform(t, http.MethodPost, sheetPath+"/review", reviewerToken, map[string]any{
		"status":         string(checklist.SheetStatusReturned),
		"review_remarks": "valve 2 needs a recheck",
		"results": map[string]any{
			"1": map[string]any{"checked": true},
		},
	})
	if returned.Code != http.StatusOK {
		t.Fatalf("unexpected return status: got %d, body %s", returned.Code, returned.Body.String())
	}
	if len(suggestions.inputs) != 0 {
		t.Fatalf("suggestions must not run before completion, got %d runs", len(suggestions.inputs))
	}

	completed := env.perform(t, http.MethodPost, sheetPath+"/review", reviewerToken, map[string]any{
		"status":         string(checklist.SheetStatusCompleted),
		"review_remarks": "all clear",
		"results": map[string]any{
			"1": map[string]any{"checked": true},
			"2": map[string]any{"checked": true},
		},
	})
	if completed.Code != http.StatusOK {
		t.Fatalf("a failing suggestion step must not fail the review: got %d, body %s", completed.Code, completed.Body.String())
	}

	body := decodeBody(t, completed)
	outcomes, ok := body["suggestions"].([]any)
	if !ok || len(outcomes) != 2 {
		t.Fatalf("expected two step outcomes, got %s", completed.Body.String())
	}
	first := outcomes[0].(map[string]any)
	if first["step"] != suggest.StepItems || first["error"] != "model unavailable" {
		t.Fatalf("unexpected first outcome: %v", first)
	}
	second := outcomes[1].(map[string]any)
	if second["step"] != suggest.StepNotes || int(second["applied"].(float64)) != 1 {
		t.Fatalf("unexpected second outcome: %v", second)
	}

	if len(suggestions.inputs) != 1 {
		t.Fatalf("expected one suggestion run, got %d", len(suggestions.inputs))
	}
	input := suggestions.inputs[0]
	if input.GroupID != groupID || input.Reviewer.String() != "reviewer@example.com" {
		t.Fatalf("unexpected suggestion input: %+v", input)
	}
	if len(input.Review) != len(itemIDs) {
		t.Fatalf("expected full review set forwarded, got %d entries", len(input.Review))
	}

	final, err := env.service.LoadSheet(context.Background(), "20260101_090000")
	if err != nil {
		t.Fatalf("failed to reload sheet: %v", err)
	}
	if final.CheckStatus != checklist.SheetStatusCompleted {
		t.Fatalf("expected completed status, got %s", final.CheckStatus)
	}
}

func TestSaveResultsRejectsUnknownStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	groupID, _ := seedGroupWithItems(t, env.db, "check hoses")
	env.enrollUser(t, "member@example.com", groupID, "member@example.com", checklist.RoleMember)
	token := env.bearerFor(t, "member@example.com", "Member")

	recorder := env.perform(t, http.MethodPost, "/sheets/20260101_090000/results", token, map[string]any{
		"group_id": groupID,
		"status":   "archived",
		"results":  map[string]any{},
	})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d, want %d", recorder.Code, http.StatusBadRequest)
	}
}

func TestGetSheetMissingReturnsNotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	env.enrollUser(t, "member@example.com", 0, "", checklist.RoleMember)
	token := env.bearerFor(t, "member@example.com", "Member")

	recorder := env.perform(t, http.MethodGet, "/sheets/20991231_000000", token, nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: got %d, want %d", recorder.Code, http.StatusNotFound)
	}
}

func TestGetSheetReturnsBothResultSets(t *testing.T) {
	env := newTestEnv(t, nil)
	groupID, itemIDs := seedGroupWithItems(t, env.db, "check hoses")
	memberID := env.enrollUser(t, "member@example.com", groupID, "member@example.com", checklist.RoleMember)

	_, err := env.service.SaveResults(context.Background(), checklist.SaveResultsRequest{
		SheetID:      "20260101_090000",
		Results:      checklist.ResultSet{itemIDs[0]: {Checked: true, Remarks: "ok"}},
		CheckRemarks: "first pass",
		UserID:       memberID,
		ReviewerID:   memberID.String(),
		GroupID:      groupID,
	})
	if err != nil {
		t.Fatalf("failed to seed sheet: %v", err)
	}

	token := env.bearerFor(t, "member@example.com", "Member")
	recorder := env.perform(t, http.MethodGet, "/sheets/20260101_090000", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d, body %s", recorder.Code, recorder.Body.String())
	}
	body := decodeBody(t, recorder)
	if body["status"] != string(checklist.SheetStatusReviewWaiting) {
		t.Fatalf("unexpected status in body: %v", body["status"])
	}
	checkResults, ok := body["check_results"].(map[string]any)
	if !ok || len(checkResults) != 1 {
		t.Fatalf("expected one check result, got %s", recorder.Body.String())
	}
	reviewResults, ok := body["review_results"].(map[string]any)
	if !ok || len(reviewResults) != 0 {
		t.Fatalf("expected empty review results, got %s", recorder.Body.String())
	}
}

func TestApproveItemGuards(t *testing.T) {
	env := newTestEnv(t, nil)
	groupID, _ := seedGroupWithItems(t, env.db, "check hoses")
	env.enrollUser(t, "member@example.com", groupID, "reviewer@example.com", checklist.RoleMember)
	env.enrollUser(t, "reviewer@example.com", groupID, "reviewer@example.com", checklist.RoleReviewer)

	pendingID, err := env.service.AddPendingItem(context.Background(), checklist.NewItemInput{
		Name:  "check gauges",
		Level: 1,
	}, groupID)
	if err != nil {
		t.Fatalf("failed to add pending item: %v", err)
	}

	memberToken := env.bearerFor(t, "member@example.com", "Member")
	reviewerToken := env.bearerFor(t, "reviewer@example.com", "Reviewer")

	forbidden := env.perform(t, http.MethodPost, "/items/"+strconv.FormatInt(pendingID, 10)+"/approve", memberToken, nil)
	if forbidden.Code != http.StatusForbidden {
		t.Fatalf("member approval must be forbidden: got %d", forbidden.Code)
	}

	missing := env.perform(t, http.MethodPost, "/items/424242/approve", reviewerToken, nil)
	if missing.Code != http.StatusNotFound {
		t.Fatalf("unknown item must be not found: got %d", missing.Code)
	}

	approved := env.perform(t, http.MethodPost, "/items/"+strconv.FormatInt(pendingID, 10)+"/approve", reviewerToken, nil)
	if approved.Code != http.StatusOK {
		t.Fatalf("unexpected approve status: got %d, body %s", approved.Code, approved.Body.String())
	}

	again := env.perform(t, http.MethodPost, "/items/"+strconv.FormatInt(pendingID, 10)+"/approve", reviewerToken, nil)
	if again.Code != http.StatusBadRequest {
		t.Fatalf("re-approving a resolved item must fail validation: got %d", again.Code)
	}
}

func TestAdminMembershipEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	groupID, _ := seedGroupWithItems(t, env.db, "check hoses")
	env.enrollUser(t, "admin@example.com", groupID, "admin@example.com", checklist.RoleAdmin)
	adminToken := env.bearerFor(t, "admin@example.com", "Admin")

	created := env.perform(t, http.MethodPost, "/admin/memberships", adminToken, map[string]any{
		"user_id":     "newhire@example.com",
		"group_id":    groupID,
		"role":        string(checklist.RoleMember),
		"reviewer_id": "admin@example.com",
	})
	if created.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d, body %s", created.Code, created.Body.String())
	}
	if decodeBody(t, created)["created"] != true {
		t.Fatalf("expected created=true, got %s", created.Body.String())
	}

	env.enrollUser(t, "newhire@example.com", 0, "", checklist.RoleMember)
	newhireToken := env.bearerFor(t, "newhire@example.com", "New Hire")
	groups := env.perform(t, http.MethodGet, "/groups", newhireToken, nil)
	if groups.Code != http.StatusOK {
		t.Fatalf("unexpected groups status: got %d", groups.Code)
	}
	groupList, ok := decodeBody(t, groups)["groups"].([]any)
	if !ok || len(groupList) != 1 {
		t.Fatalf("expected the new membership listed, got %s", groups.Body.String())
	}
}
