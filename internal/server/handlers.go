package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smartchecklab/smartcheck/internal/checklist"
	"github.com/smartchecklab/smartcheck/internal/suggest"
)

const maxDocumentUploadBytes = 20 << 20

type resultEntryPayload struct {
	Checked bool   `json:"checked"`
	Remarks string `json:"remarks"`
}

func parseResultsPayload(raw map[string]resultEntryPayload) (checklist.ResultSet, error) {
	results := make(checklist.ResultSet, len(raw))
	for key, entry := range raw {
		checkID, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64)
		if err != nil {
			return nil, err
		}
		results[checkID] = checklist.ItemResult{Checked: entry.Checked, Remarks: entry.Remarks}
	}
	return results, nil
}

func renderResults(results checklist.ResultSet) map[string]resultEntryPayload {
	rendered := make(map[string]resultEntryPayload, len(results))
	for checkID, result := range results {
		rendered[strconv.FormatInt(checkID, 10)] = resultEntryPayload{
			Checked: result.Checked,
			Remarks: result.Remarks,
		}
	}
	return rendered
}

// respondServiceError maps domain errors onto the HTTP error taxonomy.
func (h *httpHandler) respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, checklist.ErrSheetNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "sheet_not_found"})
	case errors.Is(err, checklist.ErrItemNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "item_not_found"})
	case errors.Is(err, checklist.ErrNotPermitted):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, checklist.ErrItemNotPending),
		errors.Is(err, checklist.ErrInvalidStatus),
		errors.Is(err, checklist.ErrInvalidRole),
		errors.Is(err, checklist.ErrInvalidUserID),
		errors.Is(err, checklist.ErrInvalidSheetID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	default:
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func (h *httpHandler) sheetParam(c *gin.Context) (checklist.SheetID, bool) {
	sheetID, err := checklist.NewSheetID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_sheet_id"})
		return "", false
	}
	return sheetID, true
}

func (h *httpHandler) int64Param(c *gin.Context, name string) (int64, bool) {
	value, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || value <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_" + name})
		return 0, false
	}
	return value, true
}

// --- groups ---

type groupPayload struct {
	GroupID   int64  `json:"group_id"`
	GroupName string `json:"group_name"`
	Role      string `json:"role"`
}

func (h *httpHandler) handleListGroups(c *gin.Context) {
	userID, ok := h.requestUser(c)
	if !ok {
		return
	}
	memberships, err := h.checklist.ListUserGroups(c.Request.Context(), userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	groups := make([]groupPayload, 0, len(memberships))
	for _, membership := range memberships {
		groups = append(groups, groupPayload{
			GroupID:   membership.GroupID,
			GroupName: membership.GroupName,
			Role:      string(membership.Role),
		})
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

type checklistItemPayload struct {
	CheckID     int64  `json:"check_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Level       int    `json:"level"`
	Note        string `json:"note,omitempty"`
}

type checklistSectionPayload struct {
	Category string                 `json:"category"`
	Items    []checklistItemPayload `json:"items"`
}

func (h *httpHandler) handleGroupChecklist(c *gin.Context) {
	userID, ok := h.requestUser(c)
	if !ok {
		return
	}
	groupID, ok := h.int64Param(c, "id")
	if !ok {
		return
	}
	sections, err := h.checklist.LoadChecklist(c.Request.Context(), groupID, userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	rendered := make([]checklistSectionPayload, 0, len(sections))
	for _, section := range sections {
		items := make([]checklistItemPayload, 0, len(section.Items))
		for _, item := range section.Items {
			items = append(items, checklistItemPayload{
				CheckID:     item.CheckID,
				Name:        item.Name,
				Description: item.Description,
				Level:       item.Level,
				Note:        item.Note,
			})
		}
		rendered = append(rendered, checklistSectionPayload{Category: section.Category, Items: items})
	}
	c.JSON(http.StatusOK, gin.H{"sections": rendered})
}

func (h *httpHandler) handleGroupCategories(c *gin.Context) {
	if _, ok := h.requestUser(c); !ok {
		return
	}
	groupID, ok := h.int64Param(c, "id")
	if !ok {
		return
	}
	categories, err := h.checklist.CategoriesForGroup(c.Request.Context(), groupID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	rendered := make([]gin.H, 0, len(categories))
	for _, category := range categories {
		rendered = append(rendered, gin.H{"category_id": category.ID, "name": category.Name})
	}
	c.JSON(http.StatusOK, gin.H{"categories": rendered})
}

func (h *httpHandler) handleDocumentAutofill(c *gin.Context) {
	userID, ok := h.requestUser(c)
	if !ok {
		return
	}
	if h.documents == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "document_autofill_not_configured"})
		return
	}
	groupID, ok := h.int64Param(c, "id")
	if !ok {
		return
	}

	fileHeader, err := c.FormFile("document")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_document"})
		return
	}
	if fileHeader.Size > maxDocumentUploadBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "document_too_large"})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	defer file.Close()
	payload, err := io.ReadAll(file)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	sheetID, err := h.documents.ProcessDocument(
		c.Request.Context(),
		payload,
		fileHeader.Header.Get("Content-Type"),
		groupID,
		userID,
	)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sheet_id": sheetID.String()})
}

// --- sheets ---

type saveResultsPayload struct {
	Results      map[string]resultEntryPayload `json:"results"`
	CheckRemarks string                        `json:"check_remarks"`
	GroupID      int64                         `json:"group_id"`
	ReviewerID   string                        `json:"reviewer_id"`
	Status       string                        `json:"status"`
}

func (h *httpHandler) handleSaveResults(c *gin.Context) {
	userID, ok := h.requestUser(c)
	if !ok {
		return
	}
	sheetID, ok := h.sheetParam(c)
	if !ok {
		return
	}

	var request saveResultsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	results, err := parseResultsPayload(request.Results)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_check_id"})
		return
	}

	var status checklist.SheetStatus
	if strings.TrimSpace(request.Status) != "" {
		status, err = checklist.ParseSheetStatus(request.Status)
		if err != nil {
			h.respondServiceError(c, err)
			return
		}
	}

	reviewerID := strings.TrimSpace(request.ReviewerID)
	if reviewerID == "" {
		reviewerID, err = h.checklist.ReviewerFor(c.Request.Context(), userID, request.GroupID)
		if err != nil {
			h.respondServiceError(c, err)
			return
		}
	}

	saved, err := h.checklist.SaveResults(c.Request.Context(), checklist.SaveResultsRequest{
		SheetID:      sheetID,
		Results:      results,
		CheckRemarks: request.CheckRemarks,
		UserID:       userID,
		ReviewerID:   reviewerID,
		GroupID:      request.GroupID,
		Status:       status,
	})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sheet_id": saved.String()})
}

type saveReviewPayload struct {
	Results       map[string]resultEntryPayload `json:"results"`
	ReviewRemarks string                        `json:"review_remarks"`
	Status        string                        `json:"status"`
}

type suggestionOutcomePayload struct {
	Step    string `json:"step"`
	Applied int    `json:"applied"`
	Skipped int    `json:"skipped"`
	Error   string `json:"error,omitempty"`
}

func (h *httpHandler) handleSaveReview(c *gin.Context) {
	userID, ok := h.requestUser(c)
	if !ok {
		return
	}
	sheetID, ok := h.sheetParam(c)
	if !ok {
		return
	}

	var request saveReviewPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	results, err := parseResultsPayload(request.Results)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_check_id"})
		return
	}

	status := checklist.SheetStatusReviewWaiting
	if strings.TrimSpace(request.Status) != "" {
		status, err = checklist.ParseSheetStatus(request.Status)
		if err != nil {
			h.respondServiceError(c, err)
			return
		}
	}

	err = h.checklist.SaveReview(c.Request.Context(), checklist.SaveReviewRequest{
		SheetID:       sheetID,
		Results:       results,
		ReviewRemarks: request.ReviewRemarks,
		UserID:        userID,
		Status:        status,
	})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	response := gin.H{"sheet_id": sheetID.String(), "status": string(status)}
	if status == checklist.SheetStatusCompleted && h.suggestions != nil {
		response["suggestions"] = h.runSuggestions(c, sheetID, userID, results, request.ReviewRemarks)
	}
	c.JSON(http.StatusOK, response)
}

// runSuggestions executes the post-review suggestion steps. Outcomes are
// reported to the caller; failures never affect the completed review.
func (h *httpHandler) runSuggestions(c *gin.Context, sheetID checklist.SheetID, reviewer checklist.UserID, review checklist.ResultSet, remarks string) []suggestionOutcomePayload {
	sheet, err := h.checklist.LoadSheet(c.Request.Context(), sheetID)
	if err != nil {
		h.logger.Warn("suggestion input load failed", zap.Error(err))
		return []suggestionOutcomePayload{
			{Step: suggest.StepItems, Error: "input_unavailable"},
			{Step: suggest.StepNotes, Error: "input_unavailable"},
		}
	}

	outcomes := h.suggestions.Run(c.Request.Context(), suggest.Input{
		SheetID:       sheetID,
		GroupID:       sheet.CheckGroupID,
		Reviewer:      reviewer,
		Review:        review,
		ReviewRemarks: remarks,
	})

	rendered := make([]suggestionOutcomePayload, 0, len(outcomes))
	for _, outcome := range outcomes {
		payload := suggestionOutcomePayload{
			Step:    outcome.Step,
			Applied: outcome.Applied,
			Skipped: outcome.Skipped,
		}
		if outcome.Err != nil {
			payload.Error = outcome.Err.Error()
		}
		rendered = append(rendered, payload)
	}
	return rendered
}

type sheetSummaryPayload struct {
	SheetID      string    `json:"sheet_id"`
	GroupName    string    `json:"group_name"`
	AssigneeName string    `json:"assignee_name"`
	ReviewerName string    `json:"reviewer_name"`
	Status       string    `json:"status"`
	CheckedCount int       `json:"checked_count"`
	TotalCount   int       `json:"total_count"`
	Remarks      string    `json:"remarks,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func renderSummaries(summaries []checklist.SheetSummary) []sheetSummaryPayload {
	rendered := make([]sheetSummaryPayload, 0, len(summaries))
	for _, summary := range summaries {
		rendered = append(rendered, sheetSummaryPayload{
			SheetID:      summary.SheetID,
			GroupName:    summary.GroupName,
			AssigneeName: summary.AssigneeName,
			ReviewerName: summary.ReviewerName,
			Status:       string(summary.Status),
			CheckedCount: summary.CheckedCount,
			TotalCount:   summary.TotalCount,
			Remarks:      summary.Remarks,
			CreatedAt:    summary.CreatedAt,
			UpdatedAt:    summary.UpdatedAt,
		})
	}
	return rendered
}

func (h *httpHandler) handleListSheets(c *gin.Context) {
	if _, ok := h.requestUser(c); !ok {
		return
	}
	summaries, err := h.checklist.ListSheetSummaries(c.Request.Context())
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sheets": renderSummaries(summaries)})
}

func (h *httpHandler) handleListTasks(c *gin.Context) {
	userID, ok := h.requestUser(c)
	if !ok {
		return
	}
	summaries, err := h.checklist.ListUserTasks(c.Request.Context(), userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": renderSummaries(summaries)})
}

func (h *httpHandler) handleGetSheet(c *gin.Context) {
	if _, ok := h.requestUser(c); !ok {
		return
	}
	sheetID, ok := h.sheetParam(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	sheet, err := h.checklist.LoadSheet(ctx, sheetID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	checkResults, err := h.checklist.LoadResults(ctx, sheetID, checklist.ResultTypeCheck)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	reviewResults, err := h.checklist.LoadResults(ctx, sheetID, checklist.ResultTypeReview)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sheet_id":       sheet.CheckSheetID,
		"status":         string(sheet.CheckStatus),
		"created_by":     sheet.CreatedBy,
		"reviewer_id":    sheet.ReviewerID,
		"group_id":       sheet.CheckGroupID,
		"check_remarks":  sheet.CheckRemarks,
		"review_remarks": sheet.ReviewRemarks,
		"created_at":     sheet.CreatedAt,
		"updated_at":     sheet.UpdatedAt,
		"check_results":  renderResults(checkResults),
		"review_results": renderResults(reviewResults),
	})
}

func (h *httpHandler) handleGetResults(c *gin.Context) {
	if _, ok := h.requestUser(c); !ok {
		return
	}
	sheetID, ok := h.sheetParam(c)
	if !ok {
		return
	}

	resultType := checklist.ResultTypeCheck
	switch strings.ToLower(strings.TrimSpace(c.Query("type"))) {
	case "", string(checklist.ResultTypeCheck):
	case string(checklist.ResultTypeReview):
		resultType = checklist.ResultTypeReview
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_result_type"})
		return
	}

	results, err := h.checklist.LoadResults(c.Request.Context(), sheetID, resultType)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": renderResults(results)})
}

// --- items ---

func (h *httpHandler) handleListPendingItems(c *gin.Context) {
	userID, ok := h.requestUser(c)
	if !ok {
		return
	}
	items, err := h.checklist.ListPendingItems(c.Request.Context(), userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	rendered := make([]gin.H, 0, len(items))
	for _, item := range items {
		rendered = append(rendered, gin.H{
			"item_id":     item.ID,
			"name":        item.Name,
			"description": item.Description,
			"level":       item.Level,
			"group_id":    item.GroupID,
			"group_name":  item.GroupName,
			"category":    item.CategoryName,
			"created_at":  item.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": rendered})
}

func (h *httpHandler) handleApproveItem(c *gin.Context) {
	h.resolveItem(c, h.checklist.ApproveItem)
}

func (h *httpHandler) handleRejectItem(c *gin.Context) {
	h.resolveItem(c, h.checklist.RejectItem)
}

func (h *httpHandler) resolveItem(c *gin.Context, resolve func(ctx context.Context, itemID int64, actor checklist.UserID) error) {
	userID, ok := h.requestUser(c)
	if !ok {
		return
	}
	itemID, ok := h.int64Param(c, "id")
	if !ok {
		return
	}
	if err := resolve(c.Request.Context(), itemID, userID); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"item_id": itemID})
}

// --- admin ---

func (h *httpHandler) handleListUsers(c *gin.Context) {
	if _, ok := h.requestUser(c); !ok {
		return
	}
	users, err := h.checklist.ListUsers(c.Request.Context())
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	rendered := make([]gin.H, 0, len(users))
	for _, user := range users {
		rendered = append(rendered, gin.H{"user_id": user.UserID, "user_name": user.UserName})
	}
	c.JSON(http.StatusOK, gin.H{"users": rendered})
}

func (h *httpHandler) handleAdminListGroups(c *gin.Context) {
	if _, ok := h.requestUser(c); !ok {
		return
	}
	groups, err := h.checklist.ListGroups(c.Request.Context())
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	rendered := make([]gin.H, 0, len(groups))
	for _, group := range groups {
		rendered = append(rendered, gin.H{"group_id": group.ID, "group_name": group.Name})
	}
	c.JSON(http.StatusOK, gin.H{"groups": rendered})
}

type addMembershipPayload struct {
	UserID     string `json:"user_id"`
	GroupID    int64  `json:"group_id"`
	Role       string `json:"role"`
	ReviewerID string `json:"reviewer_id"`
}

func (h *httpHandler) handleAddMembership(c *gin.Context) {
	if _, ok := h.requestUser(c); !ok {
		return
	}

	var request addMembershipPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.GroupID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	memberID, err := checklist.NewUserID(request.UserID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	role, err := checklist.ParseRole(request.Role)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	reviewerID := strings.TrimSpace(request.ReviewerID)
	if reviewerID == "" {
		reviewerID = memberID.String()
	}

	created, err := h.checklist.AddMembership(c.Request.Context(), memberID, request.GroupID, reviewerID, role)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"created": created})
}
