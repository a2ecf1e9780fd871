package checklist

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrSheetNotFound indicates the requested check sheet does not exist.
var ErrSheetNotFound = errors.New("checklist: sheet not found")

// SaveResultsRequest carries one check-type submission for a sheet.
type SaveResultsRequest struct {
	SheetID      SheetID
	Results      ResultSet
	CheckRemarks string
	UserID       UserID
	ReviewerID   string
	GroupID      int64
	Status       SheetStatus
}

// SaveReviewRequest carries one review-type submission for a sheet.
type SaveReviewRequest struct {
	SheetID       SheetID
	Results       ResultSet
	ReviewRemarks string
	UserID        UserID
	Status        SheetStatus
}

// SaveResults persists a check-type result set. A missing sheet is created
// with the requested status (default review_waiting); an existing sheet has
// its status and check remarks updated and its check-type rows replaced by
// the submitted set. The replacement is one transaction, so readers observe
// either the full old set or the full new set.
func (s *Service) SaveResults(ctx context.Context, req SaveResultsRequest) (SheetID, error) {
	if s.db == nil {
		return "", newServiceError(opSaveResults, "missing_database", errMissingDatabase)
	}
	if req.SheetID == "" {
		return "", newServiceError(opSaveResults, "missing_sheet_id", ErrInvalidSheetID)
	}
	if req.UserID == "" {
		return "", newServiceError(opSaveResults, "missing_user_id", ErrInvalidUserID)
	}

	status := req.Status
	if status == "" {
		status = SheetStatusReviewWaiting
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureUser(tx, req.UserID.String(), req.UserID.String(), s.clock()); err != nil {
			return err
		}

		var sheet CheckSheet
		err := tx.Where("check_sheet_id = ?", req.SheetID.String()).First(&sheet).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			sheet = CheckSheet{
				CheckSheetID: req.SheetID.String(),
				CheckStatus:  status,
				CreatedBy:    req.UserID.String(),
				ReviewerID:   req.ReviewerID,
				CheckGroupID: req.GroupID,
				CheckRemarks: req.CheckRemarks,
			}
			if err := tx.Create(&sheet).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			updates := map[string]interface{}{
				"check_status":  status,
				"check_remarks": req.CheckRemarks,
			}
			if err := tx.Model(&CheckSheet{}).
				Where("check_sheet_id = ?", req.SheetID.String()).
				Updates(updates).Error; err != nil {
				return err
			}
		}

		return replaceResults(tx, req.SheetID.String(), ResultTypeCheck, req.Results, req.UserID.String())
	})
	if txErr != nil {
		s.logError(opSaveResults, "transaction_failed", txErr)
		return "", newServiceError(opSaveResults, "transaction_failed", txErr)
	}

	return req.SheetID, nil
}

// SaveReview persists a review-type result set with the caller-supplied
// status and review remarks. Like SaveResults, the replacement of the
// review-type rows and the sheet update commit together.
func (s *Service) SaveReview(ctx context.Context, req SaveReviewRequest) error {
	if s.db == nil {
		return newServiceError(opSaveReview, "missing_database", errMissingDatabase)
	}
	if req.SheetID == "" {
		return newServiceError(opSaveReview, "missing_sheet_id", ErrInvalidSheetID)
	}
	if req.UserID == "" {
		return newServiceError(opSaveReview, "missing_user_id", ErrInvalidUserID)
	}
	if req.Status == "" {
		return newServiceError(opSaveReview, "missing_status", ErrInvalidStatus)
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureUser(tx, req.UserID.String(), req.UserID.String(), s.clock()); err != nil {
			return err
		}

		var sheet CheckSheet
		if err := tx.Where("check_sheet_id = ?", req.SheetID.String()).First(&sheet).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSheetNotFound
			}
			return err
		}

		if err := replaceResults(tx, req.SheetID.String(), ResultTypeReview, req.Results, req.UserID.String()); err != nil {
			return err
		}

		return tx.Model(&CheckSheet{}).
			Where("check_sheet_id = ?", req.SheetID.String()).
			Updates(map[string]interface{}{
				"check_status":   req.Status,
				"review_remarks": req.ReviewRemarks,
			}).Error
	})
	if txErr != nil {
		if errors.Is(txErr, ErrSheetNotFound) {
			return newServiceError(opSaveReview, "sheet_not_found", txErr)
		}
		s.logError(opSaveReview, "transaction_failed", txErr)
		return newServiceError(opSaveReview, "transaction_failed", txErr)
	}

	return nil
}

// replaceResults swaps the full result set of one type for a sheet. Updates
// are full replace, not a diff: items omitted from the new set disappear.
func replaceResults(tx *gorm.DB, sheetID string, resultType ResultType, results ResultSet, authorID string) error {
	if err := tx.Where("check_sheet_id = ? AND check_type = ?", sheetID, resultType).
		Delete(&CheckResult{}).Error; err != nil {
		return err
	}

	for checkID, result := range results {
		row := CheckResult{
			CheckSheetID: sheetID,
			CheckID:      checkID,
			CheckType:    resultType,
			Checked:      result.Checked,
			UserID:       authorID,
			Remarks:      result.Remarks,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

// LoadSheet fetches one sheet's metadata.
func (s *Service) LoadSheet(ctx context.Context, sheetID SheetID) (CheckSheet, error) {
	if s.db == nil {
		return CheckSheet{}, newServiceError(opLoadSheet, "missing_database", errMissingDatabase)
	}

	var sheet CheckSheet
	err := s.db.WithContext(ctx).Where("check_sheet_id = ?", sheetID.String()).First(&sheet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return CheckSheet{}, newServiceError(opLoadSheet, "sheet_not_found", ErrSheetNotFound)
	}
	if err != nil {
		return CheckSheet{}, newServiceError(opLoadSheet, "query_failed", err)
	}
	return sheet, nil
}

// LoadResults returns the result set of the given type for a sheet. A sheet
// with no rows of that type yields an empty set, not an error.
func (s *Service) LoadResults(ctx context.Context, sheetID SheetID, resultType ResultType) (ResultSet, error) {
	if s.db == nil {
		return nil, newServiceError(opLoadResults, "missing_database", errMissingDatabase)
	}

	var rows []CheckResult
	err := s.db.WithContext(ctx).
		Where("check_sheet_id = ? AND check_type = ?", sheetID.String(), resultType).
		Find(&rows).Error
	if err != nil {
		return nil, newServiceError(opLoadResults, "query_failed", err)
	}

	results := make(ResultSet, len(rows))
	for _, row := range rows {
		results[row.CheckID] = ItemResult{Checked: row.Checked, Remarks: row.Remarks}
	}
	return results, nil
}

// SheetSummary is the list-view projection of a sheet.
type SheetSummary struct {
	SheetID      string
	GroupName    string
	AssigneeName string
	ReviewerName string
	Status       SheetStatus
	CheckedCount int
	TotalCount   int
	Remarks      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ListSheetSummaries returns every sheet with its checked/total counts and
// resolved user and group names, newest first.
func (s *Service) ListSheetSummaries(ctx context.Context) ([]SheetSummary, error) {
	if s.db == nil {
		return nil, newServiceError(opListSummaries, "missing_database", errMissingDatabase)
	}

	var sheets []CheckSheet
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&sheets).Error; err != nil {
		return nil, newServiceError(opListSummaries, "query_failed", err)
	}

	summaries, err := s.summarize(ctx, sheets)
	if err != nil {
		return nil, newServiceError(opListSummaries, "summarize_failed", err)
	}
	return summaries, nil
}

// ListUserTasks returns the non-completed sheets where the user is either
// the assignee or the designated reviewer, most recently updated first.
func (s *Service) ListUserTasks(ctx context.Context, userID UserID) ([]SheetSummary, error) {
	if s.db == nil {
		return nil, newServiceError(opListTasks, "missing_database", errMissingDatabase)
	}

	var sheets []CheckSheet
	err := s.db.WithContext(ctx).
		Where("check_status <> ?", SheetStatusCompleted).
		Where("created_by = ? OR reviewer_id = ?", userID.String(), userID.String()).
		Order("updated_at DESC").
		Find(&sheets).Error
	if err != nil {
		return nil, newServiceError(opListTasks, "query_failed", err)
	}

	summaries, err := s.summarize(ctx, sheets)
	if err != nil {
		return nil, newServiceError(opListTasks, "summarize_failed", err)
	}
	return summaries, nil
}

func (s *Service) summarize(ctx context.Context, sheets []CheckSheet) ([]SheetSummary, error) {
	summaries := make([]SheetSummary, 0, len(sheets))
	for _, sheet := range sheets {
		var rows []CheckResult
		err := s.db.WithContext(ctx).
			Where("check_sheet_id = ? AND check_type = ?", sheet.CheckSheetID, ResultTypeCheck).
			Find(&rows).Error
		if err != nil {
			return nil, err
		}

		checkedCount := 0
		for _, row := range rows {
			if row.Checked {
				checkedCount++
			}
		}

		summary := SheetSummary{
			SheetID:      sheet.CheckSheetID,
			GroupName:    s.lookupGroupName(ctx, sheet.CheckGroupID),
			AssigneeName: s.lookupUserName(ctx, sheet.CreatedBy),
			ReviewerName: s.lookupUserName(ctx, sheet.ReviewerID),
			Status:       sheet.CheckStatus,
			CheckedCount: checkedCount,
			TotalCount:   len(rows),
			Remarks:      sheet.CheckRemarks,
			CreatedAt:    sheet.CreatedAt,
			UpdatedAt:    sheet.UpdatedAt,
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (s *Service) lookupUserName(ctx context.Context, userID string) string {
	if userID == "" {
		return ""
	}
	var user User
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&user).Error; err != nil {
		return userID
	}
	return user.UserName
}

func (s *Service) lookupGroupName(ctx context.Context, groupID int64) string {
	if groupID == 0 {
		return ""
	}
	var group CheckGroup
	if err := s.db.WithContext(ctx).Where("id = ?", groupID).First(&group).Error; err != nil {
		return ""
	}
	return group.Name
}
