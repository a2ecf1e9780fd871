package checklist

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var (
	// ErrItemNotFound indicates the requested check item does not exist.
	ErrItemNotFound = errors.New("checklist: item not found")
	// ErrItemNotPending indicates an approval action on an item that is not pending.
	ErrItemNotPending = errors.New("checklist: item is not pending")
	// ErrNotPermitted indicates the actor lacks the reviewer or admin role on the item's group.
	ErrNotPermitted = errors.New("checklist: actor is not a reviewer or admin for this group")
)

// ChecklistItem is the catalog projection of one open check item, with the
// requesting user's newest advisory note attached when one exists.
type ChecklistItem struct {
	CheckID     int64
	Name        string
	Category    string
	Description string
	Level       int
	GroupName   string
	Note        string
}

// ChecklistSection is one category's worth of open items.
type ChecklistSection struct {
	Category string
	Items    []ChecklistItem
}

// LoadChecklist returns the group's open items grouped by category. When a
// user id is supplied, that user's newest note for the group is surfaced on
// its item.
func (s *Service) LoadChecklist(ctx context.Context, groupID int64, userID UserID) ([]ChecklistSection, error) {
	if s.db == nil {
		return nil, newServiceError(opLoadChecklist, "missing_database", errMissingDatabase)
	}

	var items []CheckItem
	err := s.db.WithContext(ctx).
		Where("group_id = ? AND status = ?", groupID, ItemStatusOpen).
		Order("category_id, id").
		Find(&items).Error
	if err != nil {
		return nil, newServiceError(opLoadChecklist, "query_failed", err)
	}

	return s.buildSections(ctx, items, groupID, userID)
}

// LoadChecklistForSheet restricts the catalog to the items that have
// check-type results on the given sheet, so editing an existing sheet shows
// the items it was filled against even if the group has since changed.
func (s *Service) LoadChecklistForSheet(ctx context.Context, sheetID SheetID, userID UserID) ([]ChecklistSection, error) {
	if s.db == nil {
		return nil, newServiceError(opLoadChecklist, "missing_database", errMissingDatabase)
	}

	var rows []CheckResult
	err := s.db.WithContext(ctx).
		Where("check_sheet_id = ? AND check_type = ?", sheetID.String(), ResultTypeCheck).
		Find(&rows).Error
	if err != nil {
		return nil, newServiceError(opLoadChecklist, "query_failed", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	itemIDs := make([]int64, 0, len(rows))
	for _, row := range rows {
		itemIDs = append(itemIDs, row.CheckID)
	}

	var items []CheckItem
	err = s.db.WithContext(ctx).
		Where("id IN ?", itemIDs).
		Order("category_id, id").
		Find(&items).Error
	if err != nil {
		return nil, newServiceError(opLoadChecklist, "query_failed", err)
	}

	groupID := int64(0)
	if len(items) > 0 {
		groupID = items[0].GroupID
	}
	return s.buildSections(ctx, items, groupID, userID)
}

func (s *Service) buildSections(ctx context.Context, items []CheckItem, groupID int64, userID UserID) ([]ChecklistSection, error) {
	groupName, err := s.GroupName(ctx, groupID)
	if err != nil {
		return nil, err
	}

	noteItemID := int64(0)
	noteText := ""
	if userID != "" {
		note, err := s.LatestItemNote(ctx, userID, groupID)
		if err != nil {
			return nil, err
		}
		if note != nil {
			noteItemID = note.CheckID
			noteText = note.NoteText
		}
	}

	categoryNames := make(map[int64]string)
	sections := make([]ChecklistSection, 0)
	sectionIndex := make(map[string]int)
	for _, item := range items {
		categoryName, ok := categoryNames[item.CategoryID]
		if !ok {
			var category Category
			if err := s.db.WithContext(ctx).Where("id = ?", item.CategoryID).First(&category).Error; err == nil {
				categoryName = category.Name
			}
			categoryNames[item.CategoryID] = categoryName
		}

		entry := ChecklistItem{
			CheckID:     item.ID,
			Name:        item.Name,
			Category:    categoryName,
			Description: item.Description,
			Level:       item.Level,
			GroupName:   groupName,
		}
		if item.ID == noteItemID {
			entry.Note = noteText
		}

		index, ok := sectionIndex[categoryName]
		if !ok {
			sections = append(sections, ChecklistSection{Category: categoryName})
			index = len(sections) - 1
			sectionIndex[categoryName] = index
		}
		sections[index].Items = append(sections[index].Items, entry)
	}
	return sections, nil
}

// NewItemInput describes a check item proposal.
type NewItemInput struct {
	Name        string
	Description string
	Level       int
	CategoryID  int64
}

// AddPendingItem stores a proposed check item with status pending. Pending
// items are never presented on sheets until explicitly approved.
func (s *Service) AddPendingItem(ctx context.Context, input NewItemInput, groupID int64) (int64, error) {
	if s.db == nil {
		return 0, newServiceError(opAddItem, "missing_database", errMissingDatabase)
	}
	if input.Name == "" {
		return 0, newServiceError(opAddItem, "missing_name", errors.New("item name is required"))
	}

	item := CheckItem{
		Name:        input.Name,
		Description: input.Description,
		Level:       input.Level,
		CategoryID:  input.CategoryID,
		GroupID:     groupID,
		Status:      ItemStatusPending,
	}
	if err := s.db.WithContext(ctx).Create(&item).Error; err != nil {
		s.logError(opAddItem, "insert_failed", err)
		return 0, newServiceError(opAddItem, "insert_failed", err)
	}
	return item.ID, nil
}

// ApproveItem moves a pending item to open. The actor must hold the
// reviewer or admin role on the item's group.
func (s *Service) ApproveItem(ctx context.Context, itemID int64, actor UserID) error {
	return s.resolvePendingItem(ctx, opApproveItem, itemID, actor, ItemStatusOpen)
}

// RejectItem moves a pending item to rejected under the same guard as
// ApproveItem.
func (s *Service) RejectItem(ctx context.Context, itemID int64, actor UserID) error {
	return s.resolvePendingItem(ctx, opRejectItem, itemID, actor, ItemStatusRejected)
}

func (s *Service) resolvePendingItem(ctx context.Context, operation string, itemID int64, actor UserID, target ItemStatus) error {
	if s.db == nil {
		return newServiceError(operation, "missing_database", errMissingDatabase)
	}
	if actor == "" {
		return newServiceError(operation, "missing_user_id", ErrInvalidUserID)
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item CheckItem
		if err := tx.Where("id = ?", itemID).First(&item).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrItemNotFound
			}
			return err
		}
		if item.Status != ItemStatusPending {
			return ErrItemNotPending
		}

		var membership UserCheckGroup
		err := tx.Where("user_id = ? AND check_group_id = ? AND role IN ?",
			actor.String(), item.GroupID, []Role{RoleReviewer, RoleAdmin}).
			First(&membership).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotPermitted
		}
		if err != nil {
			return err
		}

		return tx.Model(&CheckItem{}).
			Where("id = ?", itemID).
			Updates(map[string]interface{}{
				"status":     target,
				"updated_at": s.clock(),
			}).Error
	})
	if txErr != nil {
		switch {
		case errors.Is(txErr, ErrItemNotFound):
			return newServiceError(operation, "item_not_found", txErr)
		case errors.Is(txErr, ErrItemNotPending):
			return newServiceError(operation, "item_not_pending", txErr)
		case errors.Is(txErr, ErrNotPermitted):
			return newServiceError(operation, "not_permitted", txErr)
		default:
			s.logError(operation, "transaction_failed", txErr)
			return newServiceError(operation, "transaction_failed", txErr)
		}
	}
	return nil
}

// PendingItem is the reviewer-facing projection of a proposed check item.
type PendingItem struct {
	ID           int64
	Name         string
	Description  string
	Level        int
	Status       ItemStatus
	GroupID      int64
	CategoryName string
	GroupName    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ListPendingItems returns pending items in the groups where the user holds
// the reviewer or admin role, newest first.
func (s *Service) ListPendingItems(ctx context.Context, userID UserID) ([]PendingItem, error) {
	if s.db == nil {
		return nil, newServiceError(opListPending, "missing_database", errMissingDatabase)
	}

	var memberships []UserCheckGroup
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND role IN ?", userID.String(), []Role{RoleReviewer, RoleAdmin}).
		Find(&memberships).Error
	if err != nil {
		return nil, newServiceError(opListPending, "query_failed", err)
	}
	if len(memberships) == 0 {
		return nil, nil
	}

	groupIDs := make([]int64, 0, len(memberships))
	for _, membership := range memberships {
		groupIDs = append(groupIDs, membership.CheckGroupID)
	}

	var items []CheckItem
	err = s.db.WithContext(ctx).
		Where("status = ? AND group_id IN ?", ItemStatusPending, groupIDs).
		Order("created_at DESC").
		Find(&items).Error
	if err != nil {
		return nil, newServiceError(opListPending, "query_failed", err)
	}

	pending := make([]PendingItem, 0, len(items))
	for _, item := range items {
		groupName, err := s.GroupName(ctx, item.GroupID)
		if err != nil {
			return nil, err
		}
		categoryName := ""
		var category Category
		if err := s.db.WithContext(ctx).Where("id = ?", item.CategoryID).First(&category).Error; err == nil {
			categoryName = category.Name
		}
		pending = append(pending, PendingItem{
			ID:           item.ID,
			Name:         item.Name,
			Description:  item.Description,
			Level:        item.Level,
			Status:       item.Status,
			GroupID:      item.GroupID,
			CategoryName: categoryName,
			GroupName:    groupName,
			CreatedAt:    item.CreatedAt,
			UpdatedAt:    item.UpdatedAt,
		})
	}
	return pending, nil
}

// AddItemNote attaches advisory text to a check item for a user. The item
// must exist.
func (s *Service) AddItemNote(ctx context.Context, itemID int64, userID UserID, noteText string) error {
	if s.db == nil {
		return newServiceError(opAddNote, "missing_database", errMissingDatabase)
	}
	if userID == "" {
		return newServiceError(opAddNote, "missing_user_id", ErrInvalidUserID)
	}
	if noteText == "" {
		return newServiceError(opAddNote, "missing_note_text", errors.New("note text is required"))
	}

	var item CheckItem
	if err := s.db.WithContext(ctx).Where("id = ?", itemID).First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opAddNote, "item_not_found", ErrItemNotFound)
		}
		return newServiceError(opAddNote, "query_failed", err)
	}

	note := CheckItemNote{
		CheckID:  itemID,
		UserID:   userID.String(),
		NoteText: noteText,
	}
	if err := s.db.WithContext(ctx).Create(&note).Error; err != nil {
		s.logError(opAddNote, "insert_failed", err)
		return newServiceError(opAddNote, "insert_failed", err)
	}
	return nil
}

// LatestItemNote returns the user's newest note among the items of a group,
// or nil when the user has none there.
func (s *Service) LatestItemNote(ctx context.Context, userID UserID, groupID int64) (*CheckItemNote, error) {
	if s.db == nil {
		return nil, newServiceError(opLatestNote, "missing_database", errMissingDatabase)
	}

	var note CheckItemNote
	err := s.db.WithContext(ctx).
		Joins("JOIN check_items ON check_items.id = check_item_notes.check_id").
		Where("check_item_notes.user_id = ? AND check_items.group_id = ?", userID.String(), groupID).
		Order("check_item_notes.created_at DESC").
		First(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, newServiceError(opLatestNote, "query_failed", err)
	}
	return &note, nil
}

// FlatChecklistItems flattens sections into the prompt catalog order.
func FlatChecklistItems(sections []ChecklistSection) []ChecklistItem {
	items := make([]ChecklistItem, 0)
	for _, section := range sections {
		items = append(items, section.Items...)
	}
	return items
}
