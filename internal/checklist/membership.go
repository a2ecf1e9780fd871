package checklist

import (
	"context"
	"errors"
	"sort"
	"time"

	"gorm.io/gorm"
)

// ensureUser creates the user row if it does not exist yet. Creation is
// idempotent; an existing row is left untouched.
func ensureUser(tx *gorm.DB, userID, userName string, now time.Time) error {
	var existing User
	err := tx.Where("user_id = ?", userID).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	user := User{
		UserID:    userID,
		UserName:  userName,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return tx.Create(&user).Error
}

// EnsureUser lazily creates a user on first sight and reports whether the
// row was newly created.
func (s *Service) EnsureUser(ctx context.Context, userID UserID, userName string) (bool, error) {
	if s.db == nil {
		return false, newServiceError(opEnsureUser, "missing_database", errMissingDatabase)
	}
	if userID == "" {
		return false, newServiceError(opEnsureUser, "missing_user_id", ErrInvalidUserID)
	}
	if userName == "" {
		userName = userID.String()
	}

	created := false
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing User
		err := tx.Where("user_id = ?", userID.String()).First(&existing).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		created = true
		return ensureUser(tx, userID.String(), userName, s.clock())
	})
	if txErr != nil {
		s.logError(opEnsureUser, "transaction_failed", txErr)
		return false, newServiceError(opEnsureUser, "transaction_failed", txErr)
	}
	return created, nil
}

// ProvisionDefaultMemberships enrolls a newly created user in every check
// group as a reviewer with themselves as the designated reviewer. Existing
// memberships are left as they are.
func (s *Service) ProvisionDefaultMemberships(ctx context.Context, userID UserID) error {
	if s.db == nil {
		return newServiceError(opProvisionGroups, "missing_database", errMissingDatabase)
	}

	var groups []CheckGroup
	if err := s.db.WithContext(ctx).Find(&groups).Error; err != nil {
		return newServiceError(opProvisionGroups, "query_failed", err)
	}

	for _, group := range groups {
		_, err := s.AddMembership(ctx, userID, group.ID, userID.String(), RoleReviewer)
		if err != nil {
			return newServiceError(opProvisionGroups, "membership_failed", err)
		}
	}
	return nil
}

// AddMembership ties a user to a group with the given role. The operation
// is idempotent per (user, group); it reports whether a row was created.
func (s *Service) AddMembership(ctx context.Context, userID UserID, groupID int64, reviewerID string, role Role) (bool, error) {
	if s.db == nil {
		return false, newServiceError(opAddMembership, "missing_database", errMissingDatabase)
	}
	if userID == "" {
		return false, newServiceError(opAddMembership, "missing_user_id", ErrInvalidUserID)
	}
	if role == "" {
		role = RoleMember
	}

	created := false
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing UserCheckGroup
		err := tx.Where("user_id = ? AND check_group_id = ?", userID.String(), groupID).
			First(&existing).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		created = true
		membership := UserCheckGroup{
			UserID:       userID.String(),
			CheckGroupID: groupID,
			ReviewerID:   reviewerID,
			Role:         role,
		}
		return tx.Create(&membership).Error
	})
	if txErr != nil {
		s.logError(opAddMembership, "transaction_failed", txErr)
		return false, newServiceError(opAddMembership, "transaction_failed", txErr)
	}
	return created, nil
}

// GroupMembership is a user's view of one group they belong to.
type GroupMembership struct {
	GroupID   int64
	GroupName string
	Role      Role
}

// ListUserGroups returns the groups the user belongs to, ordered by name.
func (s *Service) ListUserGroups(ctx context.Context, userID UserID) ([]GroupMembership, error) {
	if s.db == nil {
		return nil, newServiceError(opListUserGroups, "missing_database", errMissingDatabase)
	}

	var memberships []UserCheckGroup
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID.String()).Find(&memberships).Error; err != nil {
		return nil, newServiceError(opListUserGroups, "query_failed", err)
	}

	groups := make([]GroupMembership, 0, len(memberships))
	for _, membership := range memberships {
		var group CheckGroup
		if err := s.db.WithContext(ctx).Where("id = ?", membership.CheckGroupID).First(&group).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return nil, newServiceError(opListUserGroups, "query_failed", err)
		}
		groups = append(groups, GroupMembership{
			GroupID:   group.ID,
			GroupName: group.Name,
			Role:      membership.Role,
		})
	}

	sort.Slice(groups, func(i, j int) bool {
		return groups[i].GroupName < groups[j].GroupName
	})
	return groups, nil
}

// ReviewerFor returns the designated reviewer for a user within a group, or
// an empty string when none is set.
func (s *Service) ReviewerFor(ctx context.Context, userID UserID, groupID int64) (string, error) {
	if s.db == nil {
		return "", newServiceError(opGroupLookup, "missing_database", errMissingDatabase)
	}

	var membership UserCheckGroup
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND check_group_id = ?", userID.String(), groupID).
		First(&membership).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", newServiceError(opGroupLookup, "query_failed", err)
	}
	return membership.ReviewerID, nil
}

// ListUsers returns all users ordered by display name.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	if s.db == nil {
		return nil, newServiceError(opListUsers, "missing_database", errMissingDatabase)
	}
	var users []User
	if err := s.db.WithContext(ctx).Order("user_name").Find(&users).Error; err != nil {
		return nil, newServiceError(opListUsers, "query_failed", err)
	}
	return users, nil
}

// ListGroups returns all check groups ordered by name.
func (s *Service) ListGroups(ctx context.Context) ([]CheckGroup, error) {
	if s.db == nil {
		return nil, newServiceError(opListGroups, "missing_database", errMissingDatabase)
	}
	var groups []CheckGroup
	if err := s.db.WithContext(ctx).Order("name").Find(&groups).Error; err != nil {
		return nil, newServiceError(opListGroups, "query_failed", err)
	}
	return groups, nil
}

// GroupName resolves a group id to its display name.
func (s *Service) GroupName(ctx context.Context, groupID int64) (string, error) {
	if s.db == nil {
		return "", newServiceError(opGroupLookup, "missing_database", errMissingDatabase)
	}
	var group CheckGroup
	err := s.db.WithContext(ctx).Where("id = ?", groupID).First(&group).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", newServiceError(opGroupLookup, "query_failed", err)
	}
	return group.Name, nil
}

// CategoriesForGroup returns the categories that have at least one item in
// the group, ordered by name.
func (s *Service) CategoriesForGroup(ctx context.Context, groupID int64) ([]Category, error) {
	if s.db == nil {
		return nil, newServiceError(opListCategories, "missing_database", errMissingDatabase)
	}
	var categories []Category
	err := s.db.WithContext(ctx).
		Distinct("categories.*").
		Joins("JOIN check_items ON check_items.category_id = categories.id").
		Where("check_items.group_id = ?", groupID).
		Order("categories.name").
		Find(&categories).Error
	if err != nil {
		return nil, newServiceError(opListCategories, "query_failed", err)
	}
	return categories, nil
}

// GroupIDForItem resolves the owning group of a check item. A missing item
// yields zero, not an error.
func (s *Service) GroupIDForItem(ctx context.Context, itemID int64) (int64, error) {
	if s.db == nil {
		return 0, newServiceError(opGroupLookup, "missing_database", errMissingDatabase)
	}
	var item CheckItem
	err := s.db.WithContext(ctx).Where("id = ?", itemID).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, newServiceError(opGroupLookup, "query_failed", err)
	}
	return item.GroupID, nil
}
