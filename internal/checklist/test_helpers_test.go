package checklist

import (
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
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
		&User{},
		&Category{},
		&CheckGroup{},
		&UserCheckGroup{},
		&CheckItem{},
		&CheckSheet{},
		&CheckResult{},
		&CheckItemNote{},
	)
	if err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	service, err := NewService(ServiceConfig{
		Database: db,
		Clock:    func() time.Time { return time.Unix(1700000000, 0).UTC() },
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service, db
}

func mustUserID(t *testing.T, value string) UserID {
	t.Helper()
	id, err := NewUserID(value)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

func mustSheetID(t *testing.T, value string) SheetID {
	t.Helper()
	id, err := NewSheetID(value)
	if err != nil {
		t.Fatalf("unexpected sheet id error: %v", err)
	}
	return id
}

func seedGroup(t *testing.T, db *gorm.DB, name string) int64 {
	t.Helper()
	group := CheckGroup{Name: name}
	if err := db.Create(&group).Error; err != nil {
		t.Fatalf("failed to seed group: %v", err)
	}
	return group.ID
}

func seedCategory(t *testing.T, db *gorm.DB, name string) int64 {
	t.Helper()
	category := Category{Name: name}
	if err := db.Create(&category).Error; err != nil {
		t.Fatalf("failed to seed category: %v", err)
	}
	return category.ID
}

func seedItem(t *testing.T, db *gorm.DB, groupID, categoryID int64, name string, level int, status ItemStatus) int64 {
	t.Helper()
	item := CheckItem{
		Name:        name,
		Description: name + " description",
		Level:       level,
		CategoryID:  categoryID,
		GroupID:     groupID,
		Status:      status,
	}
	if err := db.Create(&item).Error; err != nil {
		t.Fatalf("failed to seed item: %v", err)
	}
	return item.ID
}

func seedMembership(t *testing.T, db *gorm.DB, userID string, groupID int64, role Role) {
	t.Helper()
	if err := db.Create(&User{UserID: userID, UserName: userID}).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	membership := UserCheckGroup{
		UserID:       userID,
		CheckGroupID: groupID,
		ReviewerID:   userID,
		Role:         role,
	}
	if err := db.Create(&membership).Error; err != nil {
		t.Fatalf("failed to seed membership: %v", err)
	}
}
