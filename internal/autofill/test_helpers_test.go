package autofill

import (
	"context"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/smartchecklab/smartcheck/internal/checklist"
)

var testClockTime = time.Unix(1700000000, 0).UTC()

func newChecklistService(t *testing.T) (*checklist.Service, *gorm.DB) {
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
	return service, db
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

func mustUser(t *testing.T, value string) checklist.UserID {
	t.Helper()
	id, err := checklist.NewUserID(value)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

func mustSheet(t *testing.T, value string) checklist.SheetID {
	t.Helper()
	id, err := checklist.NewSheetID(value)
	if err != nil {
		t.Fatalf("unexpected sheet id error: %v", err)
	}
	return id
}

type stubGenerator struct {
	proposals []Proposal
	err       error
	prompts   []string
}

func (g *stubGenerator) GenerateProposals(_ context.Context, prompt string) ([]Proposal, error) {
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return nil, g.err
	}
	return g.proposals, nil
}

type stubTranscriber struct {
	transcript string
	err        error
	clips      []Clip
}

func (s *stubTranscriber) Transcribe(_ context.Context, clip Clip) (string, error) {
	s.clips = append(s.clips, clip)
	if s.err != nil {
		return "", s.err
	}
	return s.transcript, nil
}

type stubExtractor struct {
	text string
	err  error
}

func (e *stubExtractor) ExtractText(_ context.Context, _ []byte, _ string) (string, error) {
	if e.err != nil {
		return "", e.err
	}
	return e.text, nil
}

func itemProposal(id string, checked bool, remarks string) Proposal {
	return Proposal{Item: &ItemProposal{CheckID: id, Checked: checked, Remarks: remarks}}
}

func overallProposal(remarks string) Proposal {
	return Proposal{Overall: &OverallProposal{OverallRemarks: remarks}}
}
