package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smartchecklab/smartcheck/internal/checklist"
)

const migrationSeedAutoCheckUser = "2026-08-15_seed_auto_check_user"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationSeedAutoCheckUser, apply: seedAutoCheckUser},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// seedAutoCheckUser inserts the synthetic author used for machine-generated
// result rows so they survive foreign key checks and list joins.
func seedAutoCheckUser(db *gorm.DB) error {
	var count int64
	err := db.Model(&checklist.User{}).
		Where("user_id = ?", checklist.AutoCheckUserID.String()).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	return db.Create(&checklist.User{
		UserID:   checklist.AutoCheckUserID.String(),
		UserName: "Auto Check",
	}).Error
}
