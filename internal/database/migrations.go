package database

import (
	"errors"
	"strings"
	"time"

	"github.com/skye-vasquez/Craft/internal/submissions"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationRepairSyncState     = "2024-03-01_repair_craft_sync_state"
	migrationNormalizePeriodType = "2024-03-08_normalize_period_type"
)

const repairedSyncError = "sync state repaired; retry to confirm"

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
		{name: migrationRepairSyncState, apply: repairSyncState},
		{name: migrationNormalizePeriodType, apply: normalizePeriodType},
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

// repairSyncState clears the columns that contradict each row's sync status.
func repairSyncState(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		model := &submissions.Submission{}
		if err := tx.Model(model).
			Where("craft_sync_status = ? AND craft_sync_error IS NOT NULL", submissions.SyncStatusSuccess).
			Update("craft_sync_error", nil).Error; err != nil {
			return err
		}
		if err := tx.Model(model).
			Where("craft_sync_status = ? AND craft_synced_at IS NOT NULL", submissions.SyncStatusFailed).
			Update("craft_synced_at", nil).Error; err != nil {
			return err
		}
		if err := tx.Model(model).
			Where("craft_sync_status = ? AND (craft_sync_error IS NOT NULL OR craft_synced_at IS NOT NULL)", submissions.SyncStatusPending).
			Updates(map[string]interface{}{"craft_sync_error": nil, "craft_synced_at": nil}).Error; err != nil {
			return err
		}
		if err := tx.Model(model).
			Where("craft_sync_status = ? AND craft_sync_error IS NULL", submissions.SyncStatusFailed).
			Update("craft_sync_error", repairedSyncError).Error; err != nil {
			return err
		}
		// a success without a timestamp cannot be proven, so it becomes retryable
		return tx.Model(model).
			Where("craft_sync_status = ? AND craft_synced_at IS NULL", submissions.SyncStatusSuccess).
			Updates(map[string]interface{}{
				"craft_sync_status": submissions.SyncStatusFailed,
				"craft_sync_error":  repairedSyncError,
			}).Error
	})
}

// normalizePeriodType lowercases stored cadences. Document configs are keyed by
// (store_id, period_type), so case variants of one key are collapsed first.
func normalizePeriodType(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		for _, table := range []interface{}{&submissions.Control{}, &submissions.Submission{}} {
			if err := tx.Model(table).
				Where("period_type <> LOWER(TRIM(period_type))").
				Update("period_type", gorm.Expr("LOWER(TRIM(period_type))")).Error; err != nil {
				return err
			}
		}
		return collapseDocumentConfigs(tx)
	})
}

type documentConfigKey struct {
	storeID    string
	periodType string
}

// collapseDocumentConfigs keeps one row per normalized key: the most recently
// updated one, with an already-normalized row winning a tie.
func collapseDocumentConfigs(tx *gorm.DB) error {
	var configs []submissions.DocumentConfig
	if err := tx.Order("store_id, period_type").Find(&configs).Error; err != nil {
		return err
	}

	winners := make(map[documentConfigKey]submissions.DocumentConfig)
	for _, config := range configs {
		key := normalizedConfigKey(config)
		current, ok := winners[key]
		if !ok || preferConfig(config, current, key.periodType) {
			winners[key] = config
		}
	}

	for _, config := range configs {
		if winners[normalizedConfigKey(config)].PeriodType == config.PeriodType {
			continue
		}
		if err := tx.Where("store_id = ? AND period_type = ?", config.StoreID, config.PeriodType).
			Delete(&submissions.DocumentConfig{}).Error; err != nil {
			return err
		}
	}
	for key, winner := range winners {
		if string(winner.PeriodType) == key.periodType {
			continue
		}
		if err := tx.Model(&submissions.DocumentConfig{}).
			Where("store_id = ? AND period_type = ?", winner.StoreID, winner.PeriodType).
			UpdateColumn("period_type", key.periodType).Error; err != nil {
			return err
		}
	}
	return nil
}

func normalizedConfigKey(config submissions.DocumentConfig) documentConfigKey {
	return documentConfigKey{
		storeID:    config.StoreID,
		periodType: strings.ToLower(strings.TrimSpace(string(config.PeriodType))),
	}
}

func preferConfig(candidate, current submissions.DocumentConfig, normalized string) bool {
	if !candidate.UpdatedAt.Equal(current.UpdatedAt) {
		return candidate.UpdatedAt.After(current.UpdatedAt)
	}
	return string(candidate.PeriodType) == normalized && string(current.PeriodType) != normalized
}
