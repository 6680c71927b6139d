package submissions

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrEmptyDocumentID indicates a blank craft document identifier.
var ErrEmptyDocumentID = errors.New("submissions: craft document id required")

// LookupDocument returns the craft document configured for the store and cadence.
// found is false when no mapping exists yet.
func (s *Service) LookupDocument(ctx context.Context, storeID string, periodType PeriodType) (string, bool, error) {
	if s.db == nil {
		return "", false, newServiceError(opLookupDocument, "missing_database", errMissingDatabase)
	}
	var config DocumentConfig
	err := s.db.WithContext(ctx).
		Where("store_id = ? AND period_type = ?", strings.TrimSpace(storeID), periodType).
		Take(&config).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		s.logError(opLookupDocument, "query_failed", err,
			zap.String("store_id", storeID),
			zap.String("period_type", string(periodType)))
		return "", false, newServiceError(opLookupDocument, "query_failed", err)
	}
	docID := strings.TrimSpace(config.CraftDocID)
	if docID == "" {
		return "", false, nil
	}
	return docID, true, nil
}

// ListDocumentConfigs returns every configured mapping ordered by store.
func (s *Service) ListDocumentConfigs(ctx context.Context) ([]DocumentConfig, error) {
	if s.db == nil {
		return nil, newServiceError(opListDocumentConfigs, "missing_database", errMissingDatabase)
	}
	var configs []DocumentConfig
	if err := s.db.WithContext(ctx).Order("store_id").Order("period_type").Find(&configs).Error; err != nil {
		s.logError(opListDocumentConfigs, "query_failed", err)
		return nil, newServiceError(opListDocumentConfigs, "query_failed", err)
	}
	return configs, nil
}

// UpsertDocumentConfig maps the store and cadence to a craft document and
// returns the previously mapped document id, if any.
func (s *Service) UpsertDocumentConfig(ctx context.Context, storeID string, periodType PeriodType, craftDocID string) (string, error) {
	if s.db == nil {
		return "", newServiceError(opUpsertDocument, "missing_database", errMissingDatabase)
	}
	store, err := normalizeIdentifier(storeID)
	if err != nil {
		return "", newServiceError(opUpsertDocument, "invalid_store_id", err)
	}
	period, err := ParsePeriodType(string(periodType))
	if err != nil {
		return "", newServiceError(opUpsertDocument, "invalid_period_type", err)
	}
	docID := strings.TrimSpace(craftDocID)
	if docID == "" {
		return "", newServiceError(opUpsertDocument, "empty_document_id", ErrEmptyDocumentID)
	}

	var previous string
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing DocumentConfig
		err := tx.Where("store_id = ? AND period_type = ?", store, period).Take(&existing).Error
		if err == nil {
			previous = existing.CraftDocID
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opUpsertDocument, "query_failed", err)
		}

		config := DocumentConfig{
			StoreID:    store,
			PeriodType: period,
			CraftDocID: docID,
			UpdatedAt:  s.clock().UTC(),
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "store_id"}, {Name: "period_type"}},
			DoUpdates: clause.AssignmentColumns([]string{"craft_doc_id", "updated_at"}),
		}).Create(&config).Error; err != nil {
			return newServiceError(opUpsertDocument, "upsert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opUpsertDocument, "transaction_failed", txErr,
			zap.String("store_id", store),
			zap.String("period_type", string(period)))
		return "", txErr
	}
	return previous, nil
}
