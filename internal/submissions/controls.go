package submissions

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrNoControlUpdates indicates an update request that changes nothing.
var ErrNoControlUpdates = errors.New("submissions: no control updates provided")

// ListControls returns controls ordered for display. Inactive controls are
// included only when includeInactive is set.
func (s *Service) ListControls(ctx context.Context, includeInactive bool) ([]Control, error) {
	if s.db == nil {
		s.logError(opListControls, "missing_database", errMissingDatabase)
		return nil, newServiceError(opListControls, "missing_database", errMissingDatabase)
	}
	query := s.db.WithContext(ctx).Model(&Control{})
	if !includeInactive {
		query = query.Where("is_active = ?", true)
	}
	var controls []Control
	if err := query.Order("display_order").Order("id").Find(&controls).Error; err != nil {
		s.logError(opListControls, "query_failed", err)
		return nil, newServiceError(opListControls, "query_failed", err)
	}
	return controls, nil
}

// GetControl loads a control by identifier.
func (s *Service) GetControl(ctx context.Context, controlID string) (Control, error) {
	if s.db == nil {
		return Control{}, errMissingDatabase
	}
	var control Control
	err := s.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(controlID)).Take(&control).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Control{}, ErrControlNotFound
	}
	if err != nil {
		return Control{}, err
	}
	return control, nil
}

// CreateControl registers a new control.
func (s *Service) CreateControl(ctx context.Context, control Control) (Control, error) {
	if s.db == nil {
		return Control{}, newServiceError(opCreateControl, "missing_database", errMissingDatabase)
	}
	id, err := normalizeIdentifier(control.ID)
	if err != nil {
		return Control{}, newServiceError(opCreateControl, "invalid_control_id", err)
	}
	name := strings.TrimSpace(control.Name)
	if name == "" {
		return Control{}, newServiceError(opCreateControl, "invalid_name", ErrInvalidIdentifier)
	}
	periodType, err := ParsePeriodType(string(control.PeriodType))
	if err != nil {
		return Control{}, newServiceError(opCreateControl, "invalid_period_type", err)
	}
	created := Control{
		ID:           id,
		Name:         name,
		PeriodType:   periodType,
		IsActive:     true,
		DisplayOrder: control.DisplayOrder,
	}
	if err := s.db.WithContext(ctx).Create(&created).Error; err != nil {
		s.logError(opCreateControl, "insert_failed", err, zap.String("control_id", id))
		return Control{}, newServiceError(opCreateControl, "insert_failed", err)
	}
	return created, nil
}

// ControlUpdate carries optional changes to a control.
type ControlUpdate struct {
	IsActive     *bool
	DisplayOrder *int
}

// UpdateControl applies the provided changes and returns the applied column set.
func (s *Service) UpdateControl(ctx context.Context, controlID string, update ControlUpdate) (map[string]interface{}, error) {
	if s.db == nil {
		return nil, newServiceError(opUpdateControl, "missing_database", errMissingDatabase)
	}
	updates := map[string]interface{}{}
	if update.IsActive != nil {
		updates["is_active"] = *update.IsActive
	}
	if update.DisplayOrder != nil {
		updates["display_order"] = *update.DisplayOrder
	}
	if len(updates) == 0 {
		return nil, newServiceError(opUpdateControl, "no_updates", ErrNoControlUpdates)
	}
	result := s.db.WithContext(ctx).Model(&Control{}).
		Where("id = ?", strings.TrimSpace(controlID)).
		Updates(updates)
	if result.Error != nil {
		s.logError(opUpdateControl, "update_failed", result.Error, zap.String("control_id", controlID))
		return nil, newServiceError(opUpdateControl, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, newServiceError(opUpdateControl, "not_found", ErrControlNotFound)
	}
	return updates, nil
}
