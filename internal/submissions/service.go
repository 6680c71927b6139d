package submissions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrSubmissionNotFound indicates that no submission matches the identifier.
	ErrSubmissionNotFound = errors.New("submissions: submission not found")
	// ErrControlNotFound indicates that no control matches the identifier.
	ErrControlNotFound = errors.New("submissions: control not found")
	// ErrAlreadyReviewed indicates a review was requested for a reviewed submission.
	ErrAlreadyReviewed = errors.New("submissions: submission already reviewed")
	// ErrMissingEvidence indicates a submission carries neither notes nor a file.
	ErrMissingEvidence = errors.New("submissions: notes or file required")
	// ErrInvalidSyncState indicates a sync state that violates the sync invariant.
	ErrInvalidSyncState = errors.New("submissions: invalid sync state")
	// ErrEmptyPeriodKey indicates a blank period key update.
	ErrEmptyPeriodKey = errors.New("submissions: period key required")
	// ErrMissingSubmitter indicates a blank submitter name.
	ErrMissingSubmitter = errors.New("submissions: submitter name required")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries a stable error code of the form <operation>.<reason>.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew          = "submissions.service.new"
	opCreateSubmission    = "submissions.create"
	opListSubmissions     = "submissions.list"
	opGetSubmission       = "submissions.get"
	opMarkReviewed        = "submissions.mark_reviewed"
	opUpdatePeriodKey     = "submissions.update_period_key"
	opUpdateSyncState     = "submissions.update_sync_state"
	opListFailedSyncs     = "submissions.list_failed_syncs"
	opListControls        = "submissions.list_controls"
	opUpdateControl       = "submissions.update_control"
	opCreateControl       = "submissions.create_control"
	opLookupDocument      = "submissions.lookup_document"
	opListDocumentConfigs = "submissions.list_document_configs"
	opUpsertDocument      = "submissions.upsert_document_config"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

type IDProvider interface {
	NewID() (string, error)
}

// Service owns controls, submissions and craft document configuration.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// CreateRequest describes a new submission from a store.
type CreateRequest struct {
	StoreID        string
	ControlID      string
	SubmissionDate string
	SubmitterName  string
	SubmitterEmail string
	Notes          string
	FileURL        string
}

// Create validates the request, derives the period from the control and inserts
// the submission with review status submitted and sync status pending.
func (s *Service) Create(ctx context.Context, request CreateRequest) (Submission, error) {
	if s.db == nil {
		return Submission{}, newServiceError(opCreateSubmission, "missing_database", errMissingDatabase)
	}
	storeID, err := normalizeIdentifier(request.StoreID)
	if err != nil {
		return Submission{}, newServiceError(opCreateSubmission, "invalid_store_id", err)
	}
	controlID, err := normalizeIdentifier(request.ControlID)
	if err != nil {
		return Submission{}, newServiceError(opCreateSubmission, "invalid_control_id", err)
	}
	submitterName := strings.TrimSpace(request.SubmitterName)
	if submitterName == "" {
		return Submission{}, newServiceError(opCreateSubmission, "missing_submitter", ErrMissingSubmitter)
	}
	notes := strings.TrimSpace(request.Notes)
	fileURL := strings.TrimSpace(request.FileURL)
	if notes == "" && fileURL == "" {
		return Submission{}, newServiceError(opCreateSubmission, "missing_evidence", ErrMissingEvidence)
	}
	submissionDate, err := ParseSubmissionDate(request.SubmissionDate)
	if err != nil {
		return Submission{}, newServiceError(opCreateSubmission, "invalid_submission_date", err)
	}

	control, err := s.GetControl(ctx, controlID)
	if err != nil {
		return Submission{}, newServiceError(opCreateSubmission, "invalid_control", err)
	}
	periodKey, err := PeriodKey(submissionDate, control.PeriodType)
	if err != nil {
		return Submission{}, newServiceError(opCreateSubmission, "invalid_period_type", err)
	}

	submissionID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateSubmission, "id_generation_failed", err)
		return Submission{}, newServiceError(opCreateSubmission, "id_generation_failed", err)
	}

	submission := Submission{
		ID:              submissionID,
		StoreID:         storeID,
		ControlID:       control.ID,
		PeriodType:      control.PeriodType,
		PeriodKey:       periodKey,
		SubmissionDate:  submissionDate.Format(submissionDateLayout),
		SubmitterName:   submitterName,
		SubmitterEmail:  optionalString(request.SubmitterEmail),
		Notes:           notes,
		FileURL:         optionalString(fileURL),
		Status:          ReviewStatusSubmitted,
		CraftSyncStatus: SyncStatusPending,
		CreatedAt:       s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&submission).Error; err != nil {
		s.logError(opCreateSubmission, "insert_failed", err,
			zap.String("store_id", storeID),
			zap.String("control_id", control.ID))
		return Submission{}, newServiceError(opCreateSubmission, "insert_failed", err)
	}
	return submission, nil
}

// Filter narrows a submission listing. Empty fields do not filter.
type Filter struct {
	StoreID    string
	ControlID  string
	PeriodKey  string
	Status     ReviewStatus
	SyncStatus SyncStatus
}

// List returns submissions matching the filter, newest first.
func (s *Service) List(ctx context.Context, filter Filter) ([]Submission, error) {
	if s.db == nil {
		s.logError(opListSubmissions, "missing_database", errMissingDatabase)
		return nil, newServiceError(opListSubmissions, "missing_database", errMissingDatabase)
	}

	query := s.db.WithContext(ctx).Model(&Submission{})
	if value := strings.TrimSpace(filter.StoreID); value != "" {
		query = query.Where("store_id = ?", value)
	}
	if value := strings.TrimSpace(filter.ControlID); value != "" {
		query = query.Where("control_id = ?", value)
	}
	if value := strings.TrimSpace(filter.PeriodKey); value != "" {
		query = query.Where("period_key = ?", value)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.SyncStatus != "" {
		query = query.Where("craft_sync_status = ?", filter.SyncStatus)
	}

	var submissions []Submission
	if err := query.Order("created_at DESC").Order("id DESC").Find(&submissions).Error; err != nil {
		s.logError(opListSubmissions, "query_failed", err)
		return nil, newServiceError(opListSubmissions, "query_failed", err)
	}
	return submissions, nil
}

// Get loads a submission by identifier.
func (s *Service) Get(ctx context.Context, submissionID string) (Submission, error) {
	return s.get(ctx, submissionID, "")
}

// GetForStore loads a submission only when it belongs to the given store.
func (s *Service) GetForStore(ctx context.Context, submissionID, storeID string) (Submission, error) {
	if strings.TrimSpace(storeID) == "" {
		return Submission{}, newServiceError(opGetSubmission, "invalid_store_id", ErrInvalidIdentifier)
	}
	return s.get(ctx, submissionID, storeID)
}

func (s *Service) get(ctx context.Context, submissionID, storeID string) (Submission, error) {
	if s.db == nil {
		return Submission{}, newServiceError(opGetSubmission, "missing_database", errMissingDatabase)
	}
	id, err := normalizeIdentifier(submissionID)
	if err != nil {
		return Submission{}, newServiceError(opGetSubmission, "not_found", ErrSubmissionNotFound)
	}

	query := s.db.WithContext(ctx).Where("id = ?", id)
	if storeID != "" {
		query = query.Where("store_id = ?", strings.TrimSpace(storeID))
	}
	var submission Submission
	err = query.Take(&submission).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Submission{}, newServiceError(opGetSubmission, "not_found", ErrSubmissionNotFound)
	}
	if err != nil {
		s.logError(opGetSubmission, "query_failed", err, zap.String("submission_id", id))
		return Submission{}, newServiceError(opGetSubmission, "query_failed", err)
	}
	return submission, nil
}

// MarkReviewed moves a submission from submitted to reviewed. The transition never reverses.
func (s *Service) MarkReviewed(ctx context.Context, submissionID, reviewer string) (Submission, error) {
	if s.db == nil {
		return Submission{}, newServiceError(opMarkReviewed, "missing_database", errMissingDatabase)
	}
	reviewerLabel := strings.TrimSpace(reviewer)
	if reviewerLabel == "" {
		return Submission{}, newServiceError(opMarkReviewed, "missing_reviewer", ErrInvalidIdentifier)
	}

	var reviewed Submission
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Submission
		err := tx.Where("id = ?", strings.TrimSpace(submissionID)).Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opMarkReviewed, "not_found", ErrSubmissionNotFound)
		}
		if err != nil {
			s.logError(opMarkReviewed, "query_failed", err, zap.String("submission_id", submissionID))
			return newServiceError(opMarkReviewed, "query_failed", err)
		}
		if existing.Status == ReviewStatusReviewed {
			return newServiceError(opMarkReviewed, "already_reviewed", ErrAlreadyReviewed)
		}

		reviewedAt := s.clock().UTC()
		result := tx.Model(&Submission{}).
			Where("id = ? AND status = ?", existing.ID, ReviewStatusSubmitted).
			Updates(map[string]interface{}{
				"status":      ReviewStatusReviewed,
				"reviewed_by": reviewerLabel,
				"reviewed_at": reviewedAt,
			})
		if result.Error != nil {
			s.logError(opMarkReviewed, "update_failed", result.Error, zap.String("submission_id", existing.ID))
			return newServiceError(opMarkReviewed, "update_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return newServiceError(opMarkReviewed, "already_reviewed", ErrAlreadyReviewed)
		}

		existing.Status = ReviewStatusReviewed
		existing.ReviewedBy = &reviewerLabel
		existing.ReviewedAt = &reviewedAt
		reviewed = existing
		return nil
	})
	if txErr != nil {
		return Submission{}, txErr
	}
	return reviewed, nil
}

// UpdatePeriodKey lets an administrator relabel the period a submission belongs to.
func (s *Service) UpdatePeriodKey(ctx context.Context, submissionID, periodKey string) error {
	if s.db == nil {
		return newServiceError(opUpdatePeriodKey, "missing_database", errMissingDatabase)
	}
	key := strings.TrimSpace(periodKey)
	if key == "" {
		return newServiceError(opUpdatePeriodKey, "empty_period_key", ErrEmptyPeriodKey)
	}
	result := s.db.WithContext(ctx).Model(&Submission{}).
		Where("id = ?", strings.TrimSpace(submissionID)).
		Update("period_key", key)
	if result.Error != nil {
		s.logError(opUpdatePeriodKey, "update_failed", result.Error, zap.String("submission_id", submissionID))
		return newServiceError(opUpdatePeriodKey, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opUpdatePeriodKey, "not_found", ErrSubmissionNotFound)
	}
	return nil
}

// UpdateSyncState overwrites all craft sync columns of a submission at once.
func (s *Service) UpdateSyncState(ctx context.Context, submissionID string, state SyncState) error {
	if s.db == nil {
		return newServiceError(opUpdateSyncState, "missing_database", errMissingDatabase)
	}
	if !state.Valid() {
		return newServiceError(opUpdateSyncState, "invalid_state", fmt.Errorf("%w: status %q", ErrInvalidSyncState, state.Status))
	}
	result := s.db.WithContext(ctx).Model(&Submission{}).
		Where("id = ?", strings.TrimSpace(submissionID)).
		Updates(map[string]interface{}{
			"craft_sync_status": state.Status,
			"craft_sync_error":  state.Error,
			"craft_synced_at":   state.SyncedAt,
		})
	if result.Error != nil {
		s.logError(opUpdateSyncState, "update_failed", result.Error, zap.String("submission_id", submissionID))
		return newServiceError(opUpdateSyncState, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opUpdateSyncState, "not_found", ErrSubmissionNotFound)
	}
	return nil
}

// ListFailedSyncIDs returns the identifiers of submissions whose last sync failed,
// ordered by store, cadence, control and age so that retries sharing a craft
// section run back to back.
func (s *Service) ListFailedSyncIDs(ctx context.Context, storeID string) ([]string, error) {
	if s.db == nil {
		return nil, newServiceError(opListFailedSyncs, "missing_database", errMissingDatabase)
	}
	query := s.db.WithContext(ctx).Model(&Submission{}).
		Where("craft_sync_status = ?", SyncStatusFailed)
	if value := strings.TrimSpace(storeID); value != "" {
		query = query.Where("store_id = ?", value)
	}
	var ids []string
	if err := query.
		Order("store_id").Order("period_type").Order("control_id").Order("created_at").
		Pluck("id", &ids).Error; err != nil {
		s.logError(opListFailedSyncs, "query_failed", err)
		return nil, newServiceError(opListFailedSyncs, "query_failed", err)
	}
	return ids, nil
}

func optionalString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("submissions service error", attrs...)
}
