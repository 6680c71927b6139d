// Package audit records who did what to submissions, stores and configuration.
package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultListLimit = 100

// LoggerConfig describes the dependencies of the audit log.
type LoggerConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Logger appends audit entries. Recording never fails the audited operation;
// write errors are reported through the structured logger instead.
type Logger struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewLogger constructs the audit log.
func NewLogger(cfg LoggerConfig) (*Logger, error) {
	if cfg.Database == nil {
		return nil, errors.New("audit: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Record appends an entry. The submission_id metadata key, when present, also
// fills the indexed submission column.
func (l *Logger) Record(ctx context.Context, actorType ActorType, actorLabel, action string, metadata map[string]any) {
	if l == nil {
		return
	}
	entry := Entry{
		ActorType:  actorType,
		ActorLabel: strings.TrimSpace(actorLabel),
		Action:     action,
		Metadata:   metadata,
		CreatedAt:  l.clock().UTC(),
	}
	if entry.Metadata == nil {
		entry.Metadata = map[string]any{}
	}
	if submissionID, ok := entry.Metadata["submission_id"].(string); ok && submissionID != "" {
		entry.SubmissionID = &submissionID
	}
	if err := l.db.WithContext(context.WithoutCancel(ctx)).Create(&entry).Error; err != nil {
		l.logger.Error("audit entry not recorded",
			zap.String("action", action),
			zap.String("actor_type", string(actorType)),
			zap.Error(err))
	}
}

// ListForSubmission returns the entries that reference a submission, newest first.
func (l *Logger) ListForSubmission(ctx context.Context, submissionID string) ([]Entry, error) {
	var entries []Entry
	err := l.db.WithContext(ctx).
		Where("submission_id = ?", strings.TrimSpace(submissionID)).
		Order("created_at DESC").Order("id DESC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// ListRecent returns the newest entries across the portal.
func (l *Logger) ListRecent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}
	var entries []Entry
	err := l.db.WithContext(ctx).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
