package craft

import (
	"context"
	"errors"
	"time"

	"github.com/skye-vasquez/Craft/internal/submissions"
	"go.uber.org/zap"
)

const defaultSimulatedDelay = 300 * time.Millisecond

var (
	errMissingSubmissionStore = errors.New("craft: submission store required")
	errMissingDocumentStore   = errors.New("craft: document config store required")
)

// SubmissionStore loads submissions and records their sync state.
type SubmissionStore interface {
	Get(ctx context.Context, submissionID string) (submissions.Submission, error)
	UpdateSyncState(ctx context.Context, submissionID string, state submissions.SyncState) error
}

// DocumentConfigStore maps a store and cadence to a Craft document id.
type DocumentConfigStore interface {
	LookupDocument(ctx context.Context, storeID string, periodType submissions.PeriodType) (string, bool, error)
}

// SyncerConfig wires the sync orchestrator. A nil API selects simulated sync,
// which only exists for deployments without a Craft base URL.
type SyncerConfig struct {
	Submissions    SubmissionStore
	Documents      DocumentConfigStore
	API            BlockAPI
	Formatter      Formatter
	Clock          func() time.Time
	SimulatedDelay time.Duration
	Logger         *zap.Logger
}

// Syncer runs sync attempts for submissions and records their outcome.
type Syncer struct {
	submissions    SubmissionStore
	documents      DocumentConfigStore
	api            BlockAPI
	resolver       *SectionResolver
	formatter      Formatter
	clock          func() time.Time
	simulatedDelay time.Duration
	logger         *zap.Logger
}

// Result is the outcome of one sync attempt. Err is nil only on success.
type Result struct {
	SubmissionID string
	State        submissions.SyncState
	Simulated    bool
	Err          error
}

// Success reports whether the attempt mirrored the submission and recorded it.
func (r Result) Success() bool {
	return r.Err == nil && r.State.Status == submissions.SyncStatusSuccess
}

// ErrorMessage returns the failure reason shown to users, or "" on success.
func (r Result) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// NewSyncer constructs the orchestrator.
func NewSyncer(cfg SyncerConfig) (*Syncer, error) {
	if cfg.Submissions == nil {
		return nil, errMissingSubmissionStore
	}
	if cfg.Documents == nil {
		return nil, errMissingDocumentStore
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	delay := cfg.SimulatedDelay
	if delay <= 0 {
		delay = defaultSimulatedDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	syncer := &Syncer{
		submissions:    cfg.Submissions,
		documents:      cfg.Documents,
		api:            cfg.API,
		formatter:      cfg.Formatter,
		clock:          clock,
		simulatedDelay: delay,
		logger:         logger,
	}
	if cfg.API != nil {
		syncer.resolver = NewSectionResolver(cfg.API)
	}
	return syncer, nil
}

// Simulated reports whether sync attempts skip the Craft API.
func (s *Syncer) Simulated() bool {
	return s.api == nil
}

// RetrySync reloads the submission and runs a full sync attempt for it. Initial
// syncs after creation and manual retries both end up in SyncSubmission.
func (s *Syncer) RetrySync(ctx context.Context, submissionID string) Result {
	submission, err := s.submissions.Get(ctx, submissionID)
	if err != nil {
		cause := err
		if errors.Is(err, submissions.ErrSubmissionNotFound) {
			cause = submissions.ErrSubmissionNotFound
		}
		failure := stepError(StepLoadSubmission, cause)
		s.logger.Warn("craft sync skipped",
			zap.String("submission_id", submissionID),
			zap.Error(failure))
		return Result{
			SubmissionID: submissionID,
			State:        submissions.FailedSyncState(failure.Error()),
			Err:          failure,
		}
	}
	return s.SyncSubmission(ctx, submission)
}

// SyncSubmission mirrors the submission into its configured Craft document and
// overwrites the submission's sync state with the outcome.
func (s *Syncer) SyncSubmission(ctx context.Context, submission submissions.Submission) Result {
	docID, found, err := s.documents.LookupDocument(ctx, submission.StoreID, submission.PeriodType)
	if err != nil {
		return s.fail(ctx, submission, "", stepError(StepLookupConfig, err))
	}
	if !found {
		return s.fail(ctx, submission, "", ErrNoDocumentConfigured)
	}

	content := s.formatter.Format(submission)

	if s.api == nil {
		if err := sleepContext(ctx, s.simulatedDelay); err != nil {
			return s.fail(ctx, submission, docID, err)
		}
		s.logger.Info("craft api not configured, simulated sync",
			zap.String("submission_id", submission.ID),
			zap.String("doc_id", docID))
		result := s.succeed(ctx, submission, docID)
		result.Simulated = true
		return result
	}

	document, err := s.api.FetchDocument(ctx, docID)
	if err != nil {
		return s.fail(ctx, submission, docID, stepError(StepFetchDocument, err))
	}
	if document.ID == "" {
		document.ID = docID
	}
	targetID, err := s.resolver.ResolveIn(ctx, document, submission.ControlID)
	if err != nil {
		return s.fail(ctx, submission, docID, err)
	}
	if _, err := s.api.Insert(ctx, targetID, content, PositionEnd); err != nil {
		return s.fail(ctx, submission, docID, stepError(StepInsertContent, err))
	}
	return s.succeed(ctx, submission, docID)
}

func (s *Syncer) succeed(ctx context.Context, submission submissions.Submission, docID string) Result {
	state := submissions.SucceededSyncState(s.clock())
	if err := s.submissions.UpdateSyncState(context.WithoutCancel(ctx), submission.ID, state); err != nil {
		return s.recordFailed(submission, docID, state, err)
	}
	s.logger.Info("craft sync succeeded",
		zap.String("submission_id", submission.ID),
		zap.String("doc_id", docID),
		zap.String("control_id", submission.ControlID))
	return Result{SubmissionID: submission.ID, State: state}
}

func (s *Syncer) fail(ctx context.Context, submission submissions.Submission, docID string, cause error) Result {
	state := submissions.FailedSyncState(cause.Error())
	fields := []zap.Field{
		zap.String("submission_id", submission.ID),
		zap.String("doc_id", docID),
		zap.String("control_id", submission.ControlID),
		zap.Error(cause),
	}
	var stepErr *StepError
	if errors.As(cause, &stepErr) {
		fields = append(fields, zap.String("step", string(stepErr.Step)))
	}
	s.logger.Warn("craft sync failed", fields...)

	// The outcome is recorded even when the caller has gone away mid-attempt.
	if err := s.submissions.UpdateSyncState(context.WithoutCancel(ctx), submission.ID, state); err != nil {
		return s.recordFailed(submission, docID, state, err)
	}
	return Result{SubmissionID: submission.ID, State: state, Err: cause}
}

func (s *Syncer) recordFailed(submission submissions.Submission, docID string, state submissions.SyncState, err error) Result {
	failure := stepError(StepRecordState, err)
	s.logger.Error("craft sync state not recorded",
		zap.String("submission_id", submission.ID),
		zap.String("doc_id", docID),
		zap.String("intended_status", string(state.Status)),
		zap.Error(err))
	return Result{SubmissionID: submission.ID, State: state, Err: failure}
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
