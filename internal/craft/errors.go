package craft

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidResponse marks a 2xx response whose body does not match the expected schema.
	ErrInvalidResponse = errors.New("craft: invalid response")
	// ErrRemoteStatus marks a non-2xx response from the Craft API.
	ErrRemoteStatus = errors.New("craft: unexpected status")
	// ErrMissingBlockID marks an insert that succeeded without returning the new block id.
	ErrMissingBlockID = errors.New("craft: insert returned no block id")
	// ErrNoDocumentConfigured marks a submission whose store and cadence map to no document.
	ErrNoDocumentConfigured = errors.New("no document configured for this store/period")
	// ErrInvalidPosition marks an insert position other than start or end.
	ErrInvalidPosition = errors.New("craft: invalid insert position")
)

// Step names a stage of a sync attempt. Failures carry the step they happened in.
type Step string

const (
	StepLookupConfig         Step = "lookup_document_config"
	StepFetchDocument        Step = "fetch_document"
	StepSearchControlSection Step = "search_control_section"
	StepSearchPortalSection  Step = "search_portal_section"
	StepCreatePortalSection  Step = "create_portal_section"
	StepCreateControlSection Step = "create_control_section"
	StepInsertContent        Step = "insert_content"
	StepLoadSubmission       Step = "load_submission"
	StepRecordState          Step = "record_sync_state"
)

// StepError wraps a failure with the sync step that produced it.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func stepError(step Step, err error) error {
	return &StepError{Step: step, Err: err}
}

// RemoteError describes a non-2xx response from the Craft API.
type RemoteError struct {
	Operation  string
	StatusCode int
	Code       string
	Message    string
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("craft %s: status=%d code=%s message=%s", e.Operation, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("craft %s: status=%d message=%s", e.Operation, e.StatusCode, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return ErrRemoteStatus
}
