package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/skye-vasquez/Craft/internal/audit"
	"github.com/skye-vasquez/Craft/internal/craft"
	"github.com/skye-vasquez/Craft/internal/craft/crafttest"
	"github.com/skye-vasquez/Craft/internal/stores"
	"github.com/skye-vasquez/Craft/internal/submissions"
)

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); err == nil {
		t.Fatalf("expected error for missing dependencies")
	}
}

func TestHealthReportsCraftMode(t *testing.T) {
	testCases := []struct {
		name     string
		live     bool
		expected string
	}{
		{name: "simulated", live: false, expected: "simulated"},
		{name: "live", live: true, expected: "live"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			portal := newTestPortal(t, portalOptions{live: testCase.live})
			recorder := portal.do(httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody), nil)
			if recorder.Code != http.StatusOK {
				t.Fatalf("unexpected status %d", recorder.Code)
			}
			var body map[string]string
			decodeBody(t, recorder, &body)
			if body["craft_mode"] != testCase.expected {
				t.Fatalf("expected craft mode %s, got %s", testCase.expected, body["craft_mode"])
			}
		})
	}
}

func TestStoreLoginIssuesSessionCookie(t *testing.T) {
	portal := newTestPortal(t, portalOptions{})

	recorder := portal.doJSON(t, http.MethodPost, "/api/auth/store-login", gin.H{"store_name": testStoreName, "pin": testStorePIN}, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", recorder.Code, recorder.Body.String())
	}
	cookie := sessionCookie(t, recorder)
	if !cookie.HttpOnly || cookie.Path != "/" || cookie.MaxAge != 7*24*60*60 {
		t.Fatalf("unexpected cookie attributes: %+v", cookie)
	}

	me := portal.doJSON(t, http.MethodGet, "/api/me", nil, cookie)
	var body struct {
		User *sessionUserPayload `json:"user"`
	}
	decodeBody(t, me, &body)
	if body.User == nil || body.User.Type != "store" || body.User.StoreID != portal.store.ID || body.User.StoreName != testStoreName {
		t.Fatalf("unexpected session user %+v", body.User)
	}
	if !containsString(portal.auditActions(t), audit.ActionStoreLoginSuccess) {
		t.Fatalf("expected login success to be audited")
	}
}

func TestStoreLoginFailures(t *testing.T) {
	portal := newTestPortal(t, portalOptions{})
	other, err := portal.stores.Create(context.Background(), "Eastside")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	testCases := []struct {
		name     string
		payload  gin.H
		status   int
		expected string
	}{
		{name: "wrong pin", payload: gin.H{"store_name": testStoreName, "pin": "654321"}, status: http.StatusUnauthorized, expected: "invalid_credentials"},
		{name: "unknown store", payload: gin.H{"store_name": "Nowhere", "pin": "654321"}, status: http.StatusUnauthorized, expected: "invalid_credentials"},
		{name: "no pin configured", payload: gin.H{"store_name": other.Name, "pin": "111111"}, status: http.StatusUnauthorized, expected: "store_auth_not_configured"},
		{name: "short pin", payload: gin.H{"store_name": testStoreName, "pin": "123"}, status: http.StatusBadRequest, expected: "invalid_request"},
		{name: "letters in pin", payload: gin.H{"store_name": testStoreName, "pin": "12345a"}, status: http.StatusBadRequest, expected: "invalid_request"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			recorder := portal.doJSON(t, http.MethodPost, "/api/auth/store-login", testCase.payload, nil)
			if recorder.Code != testCase.status {
				t.Fatalf("expected status %d, got %d: %s", testCase.status, recorder.Code, recorder.Body.String())
			}
			if !strings.Contains(recorder.Body.String(), testCase.expected) {
				t.Fatalf("expected %q in body %s", testCase.expected, recorder.Body.String())
			}
		})
	}
	if !containsString(portal.auditActions(t), audit.ActionStoreLoginFailed) {
		t.Fatalf("expected failed login to be audited")
	}
}

func TestStoreLoginIsRateLimited(t *testing.T) {
	portal := newTestPortal(t, portalOptions{})
	payload := gin.H{"store_name": testStoreName, "pin": "000000"}

	for attempt := 1; attempt <= 5; attempt++ {
		recorder := portal.doJSON(t, http.MethodPost, "/api/auth/store-login", payload, nil)
		if recorder.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", attempt, recorder.Code)
		}
	}

	recorder := portal.doJSON(t, http.MethodPost, "/api/auth/store-login", gin.H{"store_name": testStoreName, "pin": testStorePIN}, nil)
	if recorder.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after five failures, got %d", recorder.Code)
	}
	if recorder.Header().Get("Retry-After") != "900" {
		t.Fatalf("expected Retry-After of fifteen minutes, got %q", recorder.Header().Get("Retry-After"))
	}
	if !containsString(portal.auditActions(t), audit.ActionStoreLoginRateLimited) {
		t.Fatalf("expected rate limited login to be audited")
	}
}

func TestAdminLogin(t *testing.T) {
	portal := newTestPortal(t, portalOptions{})

	testCases := []struct {
		name    string
		payload gin.H
		status  int
	}{
		{name: "not allowed", payload: gin.H{"email": "intruder@example.com", "password": testAdminPassword}, status: http.StatusUnauthorized},
		{name: "wrong password", payload: gin.H{"email": testAdminEmail, "password": "nope"}, status: http.StatusUnauthorized},
		{name: "invalid email", payload: gin.H{"email": "admin", "password": testAdminPassword}, status: http.StatusBadRequest},
		{name: "mixed case email", payload: gin.H{"email": "Admin@Example.com", "password": testAdminPassword}, status: http.StatusOK},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			recorder := portal.doJSON(t, http.MethodPost, "/api/auth/admin-login", testCase.payload, nil)
			if recorder.Code != testCase.status {
				t.Fatalf("expected status %d, got %d: %s", testCase.status, recorder.Code, recorder.Body.String())
			}
		})
	}
}

func TestLogoutClearsCookie(t *testing.T) {
	portal := newTestPortal(t, portalOptions{})
	cookie := portal.loginAdmin(t)

	recorder := portal.doJSON(t, http.MethodPost, "/api/auth/logout", nil, cookie)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", recorder.Code)
	}
	cleared := false
	for _, candidate := range recorder.Result().Cookies() {
		if candidate.Name == cookie.Name && candidate.Value == "" && candidate.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatalf("expected session cookie to be cleared, got %v", recorder.Result().Cookies())
	}
	if !containsString(portal.auditActions(t), audit.ActionLogout) {
		t.Fatalf("expected logout to be audited")
	}
}

func TestSessionKindsAreEnforced(t *testing.T) {
	portal := newTestPortal(t, portalOptions{})
	storeCookie := portal.loginStore(t)
	adminCookie := portal.loginAdmin(t)

	if recorder := portal.doJSON(t, http.MethodGet, "/api/submissions", nil, nil); recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without session, got %d", recorder.Code)
	}
	if recorder := portal.doJSON(t, http.MethodGet, "/api/admin/controls", nil, storeCookie); recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for store session on admin route, got %d", recorder.Code)
	}
	request := newSubmissionRequest(t, submissionFields("C1", "notes"), nil)
	if recorder := portal.do(request, adminCookie); recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for admin session creating submissions, got %d", recorder.Code)
	}
	tampered := *storeCookie
	tampered.Value += "x"
	if recorder := portal.doJSON(t, http.MethodGet, "/api/submissions", nil, &tampered); recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for tampered session, got %d", recorder.Code)
	}
}

func TestPublicListings(t *testing.T) {
	portal := newTestPortal(t, portalOptions{})

	recorder := portal.doJSON(t, http.MethodGet, "/api/stores", nil, nil)
	var storesBody struct {
		Stores []storePayload `json:"stores"`
	}
	decodeBody(t, recorder, &storesBody)
	if len(storesBody.Stores) != 1 || storesBody.Stores[0].Name != testStoreName {
		t.Fatalf("unexpected stores %+v", storesBody.Stores)
	}

	recorder = portal.doJSON(t, http.MethodGet, "/api/controls", nil, nil)
	var controlsBody struct {
		Controls []controlPayload `json:"controls"`
	}
	decodeBody(t, recorder, &controlsBody)
	if len(controlsBody.Controls) != 2 || controlsBody.Controls[0].ID != "C1" {
		t.Fatalf("unexpected controls %+v", controlsBody.Controls)
	}
}

func TestCreateSubmissionSyncsIntoCraft(t *testing.T) {
	portal := newTestPortal(t, portalOptions{live: true})
	cookie := portal.loginStore(t)

	submission := portal.createSubmission(t, cookie, "C1", "Fridge at 3C")
	if submission.CraftSyncStatus != string(submissions.SyncStatusSuccess) || submission.CraftSyncError != nil || submission.CraftSyncedAt == nil {
		t.Fatalf("unexpected sync state %+v", submission)
	}
	if submission.PeriodKey != "2024-W10" || submission.PeriodType != "weekly" || submission.Status != "submitted" {
		t.Fatalf("unexpected submission %+v", submission)
	}

	sections := portal.craft.FindAll("doc-weekly", "### C1")
	if len(sections) != 1 {
		t.Fatalf("expected one control section, got %d", len(sections))
	}
	entries := portal.craft.Children(sections[0])
	if len(entries) != 1 {
		t.Fatalf("expected one entry under the control section, got %d", len(entries))
	}

	recorder := portal.doJSON(t, http.MethodGet, "/api/submissions", nil, cookie)
	var listBody struct {
		Submissions []submissionPayload `json:"submissions"`
	}
	decodeBody(t, recorder, &listBody)
	if len(listBody.Submissions) != 1 || listBody.Submissions[0].ID != submission.ID {
		t.Fatalf("unexpected listing %+v", listBody.Submissions)
	}
	if !containsString(portal.auditActions(t), audit.ActionSubmissionCreated) {
		t.Fatalf("expected submission creation to be audited")
	}
}

func TestCreateSubmissionRecordsSyncFailure(t *testing.T) {
	portal := newTestPortal(t, portalOptions{})
	cookie := portal.loginStore(t)

	submission := portal.createSubmission(t, cookie, "C2", "Extinguisher tagged")
	if submission.CraftSyncStatus != string(submissions.SyncStatusFailed) {
		t.Fatalf("expected failed sync without monthly document, got %s", submission.CraftSyncStatus)
	}
	if submission.CraftSyncError == nil || *submission.CraftSyncError != craft.ErrNoDocumentConfigured.Error() {
		t.Fatalf("unexpected sync error %v", submission.CraftSyncError)
	}

	stored, err := portal.submissions.Get(context.Background(), submission.ID)
	if err != nil {
		t.Fatalf("failed to load submission: %v", err)
	}
	if stored.CraftSyncStatus != submissions.SyncStatusFailed || !stored.SyncState().Valid() {
		t.Fatalf("expected persisted failure, got %+v", stored.SyncState())
	}
}

func TestCreateSubmissionValidation(t *testing.T) {
	portal := newTestPortal(t, portalOptions{})
	cookie := portal.loginStore(t)

	testCases := []struct {
		name     string
		mutate   func(map[string]string)
		status   int
		expected string
	}{
		{name: "missing evidence", mutate: func(fields map[string]string) { fields["notes"] = "  " }, status: http.StatusBadRequest, expected: "missing_evidence"},
		{name: "invalid email", mutate: func(fields map[string]string) { fields["submitter_email"] = "not-an-email" }, status: http.StatusBadRequest, expected: "invalid_request"},
		{name: "missing name", mutate: func(fields map[string]string) { delete(fields, "submitter_name") }, status: http.StatusBadRequest, expected: "invalid_request"},
		{name: "unknown control", mutate: func(fields map[string]string) { fields["control_id"] = "C9" }, status: http.StatusBadRequest, expected: "control not found"},
		{name: "bad date", mutate: func(fields map[string]string) { fields["submission_date"] = "03/05/2024" }, status: http.StatusBadRequest, expected: "invalid_submission_date"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			fields := submissionFields("C1", "notes")
			testCase.mutate(fields)
			recorder := portal.do(newSubmissionRequest(t, fields, nil), cookie)
			if recorder.Code != testCase.status {
				t.Fatalf("expected status %d, got %d: %s", testCase.status, recorder.Code, recorder.Body.String())
			}
			if !strings.Contains(recorder.Body.String(), testCase.expected) {
				t.Fatalf("expected %q in body %s", testCase.expected, recorder.Body.String())
			}
		})
	}
}

func TestCreateSubmissionWithFile(t *testing.T) {
	t.Run("storage unavailable", func(t *testing.T) {
		portal := newTestPortal(t, portalOptions{})
		cookie := portal.loginStore(t)
		request := newSubmissionRequest(t, submissionFields("C1", ""), &multipartFile{name: "log.txt", contentType: "text/plain", content: "3C"})
		recorder := portal.do(request, cookie)
		if recorder.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503 without storage, got %d: %s", recorder.Code, recorder.Body.String())
		}
	})

	t.Run("uploaded", func(t *testing.T) {
		uploader := &stubUploader{}
		portal := newTestPortal(t, portalOptions{uploader: uploader})
		cookie := portal.loginStore(t)
		request := newSubmissionRequest(t, submissionFields("C1", ""), &multipartFile{name: "log.txt", contentType: "text/plain", content: "3C"})
		recorder := portal.do(request, cookie)
		if recorder.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
		}
		var envelope submissionEnvelope
		decodeBody(t, recorder, &envelope)
		if envelope.Submission.FileURL == nil || !strings.HasSuffix(*envelope.Submission.FileURL, "/log.txt") {
			t.Fatalf("expected file url, got %v", envelope.Submission.FileURL)
		}
		if uploader.storeID != portal.store.ID || uploader.content != "3C" || uploader.file.ContentType != "text/plain" {
			t.Fatalf("unexpected upload %+v", uploader)
		}
	})
}

func TestSubmissionVisibility(t *testing.T) {
	portal := newTestPortal(t, portalOptions{})
	cookie := portal.loginStore(t)
	submission := portal.createSubmission(t, cookie, "C1", "Fridge at 3C")

	ctx := context.Background()
	other, err := portal.stores.Create(ctx, "Eastside")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if _, err := portal.stores.SetPIN(ctx, other.ID, "222222"); err != nil {
		t.Fatalf("failed to set pin: %v", err)
	}
	login := portal.doJSON(t, http.MethodPost, "/api/auth/store-login", gin.H{"store_name": "Eastside", "pin": "222222"}, nil)
	otherCookie := sessionCookie(t, login)

	if recorder := portal.doJSON(t, http.MethodGet, "/api/submissions/"+submission.ID, nil, otherCookie); recorder.Code != http.StatusNotFound {
		t.Fatalf("expected other store to get 404, got %d", recorder.Code)
	}
	recorder := portal.doJSON(t, http.MethodGet, "/api/submissions?store_id="+portal.store.ID, nil, otherCookie)
	var listBody struct {
		Submissions []submissionPayload `json:"submissions"`
	}
	decodeBody(t, recorder, &listBody)
	if len(listBody.Submissions) != 0 {
		t.Fatalf("expected store listing to ignore store_id filter, got %d", len(listBody.Submissions))
	}

	adminCookie := portal.loginAdmin(t)
	recorder = portal.doJSON(t, http.MethodGet, "/api/submissions/"+submission.ID, nil, adminCookie)
	var envelope submissionEnvelope
	decodeBody(t, recorder, &envelope)
	if envelope.Submission.ID != submission.ID || len(envelope.AuditLogs) == 0 {
		t.Fatalf("expected admin view with audit logs, got %+v", envelope)
	}

	if recorder := portal.doJSON(t, http.MethodGet, "/api/submissions?status=bogus", nil, adminCookie); recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected invalid status filter to be rejected, got %d", recorder.Code)
	}
}

func TestReviewSubmissionOnce(t *testing.T) {
	portal := newTestPortal(t, portalOptions{})
	submission := portal.createSubmission(t, portal.loginStore(t), "C1", "Fridge at 3C")
	adminCookie := portal.loginAdmin(t)

	recorder := portal.doJSON(t, http.MethodPatch, "/api/submissions/"+submission.ID+"/review", nil, adminCookie)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", recorder.Code, recorder.Body.String())
	}
	var envelope submissionEnvelope
	decodeBody(t, recorder, &envelope)
	if envelope.Submission.Status != "reviewed" || envelope.Submission.ReviewedBy == nil || *envelope.Submission.ReviewedBy != testAdminEmail {
		t.Fatalf("unexpected review %+v", envelope.Submission)
	}

	recorder = portal.doJSON(t, http.MethodPatch, "/api/submissions/"+submission.ID+"/review", nil, adminCookie)
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409 on second review, got %d", recorder.Code)
	}
	recorder = portal.doJSON(t, http.MethodPatch, "/api/submissions/missing/review", nil, adminCookie)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown submission, got %d", recorder.Code)
	}
}

func TestUpdatePeriodKey(t *testing.T) {
	portal := newTestPortal(t, portalOptions{})
	submission := portal.createSubmission(t, portal.loginStore(t), "C1", "Fridge at 3C")
	adminCookie := portal.loginAdmin(t)

	if recorder := portal.doJSON(t, http.MethodPatch, "/api/submissions/"+submission.ID, gin.H{"period_key": " "}, adminCookie); recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank period key, got %d", recorder.Code)
	}
	recorder := portal.doJSON(t, http.MethodPatch, "/api/submissions/"+submission.ID, gin.H{"period_key": "2024-W11"}, adminCookie)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", recorder.Code, recorder.Body.String())
	}
	stored, err := portal.submissions.Get(context.Background(), submission.ID)
	if err != nil {
		t.Fatalf("failed to load submission: %v", err)
	}
	if stored.PeriodKey != "2024-W11" {
		t.Fatalf("expected updated period key, got %s", stored.PeriodKey)
	}
	entries, err := portal.audit.ListForSubmission(context.Background(), submission.ID)
	if err != nil {
		t.Fatalf("failed to list audit entries: %v", err)
	}
	if entries[0].Action != audit.ActionSubmissionPeriodUpdated || entries[0].Metadata["old_period_key"] != "2024-W10" {
		t.Fatalf("unexpected audit entry %+v", entries[0])
	}
}

func TestRetrySyncRecoversAfterConfiguration(t *testing.T) {
	portal := newTestPortal(t, portalOptions{live: true})
	submission := portal.createSubmission(t, portal.loginStore(t), "C2", "Extinguisher tagged")
	adminCookie := portal.loginAdmin(t)

	recorder := portal.doJSON(t, http.MethodPost, "/api/submissions/"+submission.ID+"/retry-sync", nil, adminCookie)
	if recorder.Code != http.StatusInternalServerError || !strings.Contains(recorder.Body.String(), craft.ErrNoDocumentConfigured.Error()) {
		t.Fatalf("expected stored failure reason, got %d %s", recorder.Code, recorder.Body.String())
	}

	recorder = portal.doJSON(t, http.MethodPost, "/api/admin/craft-config", gin.H{
		"store_id":     portal.store.ID,
		"period_type":  "monthly",
		"craft_doc_id": "doc-monthly",
	}, adminCookie)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected config status %d: %s", recorder.Code, recorder.Body.String())
	}

	recorder = portal.doJSON(t, http.MethodPost, "/api/submissions/"+submission.ID+"/retry-sync", nil, adminCookie)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected retry to succeed, got %d %s", recorder.Code, recorder.Body.String())
	}
	if len(portal.craft.FindAll("doc-monthly", "### C2")) != 1 {
		t.Fatalf("expected control section in monthly document")
	}

	recorder = portal.doJSON(t, http.MethodGet, "/api/submissions/"+submission.ID, nil, adminCookie)
	var envelope submissionEnvelope
	decodeBody(t, recorder, &envelope)
	if envelope.Submission.CraftSyncStatus != "success" || envelope.Submission.CraftSyncError != nil {
		t.Fatalf("expected success after retry, got %+v", envelope.Submission)
	}
	retries := 0
	for _, entry := range envelope.AuditLogs {
		if entry.Action == audit.ActionCraftSyncRetry {
			retries++
		}
	}
	if retries != 2 {
		t.Fatalf("expected two audited retries, got %d", retries)
	}
}

func TestRetrySyncReportsRemoteFailure(t *testing.T) {
	portal := newTestPortal(t, portalOptions{live: true})
	submission := portal.createSubmission(t, portal.loginStore(t), "C1", "Fridge at 3C")
	adminCookie := portal.loginAdmin(t)

	portal.craft.FailWith(crafttest.OperationFetch, http.StatusBadGateway)
	recorder := portal.doJSON(t, http.MethodPost, "/api/submissions/"+submission.ID+"/retry-sync", nil, adminCookie)
	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), string(craft.StepFetchDocument)+" failed") {
		t.Fatalf("expected failing step in error, got %s", recorder.Body.String())
	}

	if recorder := portal.doJSON(t, http.MethodPost, "/api/submissions/unknown/retry-sync", nil, adminCookie); recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown submission, got %d", recorder.Code)
	}
}

func TestRetryFailedRetriesEveryFailure(t *testing.T) {
	portal := newTestPortal(t, portalOptions{})
	storeCookie := portal.loginStore(t)
	first := portal.createSubmission(t, storeCookie, "C2", "first")
	second := portal.createSubmission(t, storeCookie, "C2", "second")
	portal.createSubmission(t, storeCookie, "C1", "already synced")

	if _, err := portal.submissions.UpsertDocumentConfig(context.Background(), portal.store.ID, submissions.PeriodTypeMonthly, "doc-monthly"); err != nil {
		t.Fatalf("failed to configure document: %v", err)
	}

	recorder := portal.doJSON(t, http.MethodPost, "/api/admin/retry-failed", nil, portal.loginAdmin(t))
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", recorder.Code, recorder.Body.String())
	}
	var body struct {
		Results   []retryOutcomePayload `json:"results"`
		Attempted int                   `json:"attempted"`
		Succeeded int                   `json:"succeeded"`
	}
	decodeBody(t, recorder, &body)
	if body.Attempted != 2 || body.Succeeded != 2 {
		t.Fatalf("unexpected bulk retry outcome %+v", body)
	}
	retried := []string{body.Results[0].SubmissionID, body.Results[1].SubmissionID}
	if !containsString(retried, first.ID) || !containsString(retried, second.ID) {
		t.Fatalf("expected both failed submissions to be retried, got %+v", body.Results)
	}
	remaining, err := portal.submissions.ListFailedSyncIDs(context.Background(), "")
	if err != nil {
		t.Fatalf("failed to list failed syncs: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected no failed syncs, got %v", remaining)
	}
}

func TestAdminControls(t *testing.T) {
	portal := newTestPortal(t, portalOptions{})
	adminCookie := portal.loginAdmin(t)

	recorder := portal.doJSON(t, http.MethodPatch, "/api/admin/controls", gin.H{"id": "C2", "is_active": false}, adminCookie)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", recorder.Code, recorder.Body.String())
	}
	if recorder := portal.doJSON(t, http.MethodPatch, "/api/admin/controls", gin.H{"id": "C2"}, adminCookie); recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without updates, got %d", recorder.Code)
	}
	if recorder := portal.doJSON(t, http.MethodPatch, "/api/admin/controls", gin.H{"id": "C9", "display_order": 3}, adminCookie); recorder.Code != http.StatusNotFound && recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected unknown control to be rejected, got %d", recorder.Code)
	}

	var active struct {
		Controls []controlPayload `json:"controls"`
	}
	decodeBody(t, portal.doJSON(t, http.MethodGet, "/api/controls", nil, nil), &active)
	if len(active.Controls) != 1 || active.Controls[0].ID != "C1" {
		t.Fatalf("expected inactive control hidden, got %+v", active.Controls)
	}
	var all struct {
		Controls []controlPayload `json:"controls"`
	}
	decodeBody(t, portal.doJSON(t, http.MethodGet, "/api/admin/controls", nil, adminCookie), &all)
	if len(all.Controls) != 2 {
		t.Fatalf("expected admin listing to include inactive controls, got %d", len(all.Controls))
	}
}

func TestCraftConfigEndpoints(t *testing.T) {
	portal := newTestPortal(t, portalOptions{})
	adminCookie := portal.loginAdmin(t)

	testCases := []struct {
		name    string
		payload gin.H
		status  int
	}{
		{name: "unknown store", payload: gin.H{"store_id": "missing", "period_type": "weekly", "craft_doc_id": "doc"}, status: http.StatusNotFound},
		{name: "bad period", payload: gin.H{"store_id": portal.store.ID, "period_type": "daily", "craft_doc_id": "doc"}, status: http.StatusBadRequest},
		{name: "missing doc", payload: gin.H{"store_id": portal.store.ID, "period_type": "weekly"}, status: http.StatusBadRequest},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			recorder := portal.doJSON(t, http.MethodPost, "/api/admin/craft-config", testCase.payload, adminCookie)
			if recorder.Code != testCase.status {
				t.Fatalf("expected %d, got %d: %s", testCase.status, recorder.Code, recorder.Body.String())
			}
		})
	}

	recorder := portal.doJSON(t, http.MethodPost, "/api/admin/craft-config", gin.H{
		"store_id": portal.store.ID, "period_type": "weekly", "craft_doc_id": "doc-weekly-2",
	}, adminCookie)
	var upsert struct {
		PreviousDocID string `json:"previous_doc_id"`
	}
	decodeBody(t, recorder, &upsert)
	if upsert.PreviousDocID != "doc-weekly" {
		t.Fatalf("expected previous doc id, got %q", upsert.PreviousDocID)
	}

	var listing struct {
		Configs   []documentConfigPayload `json:"configs"`
		Simulated bool                    `json:"simulated"`
	}
	decodeBody(t, portal.doJSON(t, http.MethodGet, "/api/admin/craft-config", nil, adminCookie), &listing)
	if len(listing.Configs) != 1 || listing.Configs[0].CraftDocID != "doc-weekly-2" || !listing.Simulated {
		t.Fatalf("unexpected config listing %+v", listing)
	}
}

func TestSetStorePIN(t *testing.T) {
	portal := newTestPortal(t, portalOptions{})
	adminCookie := portal.loginAdmin(t)

	if recorder := portal.doJSON(t, http.MethodPost, "/api/admin/store-pin", gin.H{"store_id": portal.store.ID, "pin": "12"}, adminCookie); recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for short pin, got %d", recorder.Code)
	}
	if recorder := portal.doJSON(t, http.MethodPost, "/api/admin/store-pin", gin.H{"store_id": "missing", "pin": "999999"}, adminCookie); recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown store, got %d", recorder.Code)
	}
	if recorder := portal.doJSON(t, http.MethodPost, "/api/admin/store-pin", gin.H{"store_id": portal.store.ID, "pin": "999999"}, adminCookie); recorder.Code != http.StatusOK {
		t.Fatalf("expected pin update, got %d", recorder.Code)
	}

	if _, err := portal.stores.Authenticate(context.Background(), testStoreName, "999999"); err != nil {
		t.Fatalf("expected new pin to authenticate: %v", err)
	}
	if _, err := portal.stores.Authenticate(context.Background(), testStoreName, testStorePIN); !errors.Is(err, stores.ErrInvalidCredentials) {
		t.Fatalf("expected old pin to be rejected, got %v", err)
	}
}

func TestListAuditEntries(t *testing.T) {
	portal := newTestPortal(t, portalOptions{})
	adminCookie := portal.loginAdmin(t)

	var body struct {
		Entries []auditEntryPayload `json:"entries"`
	}
	decodeBody(t, portal.doJSON(t, http.MethodGet, "/api/admin/audit?limit=1", nil, adminCookie), &body)
	if len(body.Entries) != 1 || body.Entries[0].Action != audit.ActionAdminLoginSuccess {
		t.Fatalf("unexpected audit listing %+v", body.Entries)
	}
}
