package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/skye-vasquez/Craft/internal/audit"
	"github.com/skye-vasquez/Craft/internal/auth"
	"github.com/skye-vasquez/Craft/internal/craft"
	"github.com/skye-vasquez/Craft/internal/craft/crafttest"
	"github.com/skye-vasquez/Craft/internal/database"
	"github.com/skye-vasquez/Craft/internal/evidence"
	"github.com/skye-vasquez/Craft/internal/ratelimit"
	"github.com/skye-vasquez/Craft/internal/stores"
	"github.com/skye-vasquez/Craft/internal/submissions"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	testStoreName     = "Westside"
	testStorePIN      = "123456"
	testAdminEmail    = "admin@example.com"
	testAdminPassword = "correct-horse"
	testSigningSecret = "portal-test-secret"
)

var portalDatabaseCounter atomic.Int64

type portalOptions struct {
	live     bool
	uploader evidence.Uploader
}

type testPortal struct {
	handler     http.Handler
	stores      *stores.Service
	submissions *submissions.Service
	audit       *audit.Logger
	events      *SyncEventDispatcher
	craft       *crafttest.Server
	store       stores.Store
	now         time.Time
}

func newTestPortal(t *testing.T, options portalOptions) *testPortal {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:portal_%d?mode=memory&cache=shared", portalDatabaseCounter.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.Migrate(db, zap.NewNop()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	now := time.Date(2024, time.March, 5, 14, 30, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	storeService, err := stores.NewService(stores.ServiceConfig{Database: db, Clock: clock, HashCost: bcrypt.MinCost})
	if err != nil {
		t.Fatalf("failed to create store service: %v", err)
	}
	submissionService, err := submissions.NewService(submissions.ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: submissions.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to create submission service: %v", err)
	}
	auditLog, err := audit.NewLogger(audit.LoggerConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to create audit logger: %v", err)
	}

	ctx := context.Background()
	store, err := storeService.Create(ctx, testStoreName)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if _, err := storeService.SetPIN(ctx, store.ID, testStorePIN); err != nil {
		t.Fatalf("failed to set pin: %v", err)
	}
	for _, control := range []submissions.Control{
		{ID: "C1", Name: "Fridge temperatures", PeriodType: submissions.PeriodTypeWeekly, DisplayOrder: 1},
		{ID: "C2", Name: "Fire extinguisher check", PeriodType: submissions.PeriodTypeMonthly, DisplayOrder: 2},
	} {
		if _, err := submissionService.CreateControl(ctx, control); err != nil {
			t.Fatalf("failed to create control: %v", err)
		}
	}
	if _, err := submissionService.UpsertDocumentConfig(ctx, store.ID, submissions.PeriodTypeWeekly, "doc-weekly"); err != nil {
		t.Fatalf("failed to configure document: %v", err)
	}

	portal := &testPortal{
		stores:      storeService,
		submissions: submissionService,
		audit:       auditLog,
		events:      NewSyncEventDispatcher(),
		store:       store,
		now:         now,
	}

	syncerConfig := craft.SyncerConfig{
		Submissions:    submissionService,
		Documents:      submissionService,
		Clock:          clock,
		SimulatedDelay: time.Millisecond,
	}
	if options.live {
		portal.craft = crafttest.NewServer(t, "doc-weekly", "doc-monthly")
		client, err := craft.NewClient(craft.ClientConfig{BaseURL: portal.craft.URL})
		if err != nil {
			t.Fatalf("failed to create craft client: %v", err)
		}
		syncerConfig.API = client
	}
	syncer, err := craft.NewSyncer(syncerConfig)
	if err != nil {
		t.Fatalf("failed to create syncer: %v", err)
	}

	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{SigningSecret: []byte(testSigningSecret), Clock: clock})
	if err != nil {
		t.Fatalf("failed to create token issuer: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		CookieName:    auth.DefaultSessionCookieName,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("failed to create session validator: %v", err)
	}
	admins, err := auth.NewAdminAuthenticator(auth.AdminAuthenticatorConfig{
		Emails:   []string{testAdminEmail},
		Password: testAdminPassword,
	})
	if err != nil {
		t.Fatalf("failed to create admin authenticator: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Stores:            storeService,
		Submissions:       submissionService,
		Syncer:            syncer,
		Audit:             auditLog,
		SessionIssuer:     issuer,
		SessionValidator:  validator,
		Admins:            admins,
		Limiter:           ratelimit.NewMemoryLimiter(clock),
		Evidence:          options.uploader,
		Events:            portal.events,
		HeartbeatInterval: time.Hour,
		Clock:             clock,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	portal.handler = handler
	return portal
}

func (p *testPortal) do(request *http.Request, cookie *http.Cookie) *httptest.ResponseRecorder {
	if cookie != nil {
		request.AddCookie(cookie)
	}
	recorder := httptest.NewRecorder()
	p.handler.ServeHTTP(recorder, request)
	return recorder
}

func (p *testPortal) doJSON(t *testing.T, method, path string, payload interface{}, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader = http.NoBody
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to encode payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, body)
	request.Header.Set("Content-Type", "application/json")
	return p.do(request, cookie)
}

func sessionCookie(t *testing.T, recorder *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, cookie := range recorder.Result().Cookies() {
		if cookie.Name == auth.DefaultSessionCookieName && cookie.Value != "" {
			return cookie
		}
	}
	t.Fatalf("expected session cookie in response, got %v", recorder.Result().Cookies())
	return nil
}

func (p *testPortal) loginStore(t *testing.T) *http.Cookie {
	t.Helper()
	recorder := p.doJSON(t, http.MethodPost, "/api/auth/store-login", gin.H{"store_name": testStoreName, "pin": testStorePIN}, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("store login failed: %d %s", recorder.Code, recorder.Body.String())
	}
	return sessionCookie(t, recorder)
}

func (p *testPortal) loginAdmin(t *testing.T) *http.Cookie {
	t.Helper()
	recorder := p.doJSON(t, http.MethodPost, "/api/auth/admin-login", gin.H{"email": testAdminEmail, "password": testAdminPassword}, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("admin login failed: %d %s", recorder.Code, recorder.Body.String())
	}
	return sessionCookie(t, recorder)
}

type multipartFile struct {
	name        string
	contentType string
	content     string
}

func newSubmissionRequest(t *testing.T, fields map[string]string, file *multipartFile) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	if file != nil {
		header := make(map[string][]string)
		header["Content-Disposition"] = []string{fmt.Sprintf(`form-data; name="file"; filename="%s"`, file.name)}
		header["Content-Type"] = []string{file.contentType}
		part, err := writer.CreatePart(header)
		if err != nil {
			t.Fatalf("failed to create file part: %v", err)
		}
		if _, err := io.Copy(part, strings.NewReader(file.content)); err != nil {
			t.Fatalf("failed to write file part: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}
	request := httptest.NewRequest(http.MethodPost, "/api/submissions", &body)
	request.Header.Set("Content-Type", writer.FormDataContentType())
	return request
}

func submissionFields(controlID, notes string) map[string]string {
	return map[string]string{
		"control_id":      controlID,
		"submission_date": "2024-03-05",
		"submitter_name":  "Jane Doe",
		"notes":           notes,
	}
}

type submissionEnvelope struct {
	Submission submissionPayload   `json:"submission"`
	AuditLogs  []auditEntryPayload `json:"audit_logs"`
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

func (p *testPortal) createSubmission(t *testing.T, cookie *http.Cookie, controlID, notes string) submissionPayload {
	t.Helper()
	recorder := p.do(newSubmissionRequest(t, submissionFields(controlID, notes), nil), cookie)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("create submission failed: %d %s", recorder.Code, recorder.Body.String())
	}
	var envelope submissionEnvelope
	decodeBody(t, recorder, &envelope)
	return envelope.Submission
}

func (p *testPortal) auditActions(t *testing.T) []string {
	t.Helper()
	entries, err := p.audit.ListRecent(context.Background(), 0)
	if err != nil {
		t.Fatalf("failed to list audit entries: %v", err)
	}
	actions := make([]string, 0, len(entries))
	for _, entry := range entries {
		actions = append(actions, entry.Action)
	}
	return actions
}

func containsString(values []string, expected string) bool {
	for _, value := range values {
		if value == expected {
			return true
		}
	}
	return false
}

type stubUploader struct {
	storeID string
	file    evidence.File
	content string
	err     error
}

func (s *stubUploader) Upload(_ context.Context, storeID string, file evidence.File) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	content, err := io.ReadAll(file.Body)
	if err != nil {
		return "", err
	}
	s.storeID = storeID
	s.file = file
	s.content = string(content)
	return "https://cdn.example.com/evidence-files/" + storeID + "/log.txt", nil
}
