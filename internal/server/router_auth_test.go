package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/skye-vasquez/Craft/internal/auth"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestAuthorizeRequestLogLevels(testContext *testing.T) {
	gin.SetMode(gin.TestMode)
	issuedAt := time.Date(2024, time.March, 5, 9, 0, 0, 0, time.UTC)

	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		TokenTTL:      time.Hour,
		Clock:         func() time.Time { return issuedAt },
	})
	if err != nil {
		testContext.Fatalf("failed to create issuer: %v", err)
	}
	token, _, err := issuer.IssueAdminSession(testAdminEmail)
	if err != nil {
		testContext.Fatalf("failed to issue token: %v", err)
	}

	testCases := []struct {
		name          string
		cookieValue   string
		validatorTime time.Time
		expectedLevel zapcore.Level
		expectedCode  int
	}{
		{name: "valid", cookieValue: token, validatorTime: issuedAt.Add(time.Minute), expectedCode: http.StatusOK},
		{name: "missing", validatorTime: issuedAt, expectedLevel: zapcore.InfoLevel, expectedCode: http.StatusUnauthorized},
		{name: "expired", cookieValue: token, validatorTime: issuedAt.Add(2 * time.Hour), expectedLevel: zapcore.InfoLevel, expectedCode: http.StatusUnauthorized},
		{name: "forged", cookieValue: token + "tampered", validatorTime: issuedAt, expectedLevel: zapcore.WarnLevel, expectedCode: http.StatusUnauthorized},
	}

	for _, testCase := range testCases {
		testContext.Run(testCase.name, func(t *testing.T) {
			validatorTime := testCase.validatorTime
			validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
				SigningSecret: []byte(testSigningSecret),
				CookieName:    auth.DefaultSessionCookieName,
				Clock:         func() time.Time { return validatorTime },
			})
			if err != nil {
				t.Fatalf("failed to create validator: %v", err)
			}
			core, logs := observer.New(zap.InfoLevel)
			handler := &httpHandler{sessions: validator, logger: zap.New(core)}

			router := gin.New()
			router.GET("/protected", handler.authorizeRequest, func(c *gin.Context) {
				claims, _ := sessionFromContext(c)
				c.JSON(http.StatusOK, gin.H{"email": claims.Email})
			})

			request := httptest.NewRequest(http.MethodGet, "/protected", http.NoBody)
			if testCase.cookieValue != "" {
				request.AddCookie(&http.Cookie{Name: auth.DefaultSessionCookieName, Value: testCase.cookieValue})
			}
			recorder := httptest.NewRecorder()
			router.ServeHTTP(recorder, request)

			if recorder.Code != testCase.expectedCode {
				t.Fatalf("expected status %d, got %d", testCase.expectedCode, recorder.Code)
			}
			if testCase.expectedCode == http.StatusOK {
				if logs.Len() != 0 {
					t.Fatalf("expected no logs for a valid session, got %d", logs.Len())
				}
				return
			}
			entries := logs.FilterMessage("session validation failed").All()
			if len(entries) != 1 {
				t.Fatalf("expected one validation log, got %d", len(entries))
			}
			if entries[0].Level != testCase.expectedLevel {
				t.Fatalf("expected %s log, got %s", testCase.expectedLevel, entries[0].Level)
			}
		})
	}
}

func TestRequireKindRejectsOtherSessions(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/admin-only", func(c *gin.Context) {
		c.Set(sessionContextKey, auth.SessionClaims{Kind: auth.SessionKindStore, StoreID: "store-1"})
		c.Next()
	}, requireKind(auth.SessionKindAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/admin-only", http.NoBody))
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", recorder.Code)
	}
	if recorder.Body.String() != `{"error":"admin_session_required"}` {
		t.Fatalf("unexpected body %s", recorder.Body.String())
	}
}
