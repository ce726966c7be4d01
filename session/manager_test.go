package session_test

import (
	"net/http"
	"net/http/httptest"
	"os"
	"tap/cryptoutil"
	"tap/session"
	"tap/store"
	"testing"
	"time"
)

func setupTest(t *testing.T) (store.Store, int64) {
	s, err := store.New("./test.db")
	if err != nil {
		t.Fatalf("error creating store: %v", err)
	}

	testUser := &store.User{
		GithubID: "123456789",
		Email:    "test@example.com",
		Name:     "Test User",
		Picture:  "https://example.com/picture.jpg",
	}

	userID, err := s.CreateUser(testUser)
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	return s, userID
}

func cleanupTestDB(t *testing.T) {
	err := os.Remove("./test.db")
	if err != nil {
		t.Logf("Warning: Failed to remove test database: %v", err)
	}
}

func storeSession(t *testing.T, s store.Store, token string, userID int64, expiresAt int64) {
	err := s.CreateSession(&store.Session{
		ID:        cryptoutil.ID(token),
		UserID:    userID,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
}

func TestCreateSession(t *testing.T) {
	s, userID := setupTest(t)
	defer cleanupTestDB(t)
	m := session.NewManager(s, 30, 15, false)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.7:51234"
	r.Header.Set("User-Agent", "session-test")

	if err := m.CreateSession(w, r, userID); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	cookies := w.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected 1 cookie, got %d", len(cookies))
	}
	if cookies[0].Value == "" {
		t.Fatal("expected non-empty session cookie")
	}

	result, err := m.ValidateSessionToken(cookies[0].Value)
	if err != nil {
		t.Fatalf("failed to validate issued token: %v", err)
	}
	if result.Session.UserID != userID {
		t.Errorf("expected user ID %d, got %d", userID, result.Session.UserID)
	}
	if result.Session.IPAddress != "192.0.2.7" {
		t.Errorf("expected recorded IP 192.0.2.7, got %s", result.Session.IPAddress)
	}
	if result.Session.UserAgent != "session-test" {
		t.Errorf("expected recorded user agent session-test, got %s", result.Session.UserAgent)
	}
}

func TestSessionValidation(t *testing.T) {
	s, userID := setupTest(t)
	defer cleanupTestDB(t)
	m := session.NewManager(s, 30, 15, false)

	storeSession(t, s, "test-token", userID, time.Now().Add(30*24*time.Hour).Unix())

	result, err := m.ValidateSessionToken("test-token")
	if err != nil {
		t.Fatalf("failed to validate valid session: %v", err)
	}
	if result.User.ID != userID {
		t.Errorf("expected user ID %d, got %d", userID, result.User.ID)
	}

	_, err = m.ValidateSessionToken("invalid-token")
	if err == nil {
		t.Error("expected error for invalid token")
	}

	_, err = m.ValidateSessionToken("")
	if err == nil {
		t.Error("expected error for empty token")
	}
}

func TestSessionExpiration(t *testing.T) {
	s, userID := setupTest(t)
	defer cleanupTestDB(t)
	m := session.NewManager(s, 1, 1, false)

	storeSession(t, s, "test-token", userID, time.Now().Add(-time.Hour).Unix())

	result, err := m.ValidateSessionToken("test-token")
	if err != nil {
		t.Fatalf("unexpected error validating expired session: %v", err)
	}
	if result != nil {
		t.Error("expected nil result for expired session")
	}

	// The expired row is deleted on validation.
	_, err = m.ValidateSessionToken("test-token")
	if err == nil {
		t.Error("expected error after expired session was deleted")
	}
}

func TestSessionRefresh(t *testing.T) {
	s, userID := setupTest(t)
	defer cleanupTestDB(t)
	m := session.NewManager(s, 30, 7, false)

	// Expiring within the threshold window forces a refresh.
	nearExpiry := time.Now().Add(6 * 24 * time.Hour).Unix()
	storeSession(t, s, "test-token", userID, nearExpiry)

	result, err := m.ValidateSessionToken("test-token")
	if err != nil {
		t.Fatalf("failed to validate session: %v", err)
	}
	if result.Session.ExpiresAt <= nearExpiry {
		t.Error("session should be refreshed when within threshold")
	}
}

func TestSessionInvalidation(t *testing.T) {
	s, userID := setupTest(t)
	defer cleanupTestDB(t)
	m := session.NewManager(s, 30, 15, false)

	storeSession(t, s, "token1", userID, time.Now().Add(30*24*time.Hour).Unix())

	err := m.InvalidateUserSessions(userID)
	if err != nil {
		t.Fatalf("failed to invalidate user sessions: %v", err)
	}

	result, err := m.ValidateSessionToken("token1")
	if err == nil || result != nil {
		t.Error("session should be invalid after user sessions invalidation")
	}

	err = m.InvalidateUserSessions(999999)
	if err != nil {
		t.Error("invalidating non-existent sessions should not return error")
	}
}

func TestResolve(t *testing.T) {
	s, userID := setupTest(t)
	defer cleanupTestDB(t)
	m := session.NewManager(s, 30, 15, false)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	result, err := m.Resolve(r)
	if err != nil {
		t.Fatalf("unexpected error for request without cookie: %v", err)
	}
	if result != nil {
		t.Error("expected anonymous result for request without cookie")
	}

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: "session", Value: "unknown-token"})
	result, err = m.Resolve(r)
	if err != nil {
		t.Fatalf("unexpected error for unknown token: %v", err)
	}
	if result != nil {
		t.Error("expected anonymous result for unknown token")
	}

	storeSession(t, s, "test-token", userID, time.Now().Add(30*24*time.Hour).Unix())
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: "session", Value: "test-token"})
	result, err = m.Resolve(r)
	if err != nil {
		t.Fatalf("failed to resolve valid session: %v", err)
	}
	if result == nil || result.User.ID != userID {
		t.Fatalf("expected session for user %d, got %+v", userID, result)
	}
}
