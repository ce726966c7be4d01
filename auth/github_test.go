package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"tap/session"
	"tap/store"
	"testing"
)

func setupTest(t *testing.T) (store.Store, *session.Manager) {
	s, err := store.New("./test.db")
	if err != nil {
		t.Fatalf("error creating store: %v", err)
	}
	return s, session.NewManager(s, 30, 15, false)
}

func cleanupTestDB(t *testing.T) {
	err := os.Remove("./test.db")
	if err != nil {
		t.Logf("Warning: Failed to remove test database: %v", err)
	}
}

func fakeGithub(t *testing.T, email string) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"access_token": "fake-access-token",
			"token_type":   "bearer",
		})
	})
	mux.HandleFunc("GET /user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fake-access-token" {
			t.Errorf("missing bearer token on user request")
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":         12345,
			"login":      "octocat",
			"name":       "Octo Cat",
			"email":      email,
			"avatar_url": "https://example.com/avatar.png",
		})
	})
	mux.HandleFunc("GET /emails", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]any{
			{"email": "octo@example.com", "primary": true, "verified": true},
		})
	})
	return httptest.NewServer(mux)
}

func newTestGithub(s store.Store, sm *session.Manager, upstream *httptest.Server) *Github {
	g := NewGithub("client-id", "client-secret", "http://localhost:3000/api/login/github/callback", "http://localhost:3000", s, sm)
	g.tokenURL = upstream.URL + "/token"
	g.userURL = upstream.URL + "/user"
	g.emailsURL = upstream.URL + "/emails"
	return g
}

func callbackRequest(state string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/login/github/callback?code=abc&state="+state, nil)
	r.AddCookie(&http.Cookie{Name: githubOAuthStateCookieName, Value: state})
	return r
}

func TestHandleLogin(t *testing.T) {
	s, sm := setupTest(t)
	defer cleanupTestDB(t)
	g := NewGithub("client-id", "client-secret", "http://localhost:3000/cb", "http://localhost:3000", s, sm)

	w := httptest.NewRecorder()
	if herrErr := g.HandleLogin(w, httptest.NewRequest(http.MethodGet, "/api/login/github", nil)); herrErr != nil {
		t.Fatalf("login failed: %v", herrErr.Error)
	}

	if w.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d", w.Code)
	}
	location := w.Header().Get("Location")
	if location == "" {
		t.Fatal("expected Location header")
	}

	var stateCookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == githubOAuthStateCookieName {
			stateCookie = c
		}
	}
	if stateCookie == nil || stateCookie.Value == "" {
		t.Fatal("expected state cookie to be set")
	}
}

func TestHandleCallBackCreatesUserAndSession(t *testing.T) {
	s, sm := setupTest(t)
	defer cleanupTestDB(t)

	upstream := fakeGithub(t, "octo@example.com")
	defer upstream.Close()
	g := newTestGithub(s, sm, upstream)

	w := httptest.NewRecorder()
	if herrErr := g.HandleCallBack(w, callbackRequest("state123")); herrErr != nil {
		t.Fatalf("callback failed: %v", herrErr.Error)
	}

	if w.Code != http.StatusFound {
		t.Fatalf("expected redirect after callback, got %d", w.Code)
	}

	user, err := s.UserByGithubID("12345")
	if err != nil {
		t.Fatalf("expected user to be created: %v", err)
	}
	if user.Email != "octo@example.com" {
		t.Errorf("expected email octo@example.com, got %s", user.Email)
	}
	if user.Name != "Octo Cat" {
		t.Errorf("expected name Octo Cat, got %s", user.Name)
	}

	var sessionCookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == "session" && c.Value != "" {
			sessionCookie = c
		}
	}
	if sessionCookie == nil {
		t.Fatal("expected session cookie to be set")
	}
	result, err := sm.ValidateSessionToken(sessionCookie.Value)
	if err != nil || result == nil {
		t.Fatalf("expected valid session for issued cookie: %v", err)
	}
	if result.User.ID != user.ID {
		t.Errorf("expected session for user %d, got %d", user.ID, result.User.ID)
	}
}

func TestHandleCallBackPrivateEmail(t *testing.T) {
	s, sm := setupTest(t)
	defer cleanupTestDB(t)

	upstream := fakeGithub(t, "")
	defer upstream.Close()
	g := newTestGithub(s, sm, upstream)

	w := httptest.NewRecorder()
	if herrErr := g.HandleCallBack(w, callbackRequest("state123")); herrErr != nil {
		t.Fatalf("callback failed: %v", herrErr.Error)
	}

	user, err := s.UserByGithubID("12345")
	if err != nil {
		t.Fatalf("expected user to be created: %v", err)
	}
	if user.Email != "octo@example.com" {
		t.Errorf("expected primary email fallback, got %s", user.Email)
	}
}

func TestHandleCallBackRejectsBadState(t *testing.T) {
	s, sm := setupTest(t)
	defer cleanupTestDB(t)

	upstream := fakeGithub(t, "octo@example.com")
	defer upstream.Close()
	g := newTestGithub(s, sm, upstream)

	r := httptest.NewRequest(http.MethodGet, "/api/login/github/callback?code=abc&state=tampered", nil)
	r.AddCookie(&http.Cookie{Name: githubOAuthStateCookieName, Value: "state123"})

	w := httptest.NewRecorder()
	herrErr := g.HandleCallBack(w, r)
	if herrErr == nil || herrErr.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request for state mismatch, got %+v", herrErr)
	}

	if _, err := s.UserByGithubID("12345"); err == nil {
		t.Error("expected no user to be created on state mismatch")
	}
}
