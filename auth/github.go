package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"tap/cryptoutil"
	"tap/herr"
	"tap/session"
	"tap/store"
	"time"
)

const (
	githubAuthorizeURL         = "https://github.com/login/oauth/authorize"
	githubTokenURL             = "https://github.com/login/oauth/access_token"
	githubUserURL              = "https://api.github.com/user"
	githubEmailsURL            = "https://api.github.com/user/emails"
	githubOAuthStateCookieName = "github_oauth_state"
)

var scopes = []string{"read:user", "user:email"}

type Github struct {
	clientID     string
	clientSecret string
	callbackURL  string
	homeURL      string
	store        store.Store
	sessionMgr   *session.Manager
	client       *http.Client

	// overridable in tests
	authorizeURL string
	tokenURL     string
	userURL      string
	emailsURL    string
}

func NewGithub(clientID, clientSecret, callbackURL, homeURL string, store store.Store, sessionMgr *session.Manager) *Github {
	return &Github{
		clientID:     clientID,
		clientSecret: clientSecret,
		callbackURL:  callbackURL,
		homeURL:      homeURL,
		store:        store,
		sessionMgr:   sessionMgr,
		client:       &http.Client{Timeout: 10 * time.Second},
		authorizeURL: githubAuthorizeURL,
		tokenURL:     githubTokenURL,
		userURL:      githubUserURL,
		emailsURL:    githubEmailsURL,
	}
}

func (g *Github) HandleLogin(w http.ResponseWriter, r *http.Request) *herr.Error {
	authorizationURL, err := url.Parse(g.authorizeURL)
	if err != nil {
		return herr.Internal(err, "Failed to parse GitHub authorization URL")
	}
	state, err := cryptoutil.CreateState()
	if err != nil {
		return herr.Internal(err, "Failed to create OAuth state")
	}

	query := authorizationURL.Query()
	query.Set("state", state)
	query.Set("client_id", g.clientID)
	query.Set("redirect_uri", g.callbackURL)
	query.Set("scope", strings.Join(scopes, " "))
	authorizationURL.RawQuery = query.Encode()

	http.SetCookie(w, &http.Cookie{
		Name:     githubOAuthStateCookieName,
		Value:    state,
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		Secure:   strings.HasPrefix(g.homeURL, "https://"),
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, authorizationURL.String(), http.StatusFound)
	return nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
}

type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

func (g *Github) HandleCallBack(w http.ResponseWriter, r *http.Request) *herr.Error {
	query := r.URL.Query()
	code := query.Get("code")
	state := query.Get("state")
	storedState, err := r.Cookie(githubOAuthStateCookieName)
	if err != nil || storedState.Value != state || code == "" {
		return herr.BadRequest(err, "Invalid OAuth state or missing code")
	}

	http.SetCookie(w, &http.Cookie{
		Name:     githubOAuthStateCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})

	userData, herrErr := g.exchangeCode(code)
	if herrErr != nil {
		return herrErr
	}

	existingUser, err := g.store.UserByGithubID(strconv.FormatInt(userData.ID, 10))
	if err == nil {
		if err := g.sessionMgr.CreateSession(w, r, existingUser.ID); err != nil {
			return herr.Internal(err, "Failed to create session for existing user")
		}
		http.Redirect(w, r, g.homeURL, http.StatusFound)
		return nil
	}
	if !errors.Is(err, store.ErrUserNotFound) {
		return herr.Internal(err, "Error reading user from db")
	}

	name := userData.Name
	if name == "" {
		name = userData.Login
	}
	user := &store.User{
		GithubID: strconv.FormatInt(userData.ID, 10),
		Email:    userData.Email,
		Name:     name,
		Picture:  userData.AvatarURL,
	}

	newUserID, err := g.store.CreateUser(user)
	if err != nil {
		return herr.Internal(err, "Failed to create new user")
	}

	if err := g.sessionMgr.CreateSession(w, r, newUserID); err != nil {
		return herr.Internal(err, "Failed to create session for new user")
	}
	http.Redirect(w, r, g.homeURL, http.StatusFound)
	return nil
}

func (g *Github) exchangeCode(code string) (*githubUser, *herr.Error) {
	formData := url.Values{
		"client_id":     {g.clientID},
		"client_secret": {g.clientSecret},
		"code":          {code},
		"redirect_uri":  {g.callbackURL},
	}

	req, err := http.NewRequest(http.MethodPost, g.tokenURL, strings.NewReader(formData.Encode()))
	if err != nil {
		return nil, herr.Internal(err, "Failed to create token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	tokenResp, err := g.client.Do(req)
	if err != nil {
		return nil, herr.Internal(err, "Failed to execute token request")
	}
	defer tokenResp.Body.Close()

	if tokenResp.StatusCode != http.StatusOK {
		return nil, herr.Internal(
			fmt.Errorf("status %d", tokenResp.StatusCode),
			"Token endpoint returned non-200 status",
		)
	}

	var tokenRespData tokenResponse
	if err := json.NewDecoder(tokenResp.Body).Decode(&tokenRespData); err != nil {
		return nil, herr.Internal(err, "Failed to decode token response")
	}
	if tokenRespData.AccessToken == "" {
		return nil, herr.Internal(errors.New("empty access token"), "Token exchange failed")
	}

	userData, herrErr := g.fetchUser(tokenRespData.AccessToken)
	if herrErr != nil {
		return nil, herrErr
	}

	// The profile email is empty when the user keeps it private; the
	// emails endpoint still lists the primary one with the user:email
	// scope.
	if userData.Email == "" {
		email, herrErr := g.fetchPrimaryEmail(tokenRespData.AccessToken)
		if herrErr != nil {
			return nil, herrErr
		}
		userData.Email = email
	}

	return userData, nil
}

func (g *Github) fetchUser(accessToken string) (*githubUser, *herr.Error) {
	req, err := http.NewRequest(http.MethodGet, g.userURL, nil)
	if err != nil {
		return nil, herr.Internal(err, "Failed to create user request")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, herr.Internal(err, "Failed to execute user request")
	}
	defer resp.Body.Close()

	var userData githubUser
	if err := json.NewDecoder(resp.Body).Decode(&userData); err != nil {
		return nil, herr.Internal(err, "Failed to decode user response")
	}
	if userData.ID == 0 {
		return nil, herr.Internal(errors.New("missing user id"), "GitHub user response incomplete")
	}
	return &userData, nil
}

func (g *Github) fetchPrimaryEmail(accessToken string) (string, *herr.Error) {
	req, err := http.NewRequest(http.MethodGet, g.emailsURL, nil)
	if err != nil {
		return "", herr.Internal(err, "Failed to create emails request")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", herr.Internal(err, "Failed to execute emails request")
	}
	defer resp.Body.Close()

	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&emails); err != nil {
		return "", herr.Internal(err, "Failed to decode emails response")
	}

	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, nil
		}
	}
	return "", herr.Internal(errors.New("no verified primary email"), "No usable email on GitHub account")
}
