package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdornseif/authkit/pkg/credential"
	"github.com/mdornseif/authkit/pkg/session"
)

const (
	testSigningKey = "test-signing-key-0123456789abcdef"
	testUID        = "u42"
	testSecret     = "SECRETSECRET1234"
	testAdminUID   = "root1"
)

// newTestServer builds a memory-mode server with one plain and one admin
// credential seeded.
func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := &Config{}
	cfg.Auth.SigningKey = testSigningKey
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := New(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	user := credential.New(credential.Options{UID: testUID, Tenant: "example.com"})
	user.Secret = testSecret
	_, _, err = s.store.GetOrCreate(ctx, user)
	require.NoError(t, err)

	admin := credential.New(credential.Options{UID: testAdminUID, Admin: true})
	admin.Secret = testSecret
	_, _, err = s.store.GetOrCreate(ctx, admin)
	require.NoError(t, err)

	return s
}

func basicAuth(uid, secret string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(uid+":"+secret))
}

func TestNewRequiresSigningKey(t *testing.T) {
	_, err := New(&Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signing_key")
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))
	assert.Equal(t, http.StatusOK, w.Code)

	// Readiness flips only once the server starts serving.
	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	s.checker.SetReady()
	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWhoamiWithBasicAuth(t *testing.T) {
	s := newTestServer(t)

	r := httptest.NewRequest(http.MethodGet, "http://www.example.com/whoami", http.NoBody)
	r.Header.Set("Authorization", basicAuth(testUID, testSecret))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Credential credential.Credential `json:"credential"`
		LoginVia   string                `json:"login_via"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, testUID, body.Credential.UID)
	assert.Equal(t, "http", body.LoginVia)
	assert.Empty(t, body.Credential.Secret)
}

func TestWhoamiAnonymousAPIClient(t *testing.T) {
	s := newTestServer(t)

	r := httptest.NewRequest(http.MethodGet, "http://www.example.com/whoami", http.NoBody)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Header().Get("WWW-Authenticate"), "API Login")
}

func TestWhoamiAnonymousBrowserRedirects(t *testing.T) {
	s := newTestServer(t)

	r := httptest.NewRequest(http.MethodGet, "http://www.example.com/whoami", http.NoBody)
	r.Header.Set("Accept", "text/html,application/xhtml+xml")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, r)

	assert.Equal(t, http.StatusFound, w.Code)
	loc := w.Header().Get("Location")
	assert.Contains(t, loc, "/auth/login?continue=")
	assert.Contains(t, loc, url.QueryEscape("http://www.example.com/whoami"))
}

// TestFormLoginRoundTrip walks the interactive flow end to end: redirect to
// the form, submit credentials, come back with a session cookie.
func TestFormLoginRoundTrip(t *testing.T) {
	s := newTestServer(t)

	form := url.Values{}
	form.Set("username", testUID)
	form.Set("password", testSecret)
	form.Set("continue", "/whoami")
	r := httptest.NewRequest(http.MethodPost, "http://www.example.com/auth/login",
		strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, r)

	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/whoami", w.Header().Get("Location"))

	var sessCookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == session.DefaultCookieName && c.Value != "" {
			sessCookie = c
		}
	}
	require.NotNil(t, sessCookie)

	// The session cookie now authenticates on its own.
	r = httptest.NewRequest(http.MethodGet, "http://www.example.com/whoami", http.NoBody)
	r.AddCookie(&http.Cookie{Name: sessCookie.Name, Value: sessCookie.Value})
	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		LoginVia string `json:"login_via"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "form", body.LoginVia, "the original login channel survives on the session")
}

func TestFormLoginWrongPassword(t *testing.T) {
	s := newTestServer(t)

	form := url.Values{}
	form.Set("username", testUID)
	form.Set("password", "nope")
	r := httptest.NewRequest(http.MethodPost, "http://www.example.com/auth/login",
		strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Wrong username or password")
}

func TestCredentialListAdminOnly(t *testing.T) {
	s := newTestServer(t)

	r := httptest.NewRequest(http.MethodGet, "http://www.example.com/credentials/list", http.NoBody)
	r.Header.Set("Authorization", basicAuth(testUID, testSecret))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, r)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCredentialListPagination(t *testing.T) {
	s := newTestServer(t)

	r := httptest.NewRequest(http.MethodGet,
		"http://www.example.com/credentials/list?limit=1&calctotal=true", http.NoBody)
	r.Header.Set("Authorization", basicAuth(testAdminUID, testSecret))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Objects     []credential.Credential `json:"objects"`
		MoreObjects bool                    `json:"more_objects"`
		Total       *int                    `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Objects, 1)
	assert.True(t, page.MoreObjects)
	require.NotNil(t, page.Total)
	assert.Equal(t, 2, *page.Total)
	assert.Empty(t, page.Objects[0].Secret, "secrets never leave through lists")
}

func TestAuditListRecordsLogins(t *testing.T) {
	s := newTestServer(t)

	// A failed then a successful form login leave two events for the uid.
	for _, password := range []string{"wrong-password", testSecret} {
		form := url.Values{}
		form.Set("username", testUID)
		form.Set("password", password)
		r := httptest.NewRequest(http.MethodPost, "http://www.example.com/auth/login",
			strings.NewReader(form.Encode()))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w := httptest.NewRecorder()
		s.Router().ServeHTTP(w, r)
	}

	r := httptest.NewRequest(http.MethodGet,
		"http://www.example.com/audit/list?uid="+testUID+"&limit=1&calctotal=true", http.NoBody)
	r.Header.Set("Authorization", basicAuth(testAdminUID, testSecret))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Objects []struct {
			Kind string `json:"kind"`
			UID  string `json:"uid"`
			Via  string `json:"via"`
		} `json:"objects"`
		MoreObjects bool   `json:"more_objects"`
		Cursor      string `json:"cursor"`
		NextQS      string `json:"next_qs"`
		Total       *int   `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))

	// Newest first: the successful login precedes the failure.
	require.Len(t, page.Objects, 1)
	assert.Equal(t, "login", page.Objects[0].Kind)
	assert.Equal(t, testUID, page.Objects[0].UID)
	assert.Equal(t, "form", page.Objects[0].Via)

	assert.True(t, page.MoreObjects)
	assert.NotEmpty(t, page.Cursor)
	require.NotNil(t, page.Total)
	assert.Equal(t, 2, *page.Total)

	// Navigation keeps the uid filter.
	next, err := url.ParseQuery(page.NextQS)
	require.NoError(t, err)
	assert.Equal(t, testUID, next.Get("uid"))
	assert.Equal(t, "1", next.Get("start"))

	// The second page holds the failure.
	r = httptest.NewRequest(http.MethodGet,
		"http://www.example.com/audit/list?"+page.NextQS, http.NoBody)
	r.Header.Set("Authorization", basicAuth(testAdminUID, testSecret))
	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Objects, 1)
	assert.Equal(t, "login_failed", page.Objects[0].Kind)
	assert.False(t, page.MoreObjects)
}

func TestAuditListAdminOnly(t *testing.T) {
	s := newTestServer(t)

	r := httptest.NewRequest(http.MethodGet, "http://www.example.com/audit/list", http.NoBody)
	r.Header.Set("Authorization", basicAuth(testUID, testSecret))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, r)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestLogoutEndsSession(t *testing.T) {
	s := newTestServer(t)

	// Log in first.
	form := url.Values{}
	form.Set("username", testUID)
	form.Set("password", testSecret)
	r := httptest.NewRequest(http.MethodPost, "http://www.example.com/auth/login",
		strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, r)
	require.Equal(t, http.StatusFound, w.Code)

	var sessCookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == session.DefaultCookieName && c.Value != "" {
			sessCookie = c
		}
	}
	require.NotNil(t, sessCookie)

	r = httptest.NewRequest(http.MethodGet, "http://www.example.com/auth/logout", http.NoBody)
	r.AddCookie(&http.Cookie{Name: sessCookie.Name, Value: sessCookie.Value})
	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, r)
	require.Equal(t, http.StatusFound, w.Code)

	// The old cookie no longer authenticates.
	r = httptest.NewRequest(http.MethodGet, "http://www.example.com/whoami", http.NoBody)
	r.AddCookie(&http.Cookie{Name: sessCookie.Name, Value: sessCookie.Value})
	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
