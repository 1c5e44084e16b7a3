package authchain

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdornseif/authkit/pkg/signedtoken"
)

func TestBroadestCookieDomain(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"www.example.com", "example.com"},
		{"www.example.com:8443", "example.com"},
		{"deep.sub.example.co.uk", "example.co.uk"},
		{"example.com", "example.com"},
		{"localhost", ""},
		{"localhost:8080", ""},
		{"127.0.0.1", ""},
		{"[::1]:8080", ""},
		// Multi-tenant hosting suffixes must stay host-only.
		{"myapp.appspot.com", ""},
		{"myapp.herokuapp.com", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			assert.Equal(t, tt.want, BroadestCookieDomain(tt.host))
		})
	}
}

func TestSSOCookieIssueAndVerify(t *testing.T) {
	signer := signedtoken.New([]byte(testKey))
	sso := NewSSOCookie(signer, SSOCookieConfig{})

	w := httptest.NewRecorder()
	require.NoError(t, sso.Issue(w, "www.example.com", testUID))

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, DefaultSSOCookieName, c.Name)
	assert.Equal(t, "example.com", c.Domain)
	assert.True(t, c.HttpOnly)

	r := httptest.NewRequest(http.MethodGet, "http://app.example.com/", http.NoBody)
	r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})

	uid, provider, err := sso.Verify(r)
	require.NoError(t, err)
	assert.Equal(t, testUID, uid)
	assert.Equal(t, "example.com", provider)
}

func TestSSOCookieProviderTagForBareHost(t *testing.T) {
	signer := signedtoken.New([]byte(testKey))
	sso := NewSSOCookie(signer, SSOCookieConfig{})

	// A host without a widenable domain tags the cookie with the host itself.
	w := httptest.NewRecorder()
	require.NoError(t, sso.Issue(w, "localhost:8080", testUID))
	c := w.Result().Cookies()[0]
	assert.Empty(t, c.Domain)

	r := httptest.NewRequest(http.MethodGet, "http://localhost:8080/", http.NoBody)
	r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	_, provider, err := sso.Verify(r)
	require.NoError(t, err)
	assert.Equal(t, "localhost", provider)
}

func TestSSOCookieVerifyErrors(t *testing.T) {
	signer := signedtoken.New([]byte(testKey))
	sso := NewSSOCookie(signer, SSOCookieConfig{MaxAge: time.Hour})

	t.Run("no cookie", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		_, _, err := sso.Verify(r)
		assert.ErrorIs(t, err, http.ErrNoCookie)
	})

	t.Run("wrong key", func(t *testing.T) {
		other := NewSSOCookie(signedtoken.New([]byte("another-key-entirely-123456")), SSOCookieConfig{})
		w := httptest.NewRecorder()
		require.NoError(t, other.Issue(w, "www.example.com", testUID))

		r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		r.AddCookie(&http.Cookie{Name: DefaultSSOCookieName, Value: w.Result().Cookies()[0].Value})
		_, _, err := sso.Verify(r)
		assert.ErrorIs(t, err, signedtoken.ErrInvalidSignature)
	})
}

func TestSSOCookieClear(t *testing.T) {
	signer := signedtoken.New([]byte(testKey))
	sso := NewSSOCookie(signer, SSOCookieConfig{})

	w := httptest.NewRecorder()
	sso.Clear(w, "www.example.com")

	cookies := w.Result().Cookies()
	// Host scope and domain scope both expire.
	require.Len(t, cookies, 2)
	for _, c := range cookies {
		assert.Equal(t, -1, c.MaxAge)
		assert.Empty(t, c.Value)
	}
	assert.Empty(t, cookies[0].Domain)
	assert.Equal(t, "example.com", cookies[1].Domain)
}
