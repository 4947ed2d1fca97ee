package test

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v4"
	"github.com/irsalhamdi/course-cart/core/auth"
	"github.com/irsalhamdi/course-cart/core/user"
	"golang.org/x/oauth2"
)

const (
	idpClient = "cart-client"
	idpCode   = "consent-code"
)

// mockIdP is an OpenID provider issuing RS256 id tokens for one identity.
type mockIdP struct {
	*httptest.Server
	key *rsa.PrivateKey

	mu       sync.Mutex
	email    string
	name     string
	verified bool
}

func newMockIdP(t *testing.T) (*mockIdP, error) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}

	m := &mockIdP{key: key}
	m.Server = httptest.NewServer(m.handle())
	t.Cleanup(m.Server.Close)
	return m, nil
}

// as sets the identity the next token exchanges vouch for.
func (m *mockIdP) as(email, name string, verified bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.email, m.name, m.verified = email, name, verified
}

func (m *mockIdP) handle() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if err := r.ParseForm(); err != nil || r.PostForm.Get("code") != idpCode {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}

		m.mu.Lock()
		now := time.Now()
		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
			"iss":            m.URL,
			"aud":            idpClient,
			"sub":            "sub-" + m.email,
			"iat":            now.Unix(),
			"exp":            now.Add(time.Hour).Unix(),
			"email":          m.email,
			"email_verified": m.verified,
			"name":           m.name,
		})
		m.mu.Unlock()

		idToken, err := tok.SignedString(m.key)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "access",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     idToken,
		})
	})
	return mux
}

func (m *mockIdP) provider() auth.Provider {
	keys := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&m.key.PublicKey}}

	return auth.Provider{
		Name: "google",
		OAuth: oauth2.Config{
			ClientID:     idpClient,
			ClientSecret: "cart-secret",
			Endpoint:     oauth2.Endpoint{AuthURL: m.URL + "/auth", TokenURL: m.URL + "/token"},
			RedirectURL:  "http://localhost/auth/oauth-callback/google",
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
		Verifier: oidc.NewVerifier(m.URL, keys, &oidc.Config{ClientID: idpClient}),
	}
}

// oauthLogin walks the consent round trip and returns the callback response.
func (ct *cartTest) oauthLogin(t *testing.T, code string) *http.Response {
	t.Helper()

	client := *ct.Client()
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	w, err := client.Get(ct.URL + "/auth/oauth-login/google")
	if err != nil {
		t.Fatal(err)
	}
	w.Body.Close()
	if w.StatusCode != http.StatusFound {
		t.Fatalf("expected a redirect to the provider, got %d", w.StatusCode)
	}

	loc, err := url.Parse(w.Header.Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	if loc.Query().Get("client_id") != idpClient {
		t.Fatalf("unexpected consent url %s", loc)
	}

	q := url.Values{"code": {code}, "state": {loc.Query().Get("state")}}
	w, err = client.Get(ct.URL + "/auth/oauth-callback/google?" + q.Encode())
	if err != nil {
		t.Fatal(err)
	}
	w.Body.Close()
	return w
}

func TestOauthLogin(t *testing.T) {
	env, err := NewTestEnv(t, "oauth_test")
	if err != nil {
		t.Fatalf("initializing test env: %v", err)
	}
	ct := &cartTest{env}

	_, in := ct.createInstanceOK(t, "Geometry", "40")

	t.Run("unverified email", func(t *testing.T) {
		env.Idp.as("unverified@example.com", "Unverified", false)
		if w := ct.oauthLogin(t, idpCode); w.StatusCode != http.StatusForbidden {
			t.Fatalf("expected status %d, got %d", http.StatusForbidden, w.StatusCode)
		}
	})

	t.Run("bad code", func(t *testing.T) {
		env.Idp.as("learner@example.com", "Learner", true)
		if w := ct.oauthLogin(t, "stolen"); w.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, w.StatusCode)
		}
	})

	t.Run("first login moves the guest cart", func(t *testing.T) {
		if view := ct.addItemOK(t, in.ID).Cart; !view.Guest {
			t.Fatalf("expected a guest cart, got %+v", view)
		}

		env.Idp.as("New.Learner@example.com", "New Learner", true)
		w := ct.oauthLogin(t, idpCode)
		if w.StatusCode != http.StatusFound || w.Header.Get("Location") != "/" {
			t.Fatalf("expected a redirect to /, got %d %q", w.StatusCode, w.Header.Get("Location"))
		}
		defer ct.logout(t)

		var u user.User
		if code := ct.Do(t, http.MethodGet, "/users/current", nil, &u); code != http.StatusOK {
			t.Fatalf("can't fetch the current user: status code %d", code)
		}
		if u.Email != "new.learner@example.com" || u.Name != "New Learner" {
			t.Fatalf("unexpected user %+v", u)
		}

		view := ct.showCartOK(t)
		if view.Guest || view.Count != 1 || view.Items[0].InstanceID != in.ID {
			t.Fatalf("expected the guest cart to be moved into the user cart, got %+v", view)
		}
	})

	t.Run("existing account", func(t *testing.T) {
		env.Idp.as(env.UserEmail, "Someone Else", true)
		if w := ct.oauthLogin(t, idpCode); w.StatusCode != http.StatusFound {
			t.Fatalf("expected a redirect, got %d", w.StatusCode)
		}
		defer ct.logout(t)

		var u user.User
		if code := ct.Do(t, http.MethodGet, "/users/current", nil, &u); code != http.StatusOK {
			t.Fatalf("can't fetch the current user: status code %d", code)
		}
		if u.Email != env.UserEmail || u.Name != "User" {
			t.Fatalf("expected the existing account, got %+v", u)
		}
	})
}
