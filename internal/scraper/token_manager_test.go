package scraper

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func validCreds() Credentials {
	return Credentials{
		ClientID:     "id",
		ClientSecret: "sec",
		Username:     "u",
		Password:     "p",
		UserAgent:    "ua/1.0",
	}
}

func TestCredentialsValidate(t *testing.T) {
	if err := validCreds().Validate(); err != nil {
		t.Fatalf("valid creds rejected: %v", err)
	}

	cases := []struct {
		name string
		mod  func(*Credentials)
	}{
		{"missing client id", func(c *Credentials) { c.ClientID = "" }},
		{"missing client secret", func(c *Credentials) { c.ClientSecret = "" }},
		{"missing username", func(c *Credentials) { c.Username = "" }},
		{"missing password", func(c *Credentials) { c.Password = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := validCreds()
			tc.mod(&c)
			if err := c.Validate(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestTokenManagerCachesToken(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.PostFormValue("grant_type"); got != "password" {
			t.Errorf("grant_type = %q, want password", got)
		}
		if got := r.PostFormValue("scope"); got != "read" {
			t.Errorf("scope = %q, want read", got)
		}
		if user, _, ok := r.BasicAuth(); !ok || user != "id" {
			t.Errorf("basic auth user = %q, want id", user)
		}
		io.WriteString(rw, `{"access_token": "tok-1", "expires_in": 3600}`)
	}))
	defer srv.Close()

	tm, err := NewTokenManager(validCreds(), srv.Client(), nil)
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	defer tm.Stop()
	tm.tokenURL = srv.URL

	for i := 0; i < 3; i++ {
		tok, err := tm.Token()
		if err != nil {
			t.Fatalf("Token: %v", err)
		}
		if tok != "tok-1" {
			t.Errorf("token = %q, want tok-1", tok)
		}
	}
	if n := atomic.LoadInt64(&calls); n != 1 {
		t.Errorf("token endpoint hit %d times, want 1", n)
	}
}

func TestTokenManagerRejectsEmptyToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		io.WriteString(rw, `{"access_token": "", "expires_in": 3600}`)
	}))
	defer srv.Close()

	tm, err := NewTokenManager(validCreds(), srv.Client(), nil)
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	defer tm.Stop()
	tm.tokenURL = srv.URL

	if _, err := tm.Token(); err == nil {
		t.Fatal("expected an error for an empty access token")
	}
}

func TestShortLivedTokenRenewsAtHalfLife(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		io.WriteString(rw, `{"access_token": "tok-s", "expires_in": 60}`)
	}))
	defer srv.Close()

	tm, err := NewTokenManager(validCreds(), srv.Client(), nil)
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	defer tm.Stop()
	tm.tokenURL = srv.URL

	if _, err := tm.Token(); err != nil {
		t.Fatalf("Token: %v", err)
	}

	tm.mu.RLock()
	expiry := tm.tokenExpiry
	tm.mu.RUnlock()
	if until := time.Until(expiry); until > 35*time.Second || until < 25*time.Second {
		t.Errorf("expiry in %v, want about 30s for a 60s token", until)
	}
}

func TestRotateRollsBackOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		user, _, _ := r.BasicAuth()
		if user != "id" {
			rw.WriteHeader(http.StatusUnauthorized)
			return
		}
		io.WriteString(rw, `{"access_token": "tok-good", "expires_in": 3600}`)
	}))
	defer srv.Close()

	tm, err := NewTokenManager(validCreds(), srv.Client(), nil)
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	defer tm.Stop()
	tm.tokenURL = srv.URL

	if _, err := tm.Token(); err != nil {
		t.Fatalf("initial token: %v", err)
	}

	bad := validCreds()
	bad.ClientID = "wrong"
	if err := tm.Rotate(bad); err == nil {
		t.Fatal("expected rotation with bad credentials to fail")
	}

	tok, err := tm.Token()
	if err != nil {
		t.Fatalf("token after failed rotation: %v", err)
	}
	if tok != "tok-good" {
		t.Errorf("token = %q, want tok-good from the restored credentials", tok)
	}
}

func TestRotateSwapsCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		user, _, _ := r.BasicAuth()
		io.WriteString(rw, `{"access_token": "tok-`+user+`", "expires_in": 3600}`)
	}))
	defer srv.Close()

	tm, err := NewTokenManager(validCreds(), srv.Client(), nil)
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	defer tm.Stop()
	tm.tokenURL = srv.URL

	next := validCreds()
	next.ClientID = "id2"
	if err := tm.Rotate(next); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	tok, err := tm.Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok != "tok-id2" {
		t.Errorf("token = %q, want tok-id2 from the new credentials", tok)
	}
}
