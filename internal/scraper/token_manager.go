package scraper

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/reddit-scraper-fleet/internal/httpx"
	"github.com/onnwee/reddit-scraper-fleet/internal/secrets"
)

const defaultTokenURL = "https://www.reddit.com/api/v1/access_token"

// Credentials is one Reddit script-app credential set. The control plane
// seals the JSON form of this document into the scraper record; the worker
// opens it at startup.
type Credentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	UserAgent    string `json:"user_agent"`
}

// Validate checks that every field a password grant needs is present.
func (c Credentials) Validate() error {
	switch {
	case c.ClientID == "":
		return fmt.Errorf("client_id is required")
	case c.ClientSecret == "":
		return fmt.Errorf("client_secret is required")
	case c.Username == "":
		return fmt.Errorf("username is required")
	case c.Password == "":
		return fmt.Errorf("password is required")
	}
	return nil
}

// TokenManager handles the OAuth token lifecycle with proactive refresh.
// Each worker owns one, bound to its scraper's credential set.
type TokenManager struct {
	mu           sync.RWMutex
	accessToken  string
	tokenExpiry  time.Time
	refreshTimer *time.Timer

	// credentials - can be updated for rotation
	creds Credentials

	client   *http.Client
	tokenURL string
	pre      httpx.PreAttempt
}

// NewTokenManager validates creds and prepares a manager. client should be
// the worker's counted client so token traffic is billed and paced like
// everything else; pre is the pacing hook applied to token requests.
func NewTokenManager(creds Credentials, client *http.Client, pre httpx.PreAttempt) (*TokenManager, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	log.Printf("✓ OAuth credentials validated (client_id: %s, user: %s)",
		secrets.Mask(creds.ClientID), creds.Username)
	return &TokenManager{
		creds:    creds,
		client:   client,
		tokenURL: defaultTokenURL,
		pre:      pre,
	}, nil
}

// Token returns a valid access token, refreshing if necessary.
func (tm *TokenManager) Token() (string, error) {
	tm.mu.RLock()
	// Valid token with 60s buffer left
	if tm.accessToken != "" && time.Now().Add(60*time.Second).Before(tm.tokenExpiry) {
		token := tm.accessToken
		tm.mu.RUnlock()
		return token, nil
	}
	tm.mu.RUnlock()

	tm.mu.Lock()
	defer tm.mu.Unlock()

	// Double-check after acquiring write lock
	if tm.accessToken != "" && time.Now().Add(60*time.Second).Before(tm.tokenExpiry) {
		return tm.accessToken, nil
	}

	return tm.refreshLocked()
}

// refreshLocked fetches a new access token via the password grant. Must be
// called with the write lock held.
func (tm *TokenManager) refreshLocked() (string, error) {
	data := url.Values{}
	data.Set("grant_type", "password")
	data.Set("username", tm.creds.Username)
	data.Set("password", tm.creds.Password)
	data.Set("scope", "read")

	build := func() (*http.Request, error) {
		req, _ := http.NewRequest("POST", tm.tokenURL, strings.NewReader(data.Encode()))
		req.SetBasicAuth(tm.creds.ClientID, tm.creds.ClientSecret)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("User-Agent", tm.creds.UserAgent)
		return req, nil
	}

	resp, err := httpx.DoWithRetryFactory(tm.client, build, tm.pre)
	if err != nil {
		// Never put credentials in error output
		log.Printf("⚠️ Failed to request access token: %v", err)
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		log.Printf("⚠️ Token request failed with status: %s", resp.Status)
		return "", fmt.Errorf("token request failed: %s", resp.Status)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		log.Printf("⚠️ Failed to decode token response: %v", err)
		return "", err
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("received empty access token")
	}

	tm.accessToken = tokenResp.AccessToken
	expiryDuration := time.Duration(tokenResp.ExpiresIn) * time.Second
	if expiryDuration > 120*time.Second {
		expiryDuration -= 60 * time.Second // renew 60s early
	} else {
		expiryDuration = expiryDuration / 2 // short-lived tokens renew at half-life
	}
	tm.tokenExpiry = time.Now().Add(expiryDuration)

	if tm.refreshTimer != nil {
		tm.refreshTimer.Stop()
	}
	tm.refreshTimer = time.AfterFunc(expiryDuration, func() {
		tm.mu.Lock()
		defer tm.mu.Unlock()
		log.Printf("🔄 Proactively refreshing OAuth token")
		if _, err := tm.refreshLocked(); err != nil {
			log.Printf("⚠️ Proactive token refresh failed: %v", err)
		} else {
			log.Printf("✓ Token refreshed successfully")
		}
	})

	log.Printf("✓ Obtained access token (expires in %v)", expiryDuration)
	return tm.accessToken, nil
}

// Rotate swaps in a new credential set without downtime. On authentication
// failure the old set is restored.
func (tm *TokenManager) Rotate(creds Credentials) error {
	if err := creds.Validate(); err != nil {
		return err
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()

	old := tm.creds
	tm.creds = creds

	if _, err := tm.refreshLocked(); err != nil {
		tm.creds = old
		return fmt.Errorf("failed to authenticate with new credentials: %w", err)
	}

	log.Printf("✓ Credentials rotated successfully (old: %s, new: %s)",
		secrets.Mask(old.ClientID), secrets.Mask(creds.ClientID))
	return nil
}

// Stop cancels the proactive refresh timer.
func (tm *TokenManager) Stop() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.refreshTimer != nil {
		tm.refreshTimer.Stop()
		tm.refreshTimer = nil
	}
}
