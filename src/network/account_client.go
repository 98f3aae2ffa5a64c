package network

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"tick-relay/src/helpers"
	"tick-relay/src/logger"
	"tick-relay/src/models"
)

// -----------------------------------------------------------------------------
// AccountClient talks to the account service over HTTP. It resolves session
// tokens to user ids and fills in instrument display names when the local
// master table has no entry.
// -----------------------------------------------------------------------------

type AccountClient struct {
	Config *models.MConfig
	Client *http.Client
	Logger *logger.Logger

	mu         sync.RWMutex
	tokenCache map[string]cachedIdentity
}

type cachedIdentity struct {
	userID    string
	expiresAt time.Time
}

const identityCacheTTL = 5 * time.Minute

// -----------------------------------------------------------------------------

func NewAccountClient(cfg *models.MConfig, log *logger.Logger) *AccountClient {
	return &AccountClient{
		Config: cfg,
		Client: &http.Client{
			Timeout: time.Duration(cfg.Account.RequestTimeout) * time.Second,
		},
		Logger:     log,
		tokenCache: make(map[string]cachedIdentity),
	}
}

// -----------------------------------------------------------------------------

// Resolve maps a session token to a user id. Successful lookups are cached
// briefly so a burst of websocket reconnects does not hammer the account
// service.
func (ac *AccountClient) Resolve(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", helpers.NewValidationError("empty session token", nil)
	}

	ac.mu.RLock()
	if cached, ok := ac.tokenCache[token]; ok && time.Now().Before(cached.expiresAt) {
		ac.mu.RUnlock()
		return cached.userID, nil
	}
	ac.mu.RUnlock()

	body, err := ac.get("/v1/sessions/me", map[string]string{}, token)
	if err != nil {
		return "", err
	}

	var payload struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", helpers.NewUpstreamError("malformed identity response", err)
	}
	if payload.UserID == "" {
		return "", helpers.NewValidationError("token not recognized", nil)
	}

	ac.mu.Lock()
	ac.tokenCache[token] = cachedIdentity{
		userID:    payload.UserID,
		expiresAt: time.Now().Add(identityCacheTTL),
	}
	ac.mu.Unlock()

	return payload.UserID, nil
}

// -----------------------------------------------------------------------------

// InstrumentName fetches the display name for a code. Returns "" when the
// account service has no record; callers fall back to the raw code.
func (ac *AccountClient) InstrumentName(code string) string {
	body, err := ac.get("/v1/instruments/"+url.PathEscape(code), map[string]string{}, "")
	if err != nil {
		ac.Logger.Debug("Instrument name lookup failed for %s: %v", code, err)
		return ""
	}

	var payload struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Name
}

// -----------------------------------------------------------------------------

// get performs a GET request with retries against the account service.
func (ac *AccountClient) get(path string, params map[string]string, bearer string) ([]byte, error) {
	reqUrl, err := url.Parse(ac.Config.Account.BaseURL + path)
	if err != nil {
		return nil, err
	}

	q := reqUrl.Query()
	for k, v := range params {
		q.Add(k, v)
	}
	reqUrl.RawQuery = q.Encode()

	finalUrl := reqUrl.String()

	maxRetries := ac.Config.Account.MaxRetries
	var lastErr error

	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			time.Sleep(time.Duration(i*i) * time.Second) // Exponential backoff
		}

		req, err := http.NewRequest("GET", finalUrl, nil)
		if err != nil {
			return nil, err
		}
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}

		resp, err := ac.Client.Do(req)
		if err != nil {
			lastErr = err
			ac.Logger.Info("Account request failed (attempt %d/%d): %v", i+1, maxRetries+1, err)
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusNotFound {
			// Not transient, do not retry
			return nil, helpers.NewValidationError(fmt.Sprintf("account service returned %d", resp.StatusCode), nil)
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("account service returned %d", resp.StatusCode)
			continue
		}
		if readErr != nil {
			lastErr = readErr
			continue
		}

		return body, nil
	}

	return nil, helpers.NewUpstreamError("account service unavailable", lastErr)
}
