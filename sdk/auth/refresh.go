package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kwanLeeFrmVi/9router/internal/registry"
	log "github.com/sirupsen/logrus"
)

// refreshSkew is the expiry buffer: a token within this window of expiry is
// refreshed before dispatch rather than left to fail on the provider.
const refreshSkew = 5 * time.Minute

type oauthTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// RefreshIfNeeded refreshes connID's OAuth token in place when it is within
// refreshSkew of expiry, persisting the result. A refresh failure is logged
// and swallowed: the caller proceeds with the possibly-stale token, and the
// subsequent 401 drives normal fallback (spec.md §4.4).
func (p *Pool) RefreshIfNeeded(ctx context.Context, client *http.Client, machineID, connID string) error {
	mu := p.locks.forMachine(machineID)
	mu.Lock()
	defer mu.Unlock()

	data, err := p.store.Load(ctx, machineID)
	if err != nil {
		return err
	}
	conn, ok := data.Providers[connID]
	if !ok || conn == nil || conn.RefreshToken == "" {
		return nil
	}
	if conn.ExpiresAt.IsZero() || time.Until(conn.ExpiresAt) >= refreshSkew {
		return nil
	}

	prov, ok := registry.Lookup(conn.Provider)
	if !ok || prov.RefreshURL == "" {
		return nil
	}

	token, err := doOAuthRefresh(ctx, client, prov, conn.RefreshToken)
	if err != nil {
		log.WithError(err).WithField("connection", connID).Warn("auth: token refresh failed, proceeding with current token")
		return nil
	}

	conn.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		conn.RefreshToken = token.RefreshToken
	}
	conn.ExpiresAt = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
	return p.store.Save(ctx, data)
}

func doOAuthRefresh(ctx context.Context, client *http.Client, prov registry.Provider, refreshToken string) (*oauthTokenResponse, error) {
	if client == nil {
		client = http.DefaultClient
	}
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	if prov.ClientID != "" {
		form.Set("client_id", prov.ClientID)
	}
	if prov.ClientSecret != "" {
		form.Set("client_secret", prov.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, prov.RefreshURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &oauthRefreshError{status: resp.StatusCode, body: string(body)}
	}
	var out oauthTokenResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type oauthRefreshError struct {
	status int
	body   string
}

func (e *oauthRefreshError) Error() string {
	return "oauth refresh failed: status " + http.StatusText(e.status) + ": " + e.body
}
