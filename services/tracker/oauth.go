package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"anisync/models"
)

// OAuthConfig holds one tracker's token endpoint and client credentials.
// The authorization-code exchange lives with the host; this source only
// serves the executor's refresh-on-401 path.
type OAuthConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
}

// DefaultTokenURLs lists the token endpoints of the supported trackers.
// Client credentials come from host configuration.
var DefaultTokenURLs = map[models.Provider]string{
	models.ProviderMal:       "https://myanimelist.net/v1/oauth2/token",
	models.ProviderAniList:   "https://anilist.co/api/v2/oauth/token",
	models.ProviderKitsu:     "https://kitsu.io/api/oauth/token",
	models.ProviderAnnict:    "https://api.annict.com/oauth/token",
	models.ProviderShikimori: "https://shikimori.one/oauth/token",
	models.ProviderSimkl:     "https://api.simkl.com/oauth/token",
}

// OAuthTokenSource refreshes access tokens against each tracker's token
// endpoint.
type OAuthTokenSource struct {
	httpc   *http.Client
	configs map[models.Provider]OAuthConfig
}

func NewOAuthTokenSource(configs map[models.Provider]OAuthConfig) *OAuthTokenSource {
	return &OAuthTokenSource{
		httpc:   &http.Client{Timeout: 15 * time.Second},
		configs: configs,
	}
}

// Refresh exchanges a refresh token for fresh credentials. Trackers may or
// may not rotate the refresh token; an absent one in the response leaves the
// stored token in place (the executor keeps the old value).
func (s *OAuthTokenSource) Refresh(ctx context.Context, provider models.Provider, refreshToken string) (*models.ProviderAuth, error) {
	cfg, ok := s.configs[provider]
	if !ok {
		return nil, fmt.Errorf("no oauth config for provider %q", provider)
	}
	if refreshToken == "" {
		return nil, fmt.Errorf("%s: no refresh token stored", provider)
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", cfg.ClientID)
	if cfg.ClientSecret != "" {
		form.Set("client_secret", cfg.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s token refresh: %w", provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, fmt.Errorf("%s token refresh: status %d: %s", provider, resp.StatusCode, string(body))
	}

	var token struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("%s decode token response: %w", provider, err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("%s token response carried no access token", provider)
	}

	return &models.ProviderAuth{
		Provider:     provider,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}, nil
}
