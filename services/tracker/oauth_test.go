package tracker

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anisync/models"
)

func TestOAuthRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "old-refresh", r.PostForm.Get("refresh_token"))
		assert.Equal(t, "client", r.PostForm.Get("client_id"))
		fmt.Fprint(w, `{"access_token":"new-access","refresh_token":"new-refresh"}`)
	}))
	defer srv.Close()

	src := NewOAuthTokenSource(map[models.Provider]OAuthConfig{
		models.ProviderMal: {TokenURL: srv.URL, ClientID: "client"},
	})

	auth, err := src.Refresh(context.Background(), models.ProviderMal, "old-refresh")
	require.NoError(t, err)
	assert.Equal(t, "new-access", auth.AccessToken)
	assert.Equal(t, "new-refresh", auth.RefreshToken)
	assert.Equal(t, models.ProviderMal, auth.Provider)
}

func TestOAuthRefreshRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	src := NewOAuthTokenSource(map[models.Provider]OAuthConfig{
		models.ProviderMal: {TokenURL: srv.URL, ClientID: "client"},
	})

	_, err := src.Refresh(context.Background(), models.ProviderMal, "stale")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestOAuthRefreshRequiresConfigAndToken(t *testing.T) {
	src := NewOAuthTokenSource(nil)
	_, err := src.Refresh(context.Background(), models.ProviderMal, "tok")
	assert.Error(t, err)

	src = NewOAuthTokenSource(map[models.Provider]OAuthConfig{
		models.ProviderMal: {TokenURL: "http://localhost", ClientID: "client"},
	})
	_, err = src.Refresh(context.Background(), models.ProviderMal, "")
	assert.Error(t, err)
}
