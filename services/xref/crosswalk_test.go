package xref

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCrosswalkResolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "anidb", r.URL.Query().Get("source"))
		assert.Equal(t, "9756", r.URL.Query().Get("id"))
		fmt.Fprint(w, `{"anidb":9756,"myanimelist":21,"anilist":2928}`)
	}))
	defer srv.Close()

	c := NewCrosswalkClient(srv.URL)

	refs, err := c.Resolve(context.Background(), SourceAniDb, 9756)
	require.NoError(t, err)
	require.NotNil(t, refs.MyAnimeList)
	assert.Equal(t, 21, *refs.MyAnimeList)
	require.NotNil(t, refs.AniList)
	assert.Equal(t, 2928, *refs.AniList)
	assert.Nil(t, refs.Kitsu)
}

func TestCrosswalkResolveNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewCrosswalkClient(srv.URL)

	_, err := c.Resolve(context.Background(), SourceMal, 1)
	assert.True(t, errors.Is(err, ErrNoCrossReference))
}

func TestCrosswalkPartial(t *testing.T) {
	refs := Partial(SourceAniDb, 42)
	require.NotNil(t, refs.AniDb)
	assert.Equal(t, 42, *refs.AniDb)
	assert.Nil(t, refs.MyAnimeList)

	refs = Partial(SourceKitsu, 7)
	require.NotNil(t, refs.Kitsu)
	assert.Equal(t, 7, *refs.Kitsu)
}
