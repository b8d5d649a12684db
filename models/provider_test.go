package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProvider(t *testing.T) {
	p, err := ParseProvider("shikimori")
	require.NoError(t, err)
	assert.Equal(t, ProviderShikimori, p)

	_, err = ParseProvider("trakt")
	assert.Error(t, err)
}

func TestUsesAlternativeID(t *testing.T) {
	assert.True(t, ProviderAnnict.UsesAlternativeID())
	assert.True(t, ProviderSimkl.UsesAlternativeID())
	assert.False(t, ProviderMal.UsesAlternativeID())
	assert.False(t, ProviderAniList.UsesAlternativeID())
}

func TestProviderUnmarshalRejectsUnknown(t *testing.T) {
	var p Provider
	require.NoError(t, json.Unmarshal([]byte(`"kitsu"`), &p))
	assert.Equal(t, ProviderKitsu, p)

	err := json.Unmarshal([]byte(`"letterboxd"`), &p)
	assert.Error(t, err)
}

func TestAnimeKey(t *testing.T) {
	a := Anime{ID: 42}
	assert.Equal(t, "42", a.Key())

	a.AlternativeID = "ab12"
	assert.Equal(t, "ab12", a.Key())
}
