package models

import (
	"encoding/json"
	"fmt"
)

// Provider identifies one of the supported anime trackers.
type Provider string

const (
	ProviderMal       Provider = "mal"
	ProviderAniList   Provider = "anilist"
	ProviderKitsu     Provider = "kitsu"
	ProviderAnnict    Provider = "annict"
	ProviderShikimori Provider = "shikimori"
	ProviderSimkl     Provider = "simkl"
)

// Providers lists every supported tracker in registry order.
func Providers() []Provider {
	return []Provider{
		ProviderMal,
		ProviderAniList,
		ProviderKitsu,
		ProviderAnnict,
		ProviderShikimori,
		ProviderSimkl,
	}
}

// ParseProvider validates a provider name from configuration or API input.
func ParseProvider(name string) (Provider, error) {
	p := Provider(name)
	switch p {
	case ProviderMal, ProviderAniList, ProviderKitsu, ProviderAnnict, ProviderShikimori, ProviderSimkl:
		return p, nil
	}
	return "", fmt.Errorf("unknown provider %q", name)
}

// UsesAlternativeID reports whether the tracker keys entities by an opaque
// string ID rather than a number. Search matching for these providers is done
// by cross-referenced MyAnimeList ID equality, not by title comparison.
func (p Provider) UsesAlternativeID() bool {
	return p == ProviderAnnict || p == ProviderSimkl
}

// UnmarshalJSON validates the provider name when decoding settings.
func (p *Provider) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseProvider(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
