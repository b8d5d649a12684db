package config

import "anisync/models"

// UserConfig is the per-user configuration record owning the credentials and
// policy the sync engine reads at the start of each item. The engine never
// caches it across users.
type UserConfig struct {
	UserID string                `json:"userId"`
	Auth   []models.ProviderAuth `json:"auth,omitempty"`
	Policy models.SyncPolicy     `json:"policy"`
	// SyncProvider selects which tracker's watch-list drives
	// provider-to-local sync.
	SyncProvider models.Provider `json:"syncProvider,omitempty"`
	// AllowNSFW opts the user in to adult-flagged search results.
	AllowNSFW bool `json:"allowNsfw,omitempty"`
}

// AuthFor returns the user's stored credential for a tracker, or nil.
func (u *UserConfig) AuthFor(provider models.Provider) *models.ProviderAuth {
	for i := range u.Auth {
		if u.Auth[i].Provider == provider {
			return &u.Auth[i]
		}
	}
	return nil
}

// AuthenticatedProviders lists the trackers the user holds credentials for.
func (u *UserConfig) AuthenticatedProviders() []models.Provider {
	providers := make([]models.Provider, 0, len(u.Auth))
	for _, a := range u.Auth {
		providers = append(providers, a.Provider)
	}
	return providers
}

// Settings is the persisted plugin configuration for all users.
type Settings struct {
	Users []UserConfig `json:"users"`
}

// UserByID returns the configuration record for a user, or nil.
func (s *Settings) UserByID(userID string) *UserConfig {
	for i := range s.Users {
		if s.Users[i].UserID == userID {
			return &s.Users[i]
		}
	}
	return nil
}
