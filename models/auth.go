package models

// ProviderAuth holds one user's credentials for one tracker. Created on a
// successful OAuth or password exchange, mutated in place on token refresh,
// and deleted only on explicit de-authentication.
type ProviderAuth struct {
	Provider     Provider `json:"provider"`
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken,omitempty"`
}

// SyncPolicy controls how watched episodes are pushed to a user's trackers.
type SyncPolicy struct {
	// PlanToWatchOnly restricts new progress to shows already marked
	// plan-to-watch on the tracker.
	PlanToWatchOnly bool `json:"planToWatchOnly"`
	// RewatchCompleted re-opens completed entries as rewatching instead of
	// skipping them.
	RewatchCompleted bool `json:"rewatchCompleted"`
	// LibraryFilter, when non-empty, limits local-to-provider sync to the
	// listed local series IDs.
	LibraryFilter []string `json:"libraryFilter,omitempty"`
}

// InLibraryFilter reports whether the series passes the policy's filter.
// An empty filter admits everything.
func (p SyncPolicy) InLibraryFilter(seriesID string) bool {
	if len(p.LibraryFilter) == 0 {
		return true
	}
	for _, id := range p.LibraryFilter {
		if id == seriesID {
			return true
		}
	}
	return false
}
