// Package tracker exposes six anime trackers through one capability
// interface, with authenticated calls, throttling and retry handled by a
// shared executor.
package tracker

import (
	"context"
	"fmt"
	"time"

	"anisync/models"
)

// maxPages bounds list pagination so a misbehaving cursor cannot loop forever.
const maxPages = 10

// Session carries the per-user call context resolved once per invocation.
type Session struct {
	UserID    string
	AllowNSFW bool
}

// GetOptions modifies a GetAnime lookup.
type GetOptions struct {
	// AlternativeID addresses trackers whose entities are keyed by an opaque
	// string rather than a number.
	AlternativeID string
	// IncludeRelated requests the relation graph edges of the entity.
	IncludeRelated bool
}

// UpdateRequest is a list-entry mutation. Nil optional fields are left
// untouched on the remote entry.
type UpdateRequest struct {
	EpisodesWatched int
	Status          models.AnimeStatus
	IsRewatching    *bool
	RewatchCount    *int
	StartDate       *time.Time
	EndDate         *time.Time
	AlternativeID   string
	CrossRefs       *models.CrossReferenceIDs
	IsShow          bool
}

// Client is the uniform capability contract every tracker implements.
type Client interface {
	Name() models.Provider
	SearchAnime(ctx context.Context, sess Session, query string) ([]models.Anime, error)
	GetAnime(ctx context.Context, sess Session, id int, opts GetOptions) (*models.Anime, error)
	UpdateAnime(ctx context.Context, sess Session, id int, req UpdateRequest) (*models.UpdateResult, error)
	GetAnimeList(ctx context.Context, sess Session, status models.AnimeStatus) ([]models.Anime, error)
	GetUser(ctx context.Context, sess Session) (*models.User, error)
}

// Registry resolves a provider name to its capability client once per
// invocation, replacing per-call enum switches.
type Registry struct {
	clients map[models.Provider]Client
}

// NewRegistry builds the registry over all six trackers sharing one executor.
func NewRegistry(exec *Executor) *Registry {
	clients := []Client{
		NewMalClient(exec),
		NewAniListClient(exec),
		NewKitsuClient(exec),
		NewAnnictClient(exec),
		NewShikimoriClient(exec),
		NewSimklClient(exec),
	}

	r := &Registry{clients: make(map[models.Provider]Client, len(clients))}
	for _, c := range clients {
		r.clients[c.Name()] = c
	}
	return r
}

// Client returns the capability client for a provider.
func (r *Registry) Client(provider models.Provider) (Client, error) {
	c, ok := r.clients[provider]
	if !ok {
		return nil, fmt.Errorf("no client registered for provider %q", provider)
	}
	return c, nil
}

// filterNSFW drops adult-flagged entries from search results unless the user
// has opted in.
func filterNSFW(sess Session, animes []models.Anime) []models.Anime {
	if sess.AllowNSFW {
		return animes
	}
	kept := animes[:0]
	for _, a := range animes {
		if !a.NSFW {
			kept = append(kept, a)
		}
	}
	return kept
}
