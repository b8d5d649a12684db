package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/samber/lo"

	"anisync/logger"
	"anisync/models"
	"anisync/services/tracker"
	"anisync/services/xref"
)

// ErrRootNotFound means no tracker entity could be tied to the local series,
// by cross-reference ID or by title search.
var ErrRootNotFound = errors.New("tracker entity not found")

// crossReferences resolves the item's AniDb ID across the tracker ID spaces.
// A crosswalk outage degrades to a single-field record built from the ID we
// already hold, so the item is still syncable on AniDb-compatible paths.
func (s *Service) crossReferences(ctx context.Context, item models.LibraryItem) *models.CrossReferenceIDs {
	if item.AnidbID == nil {
		return &models.CrossReferenceIDs{}
	}

	refs, err := s.crosswalk.Resolve(ctx, xref.SourceAniDb, *item.AnidbID)
	if err != nil {
		if !errors.Is(err, xref.ErrNoCrossReference) {
			logger.Warnf("[sync] crosswalk lookup for anidb %d failed, using partial ids: %v", *item.AnidbID, err)
		}
		return xref.Partial(xref.SourceAniDb, *item.AnidbID)
	}
	return refs
}

// nativeID maps a cross-reference record into one tracker's own ID space.
// Shikimori mirrors MyAnimeList numbering; the ID-keyed trackers have no
// native space here and return nothing.
func nativeID(provider models.Provider, refs *models.CrossReferenceIDs) *int {
	switch provider {
	case models.ProviderMal, models.ProviderShikimori:
		return refs.MyAnimeList
	case models.ProviderAniList:
		return refs.AniList
	case models.ProviderKitsu:
		return refs.Kitsu
	}
	return nil
}

// rootEntity finds the tracker entity for the local series' first season,
// relations included: by native ID when the crosswalk knows one, otherwise
// by title search. ID-keyed trackers match search results on the
// cross-referenced MyAnimeList number instead of the title.
func (s *Service) rootEntity(ctx context.Context, client tracker.Client, sess tracker.Session, item models.LibraryItem, refs *models.CrossReferenceIDs) (*models.Anime, error) {
	provider := client.Name()

	if id := nativeID(provider, refs); id != nil {
		anime, err := client.GetAnime(ctx, sess, *id, tracker.GetOptions{IncludeRelated: true})
		if err != nil {
			return nil, fmt.Errorf("get %s entity %d: %w", provider, *id, err)
		}
		return anime, nil
	}

	results, err := client.SearchAnime(ctx, sess, item.SeriesName)
	if err != nil {
		return nil, fmt.Errorf("search %s for %q: %w", provider, item.SeriesName, err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%s search for %q: %w", provider, item.SeriesName, ErrRootNotFound)
	}

	match, err := pickSearchResult(provider, item, refs, results)
	if err != nil {
		return nil, err
	}

	// Re-fetch for relation edges and the caller's own list status.
	anime, err := client.GetAnime(ctx, sess, match.ID, tracker.GetOptions{
		AlternativeID:  match.AlternativeID,
		IncludeRelated: true,
	})
	if err != nil {
		return nil, fmt.Errorf("get %s entity %q: %w", provider, match.Title, err)
	}
	return anime, nil
}

func pickSearchResult(provider models.Provider, item models.LibraryItem, refs *models.CrossReferenceIDs, results []models.Anime) (*models.Anime, error) {
	if provider.UsesAlternativeID() {
		// Title search is unreliable on these trackers; only an exact
		// MyAnimeList ID match counts.
		if refs.MyAnimeList == nil {
			return nil, fmt.Errorf("%s needs a myanimelist cross reference for %q: %w", provider, item.SeriesName, ErrRootNotFound)
		}
		match, ok := lo.Find(results, func(a models.Anime) bool {
			return a.ID == *refs.MyAnimeList
		})
		if !ok {
			return nil, fmt.Errorf("%s search for %q matched no mal id %d: %w", provider, item.SeriesName, *refs.MyAnimeList, ErrRootNotFound)
		}
		return &match, nil
	}

	matches := lo.Filter(results, func(a models.Anime, _ int) bool {
		return lo.SomeBy(a.Titles(), func(title string) bool {
			return fuzzy.MatchNormalizedFold(item.SeriesName, title)
		})
	})
	if len(matches) > 0 {
		return &matches[0], nil
	}
	// Trackers rank search results by relevance, so the head is the best
	// remaining guess.
	return &results[0], nil
}
