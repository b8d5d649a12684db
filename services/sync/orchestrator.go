package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"anisync/config"
	"anisync/logger"
	"anisync/models"
	"anisync/services/tracker"
	"anisync/services/xref"
)

// syncFromLocal walks every local series and pushes the highest played
// episode per season, sleeping between series to stay under tracker rate
// limits.
func (s *Service) syncFromLocal(ctx context.Context, passID string, user *config.UserConfig) error {
	series, err := s.library.Series(ctx, user.UserID)
	if err != nil {
		return fmt.Errorf("list library series: %w", err)
	}

	logger.Infof("[sync] pass %s: pushing %d local series to trackers for user %s", passID, len(series), user.UserID)

	first := true
	for _, sr := range series {
		if !user.Policy.InLibraryFilter(sr.ID) {
			continue
		}
		if !first {
			s.sleep(ctx, interItemDelay)
		}
		first = false

		for _, season := range sr.Seasons {
			highest := season.HighestPlayed()
			if highest == 0 {
				continue
			}
			s.updateItem(ctx, passID, user, models.LibraryItem{
				SeriesID:      sr.ID,
				SeriesName:    sr.Name,
				ItemName:      episodeName(season, highest),
				SeasonNumber:  season.Number,
				EpisodeNumber: highest,
				AnidbID:       sr.AnidbID,
			})
		}
	}
	return nil
}

// syncFromProvider replays the tracker watch-list onto the local library.
// statuses narrows which lists are fetched; nil means completed and
// watching, the two that carry progress worth mirroring.
func (s *Service) syncFromProvider(ctx context.Context, passID string, user *config.UserConfig, statuses []models.AnimeStatus) error {
	if user.SyncProvider == "" {
		return errors.New("no sync provider configured")
	}
	client, err := s.registry.Client(user.SyncProvider)
	if err != nil {
		return err
	}
	if len(statuses) == 0 {
		statuses = []models.AnimeStatus{models.StatusCompleted, models.StatusWatching}
	}

	sess := s.session(user)
	var entries []models.Anime
	for _, status := range statuses {
		page, err := client.GetAnimeList(ctx, sess, status)
		if err != nil {
			return fmt.Errorf("fetch %s %s list: %w", user.SyncProvider, status, err)
		}
		entries = append(entries, page...)
	}

	logger.Infof("[sync] pass %s: mirroring %d %s entries for user %s", passID, len(entries), user.SyncProvider, user.UserID)

	now := time.Now()
	for i, entry := range entries {
		if i > 0 {
			s.sleep(ctx, interItemDelay)
		}
		if err := s.mirrorEntry(ctx, sess, user, entry, now); err != nil {
			logger.Warnf("[sync] pass %s: %q: %v", passID, entry.Title, err)
		}
	}
	return nil
}

// mirrorEntry writes one tracker entry's progress onto the local library.
func (s *Service) mirrorEntry(ctx context.Context, sess tracker.Session, user *config.UserConfig, entry models.Anime, now time.Time) error {
	if entry.ListStatus == nil {
		return nil
	}
	watched := entry.ListStatus.NumEpisodesWatched
	if watched == 0 && entry.ListStatus.Status == models.StatusCompleted {
		watched = entry.NumEpisodes
	}
	if watched == 0 {
		return nil
	}

	source, id, err := crosswalkSource(user.SyncProvider, entry)
	if err != nil {
		return err
	}
	refs, err := s.crosswalk.Resolve(ctx, source, id)
	if err != nil {
		return fmt.Errorf("crosswalk %s %d: %w", source, id, err)
	}
	if refs.AniDb == nil {
		return fmt.Errorf("no anidb mapping for %s %d", source, id)
	}

	row, err := s.seasons.ResolveSeason(ctx, *refs.AniDb, 1)
	if err != nil {
		return fmt.Errorf("season mapping for anidb %d: %w", *refs.AniDb, err)
	}

	return s.library.MarkPlayed(ctx, user.UserID, PlayedUpdate{
		AnidbID:     *refs.AniDb,
		TvdbID:      row.TvdbID,
		Season:      row.DefaultSeason,
		UpToEpisode: row.Offset() + watched,
		At:          now,
	})
}

// crosswalkSource picks the ID space a tracker entry's identifier lives in.
// The ID-keyed trackers already carry a cross-referenced MyAnimeList number
// as their normalized ID, and Shikimori shares MyAnimeList numbering.
func crosswalkSource(provider models.Provider, entry models.Anime) (xref.Source, int, error) {
	if entry.ID == 0 {
		return "", 0, fmt.Errorf("entry %q has no usable id", entry.Title)
	}
	switch provider {
	case models.ProviderAniList:
		return xref.SourceAniList, entry.ID, nil
	case models.ProviderKitsu:
		return xref.SourceKitsu, entry.ID, nil
	default:
		return xref.SourceMal, entry.ID, nil
	}
}

func episodeName(season models.Season, number int) string {
	for _, ep := range season.Episodes {
		if ep.Number == number {
			return ep.Name
		}
	}
	return ""
}
