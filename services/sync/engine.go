// Package sync decides and applies watch-progress mutations against a
// tracker, and drives the bulk jobs that keep a library and a tracker
// watch-list aligned in either direction.
package sync

import (
	"context"
	"time"

	"anisync/logger"
	"anisync/models"
	"anisync/services/tracker"
)

// Engine turns a resolved tracker entity plus a target episode into the
// correct list mutation under the user's policy. The clock is injectable so
// date-stamping is testable.
type Engine struct {
	now func() time.Time
}

func NewEngine() *Engine {
	return &Engine{now: time.Now}
}

// Apply evaluates the transition rules in order, first match wins, and
// performs the resulting update. refs, when known, travel along so ID-keyed
// trackers can identify the entry. A nil result with nil error means the
// item was deliberately skipped.
func (e *Engine) Apply(ctx context.Context, client tracker.Client, sess tracker.Session, anime *models.Anime, episode int, refs *models.CrossReferenceIDs, policy models.SyncPolicy) (*models.UpdateResult, error) {
	status := anime.ListStatus

	if status != nil && status.Status == models.StatusWatching {
		return e.progress(ctx, client, sess, anime, episode, refs, false)
	}

	if policy.PlanToWatchOnly {
		if status != nil && status.Status == models.StatusPlanToWatch {
			return e.progress(ctx, client, sess, anime, episode, refs, false)
		}
		if policy.RewatchCompleted && status != nil && status.Status == models.StatusCompleted {
			return e.progress(ctx, client, sess, anime, episode, refs, true)
		}
		logger.Infof("[sync] %q not eligible under plan-to-watch policy, skipping", anime.Title)
		return nil, nil
	}

	if status != nil && status.Status == models.StatusCompleted {
		if status.NumEpisodesWatched < episode && policy.RewatchCompleted {
			return e.progress(ctx, client, sess, anime, episode, refs, true)
		}
		if !policy.RewatchCompleted {
			logger.Infof("[sync] %q already completed and rewatch sync is off, skipping", anime.Title)
			return nil, nil
		}
	}

	return e.progress(ctx, client, sess, anime, episode, refs, false)
}

// progress performs the §4.5a-style update: pick completed, rewatching or
// watching from the episode position, stamp first-completion dates, and
// guard against regressing remote progress.
func (e *Engine) progress(ctx context.Context, client tracker.Client, sess tracker.Session, anime *models.Anime, episode int, refs *models.CrossReferenceIDs, rewatch bool) (*models.UpdateResult, error) {
	status := anime.ListStatus

	// Out-of-order event delivery must never move progress backwards.
	if status != nil && status.NumEpisodesWatched >= episode && !rewatch {
		logger.Debugf("[sync] %q already at episode %d, nothing to do", anime.Title, status.NumEpisodesWatched)
		return nil, nil
	}

	req := tracker.UpdateRequest{
		EpisodesWatched: episode,
		AlternativeID:   anime.AlternativeID,
		CrossRefs:       refs,
		IsShow:          anime.NumEpisodes != 1,
	}

	finished := anime.NumEpisodes == 1 || (anime.NumEpisodes > 0 && episode >= anime.NumEpisodes)
	alreadyRewatching := status != nil && (status.IsRewatching || status.Status == models.StatusRewatching)

	switch {
	case finished:
		req.Status = models.StatusCompleted
		firstCompletion := status == nil ||
			(status.Status != models.StatusCompleted && !alreadyRewatching)
		if firstCompletion {
			now := e.now()
			req.StartDate = &now
			req.EndDate = &now
		}
		if rewatch || alreadyRewatching {
			count := 1
			if status != nil {
				count = status.RewatchCount + 1
			}
			req.RewatchCount = &count
		}

	case rewatch || alreadyRewatching:
		// Each client maps the rewatch state onto its own semantics.
		req.Status = models.StatusRewatching

	default:
		req.Status = models.StatusWatching
		if episode == 1 {
			now := e.now()
			req.StartDate = &now
		}
	}

	result, err := client.UpdateAnime(ctx, sess, anime.ID, req)
	if err != nil {
		return nil, err
	}
	logger.Infof("[sync] %s: %q -> %s at episode %d", client.Name(), anime.Title, result.Status, result.NumEpisodesWatched)
	return result, nil
}
