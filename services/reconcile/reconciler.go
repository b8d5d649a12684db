// Package reconcile maps a local (season, episode) pair onto the tracker
// entity that actually covers it, walking the tracker's relation graph for
// later seasons, specials and multi-cour splits.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"anisync/logger"
	"anisync/models"
	"anisync/services/tracker"
)

var (
	// ErrNoSpecialMatch means no special/OVA candidate's title matched the
	// local item name.
	ErrNoSpecialMatch = errors.New("no matching special")
	// ErrMissingRelation means the relation graph ends before reaching the
	// requested season or episode. Guessing past a missing edge would update
	// the wrong entry, so the item is skipped instead.
	ErrMissingRelation = errors.New("missing relation edge")
)

// Resolution is the outcome of a reconcile pass: the tracker entity covering
// the local episode, and the episode number adjusted into that entity's own
// numbering.
type Resolution struct {
	Anime   *models.Anime
	Episode int
}

// Reconciler resolves seasons and episodes against one tracker's relation
// graph. It is stateless; all per-call context travels in the arguments.
type Reconciler struct{}

func New() *Reconciler {
	return &Reconciler{}
}

// specialRelations are the edge types a season-0 item may live behind.
var specialRelations = map[models.RelationType]bool{
	models.RelationSideStory:          true,
	models.RelationAlternativeVersion: true,
	models.RelationAlternativeSetting: true,
}

// Resolve maps (season, episode) of the series rooted at root onto a tracker
// entity. root must carry its relation edges; season 0 resolves through
// special/OVA edges by title, season N>1 through N-1 sequel hops, and an
// episode past the entity's count through multi-cour chasing, completing
// each prior cour along the way.
func (r *Reconciler) Resolve(ctx context.Context, client tracker.Client, sess tracker.Session, root *models.Anime, season, episode int, itemName string) (*Resolution, error) {
	if season == 0 {
		return r.resolveSpecial(ctx, client, sess, root, episode, itemName)
	}

	entity := root
	visited := map[string]bool{root.Key(): true}

	// Season N lives N-1 sequel hops from the season-1 entity.
	for hop := 1; hop < season; hop++ {
		next, err := r.followSequel(ctx, client, sess, entity, visited)
		if err != nil {
			return nil, fmt.Errorf("season %d of %q: %w", season, root.Title, err)
		}
		entity = next
	}

	// Multi-cour chase: the local episode may overflow into a sequel entity.
	// Each exhausted cour is finalized as completed before moving on.
	totalWatched := 0
	for entity.NumEpisodes > 0 && episode-totalWatched > entity.NumEpisodes {
		if err := r.completeCour(ctx, client, sess, entity); err != nil {
			logger.Warnf("[reconcile] could not finalize cour %q: %v", entity.Title, err)
		}

		next, err := r.followSequel(ctx, client, sess, entity, visited)
		if err != nil {
			return nil, fmt.Errorf("episode %d of %q overflows %q: %w", episode, root.Title, entity.Title, err)
		}
		totalWatched += entity.NumEpisodes
		entity = next
	}

	// A currently-airing entity reporting zero episodes cannot be told apart
	// from a multi-cour one, so the season falls back to the root entity.
	if entity.NumEpisodes == 0 && entity.AiringStatus == models.AiringCurrent && entity.Key() != root.Key() {
		logger.Infof("[reconcile] %q is airing with no episode count, resolving %q back to root", entity.Title, root.Title)
		return &Resolution{Anime: root, Episode: episode}, nil
	}

	return &Resolution{Anime: entity, Episode: episode - totalWatched}, nil
}

// resolveSpecial finds the entity behind a season-0 item by walking
// special-type edges and fuzzy-matching the item's display name against each
// candidate's titles. First match wins.
func (r *Reconciler) resolveSpecial(ctx context.Context, client tracker.Client, sess tracker.Session, root *models.Anime, episode int, itemName string) (*Resolution, error) {
	for _, rel := range root.Related {
		if !specialRelations[rel.Relation] {
			continue
		}

		candidate, err := client.GetAnime(ctx, sess, rel.Anime.ID, tracker.GetOptions{
			AlternativeID: rel.Anime.AlternativeID,
		})
		if err != nil {
			logger.Warnf("[reconcile] special candidate %q lookup failed: %v", rel.Anime.Title, err)
			continue
		}

		if titlesMatch(candidate.Titles(), itemName) {
			return &Resolution{Anime: candidate, Episode: episode}, nil
		}
	}
	return nil, fmt.Errorf("special %q of %q: %w", itemName, root.Title, ErrNoSpecialMatch)
}

// followSequel fetches the entity one sequel edge away, refusing to revisit
// entities so a cyclic relation graph terminates instead of looping.
func (r *Reconciler) followSequel(ctx context.Context, client tracker.Client, sess tracker.Session, entity *models.Anime, visited map[string]bool) (*models.Anime, error) {
	related := entity.Related
	if len(related) == 0 {
		// The edge list is only populated by detail fetches.
		full, err := client.GetAnime(ctx, sess, entity.ID, tracker.GetOptions{
			AlternativeID:  entity.AlternativeID,
			IncludeRelated: true,
		})
		if err != nil {
			return nil, fmt.Errorf("fetch relations of %q: %w", entity.Title, err)
		}
		related = full.Related
	}

	for _, rel := range related {
		if rel.Relation != models.RelationSequel {
			continue
		}
		if visited[rel.Anime.Key()] {
			return nil, fmt.Errorf("sequel of %q revisits %q: %w", entity.Title, rel.Anime.Title, ErrMissingRelation)
		}
		visited[rel.Anime.Key()] = true

		next, err := client.GetAnime(ctx, sess, rel.Anime.ID, tracker.GetOptions{
			AlternativeID:  rel.Anime.AlternativeID,
			IncludeRelated: true,
		})
		if err != nil {
			return nil, fmt.Errorf("fetch sequel %q: %w", rel.Anime.Title, err)
		}
		return next, nil
	}
	return nil, ErrMissingRelation
}

// completeCour marks an exhausted cour fully watched before the chase moves
// to its sequel, so the prior entity's list entry is left consistent.
func (r *Reconciler) completeCour(ctx context.Context, client tracker.Client, sess tracker.Session, entity *models.Anime) error {
	if entity.ListStatus != nil &&
		entity.ListStatus.Status == models.StatusCompleted &&
		entity.ListStatus.NumEpisodesWatched >= entity.NumEpisodes {
		return nil
	}

	_, err := client.UpdateAnime(ctx, sess, entity.ID, tracker.UpdateRequest{
		EpisodesWatched: entity.NumEpisodes,
		Status:          models.StatusCompleted,
		AlternativeID:   entity.AlternativeID,
		IsShow:          true,
	})
	return err
}

// titlesMatch reports whether the local item name matches any of the
// candidate titles, ignoring case and symbols.
func titlesMatch(titles []string, itemName string) bool {
	name := normalizeTitle(itemName)
	if name == "" {
		return false
	}
	for _, title := range titles {
		t := normalizeTitle(title)
		if t == "" {
			continue
		}
		if strings.Contains(t, name) || strings.Contains(name, t) || fuzzy.Match(name, t) {
			return true
		}
	}
	return false
}

// normalizeTitle lowercases a title and strips everything but letters and
// digits, so punctuation variants of the same name compare equal.
func normalizeTitle(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
