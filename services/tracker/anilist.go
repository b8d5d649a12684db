package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"anisync/models"
)

const anilistBaseURL = "https://graphql.anilist.co"

const anilistMediaFields = `
id
title { romaji english native }
synonyms
episodes
status
isAdult
mediaListEntry { status progress repeat }
`

const anilistSearchQuery = `
query ($query: String, $page: Int) {
  Page(page: $page, perPage: 50) {
    pageInfo { hasNextPage }
    media(search: $query, type: ANIME) {` + anilistMediaFields + `}
  }
}`

const anilistGetQuery = `
query ($id: Int) {
  Media(id: $id, type: ANIME) {` + anilistMediaFields + `
    relations {
      edges {
        relationType
        node {` + anilistMediaFields + `}
      }
    }
  }
}`

const anilistUpdateMutation = `
mutation ($mediaId: Int, $status: MediaListStatus, $progress: Int, $repeat: Int, $startedAt: FuzzyDateInput, $completedAt: FuzzyDateInput) {
  SaveMediaListEntry(mediaId: $mediaId, status: $status, progress: $progress, repeat: $repeat, startedAt: $startedAt, completedAt: $completedAt) {
    status
    progress
    repeat
  }
}`

const anilistListQuery = `
query ($userId: Int, $status: MediaListStatus, $page: Int) {
  Page(page: $page, perPage: 50) {
    pageInfo { hasNextPage }
    mediaList(userId: $userId, status: $status, type: ANIME) {
      status
      progress
      repeat
      media {` + anilistMediaFields + `}
    }
  }
}`

const anilistViewerQuery = `query { Viewer { id name } }`

// AniListClient talks to the AniList GraphQL API.
type AniListClient struct {
	exec    *Executor
	baseURL string
}

func NewAniListClient(exec *Executor) *AniListClient {
	return &AniListClient{exec: exec, baseURL: anilistBaseURL}
}

func (c *AniListClient) Name() models.Provider { return models.ProviderAniList }

type anilistListEntry struct {
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Repeat   int    `json:"repeat"`
}

type anilistMedia struct {
	ID    int `json:"id"`
	Title struct {
		Romaji  string `json:"romaji"`
		English string `json:"english"`
		Native  string `json:"native"`
	} `json:"title"`
	Synonyms       []string          `json:"synonyms"`
	Episodes       int               `json:"episodes"`
	Status         string            `json:"status"`
	IsAdult        bool              `json:"isAdult"`
	MediaListEntry *anilistListEntry `json:"mediaListEntry"`
	Relations      *struct {
		Edges []struct {
			RelationType string       `json:"relationType"`
			Node         anilistMedia `json:"node"`
		} `json:"edges"`
	} `json:"relations"`
}

// gql posts a GraphQL query and decodes the "data" envelope into out.
func (c *AniListClient) gql(ctx context.Context, sess Session, query string, variables map[string]interface{}, out interface{}) error {
	payload, err := json.Marshal(map[string]interface{}{
		"query":     query,
		"variables": variables,
	})
	if err != nil {
		return fmt.Errorf("marshal query: %w", err)
	}

	header := map[string]string{"Content-Type": "application/json", "Accept": "application/json"}
	body, err := c.exec.Call(ctx, sess.UserID, models.ProviderAniList, http.MethodPost, c.baseURL, payload, header)
	if err != nil {
		return err
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("graphql error: %s", envelope.Errors[0].Message)
	}
	return json.Unmarshal(envelope.Data, out)
}

func (c *AniListClient) SearchAnime(ctx context.Context, sess Session, query string) ([]models.Anime, error) {
	var animes []models.Anime

	for page := 1; page <= maxPages; page++ {
		var result struct {
			Page struct {
				PageInfo struct {
					HasNextPage bool `json:"hasNextPage"`
				} `json:"pageInfo"`
				Media []anilistMedia `json:"media"`
			} `json:"Page"`
		}
		vars := map[string]interface{}{"query": query, "page": page}
		if err := c.gql(ctx, sess, anilistSearchQuery, vars, &result); err != nil {
			return nil, fmt.Errorf("anilist search: %w", err)
		}

		for _, media := range result.Page.Media {
			animes = append(animes, media.toAnime())
		}
		if !result.Page.PageInfo.HasNextPage {
			break
		}
	}
	return filterNSFW(sess, animes), nil
}

func (c *AniListClient) GetAnime(ctx context.Context, sess Session, id int, opts GetOptions) (*models.Anime, error) {
	var result struct {
		Media *anilistMedia `json:"Media"`
	}
	if err := c.gql(ctx, sess, anilistGetQuery, map[string]interface{}{"id": id}, &result); err != nil {
		return nil, fmt.Errorf("anilist get anime %d: %w", id, err)
	}
	if result.Media == nil {
		return nil, ErrNotFound
	}

	anime := result.Media.toAnime()
	if !opts.IncludeRelated {
		anime.Related = nil
	}
	return &anime, nil
}

func (c *AniListClient) UpdateAnime(ctx context.Context, sess Session, id int, req UpdateRequest) (*models.UpdateResult, error) {
	vars := map[string]interface{}{
		"mediaId":  id,
		"progress": req.EpisodesWatched,
	}
	if req.Status != "" {
		vars["status"] = anilistStatus(req.Status)
	}
	if req.RewatchCount != nil {
		vars["repeat"] = *req.RewatchCount
	}
	if req.StartDate != nil {
		vars["startedAt"] = fuzzyDate(*req.StartDate)
	}
	if req.EndDate != nil {
		vars["completedAt"] = fuzzyDate(*req.EndDate)
	}

	var result struct {
		SaveMediaListEntry *anilistListEntry `json:"SaveMediaListEntry"`
	}
	if err := c.gql(ctx, sess, anilistUpdateMutation, vars, &result); err != nil {
		return nil, fmt.Errorf("anilist update anime %d: %w", id, err)
	}
	if result.SaveMediaListEntry == nil {
		return nil, fmt.Errorf("anilist update anime %d: empty mutation result", id)
	}

	entry := result.SaveMediaListEntry
	return &models.UpdateResult{
		Status:             normalizeAniListStatus(entry.Status),
		NumEpisodesWatched: entry.Progress,
		IsRewatching:       entry.Status == "REPEATING",
		RewatchCount:       entry.Repeat,
	}, nil
}

func (c *AniListClient) GetAnimeList(ctx context.Context, sess Session, status models.AnimeStatus) ([]models.Anime, error) {
	user, err := c.GetUser(ctx, sess)
	if err != nil {
		return nil, err
	}
	userID, err := strconv.Atoi(user.ID)
	if err != nil {
		return nil, fmt.Errorf("anilist viewer id %q: %w", user.ID, err)
	}

	var animes []models.Anime
	for page := 1; page <= maxPages; page++ {
		var result struct {
			Page struct {
				PageInfo struct {
					HasNextPage bool `json:"hasNextPage"`
				} `json:"pageInfo"`
				MediaList []struct {
					anilistListEntry
					Media anilistMedia `json:"media"`
				} `json:"mediaList"`
			} `json:"Page"`
		}
		vars := map[string]interface{}{
			"userId": userID,
			"status": anilistStatus(status),
			"page":   page,
		}
		if err := c.gql(ctx, sess, anilistListQuery, vars, &result); err != nil {
			return nil, fmt.Errorf("anilist anime list: %w", err)
		}

		for _, entry := range result.Page.MediaList {
			anime := entry.Media.toAnime()
			anime.ListStatus = entry.anilistListEntry.toListStatus()
			animes = append(animes, anime)
		}
		if !result.Page.PageInfo.HasNextPage {
			break
		}
	}
	return animes, nil
}

func (c *AniListClient) GetUser(ctx context.Context, sess Session) (*models.User, error) {
	var result struct {
		Viewer *struct {
			ID   int    `json:"id"`
			Name string `json:"name"`
		} `json:"Viewer"`
	}
	if err := c.gql(ctx, sess, anilistViewerQuery, nil, &result); err != nil {
		return nil, fmt.Errorf("anilist get user: %w", err)
	}
	if result.Viewer == nil {
		return nil, ErrNotAuthenticated
	}
	return &models.User{ID: strconv.Itoa(result.Viewer.ID), Name: result.Viewer.Name}, nil
}

func (m anilistMedia) toAnime() models.Anime {
	title := m.Title.Romaji
	if m.Title.English != "" {
		title = m.Title.English
	}

	anime := models.Anime{
		ID:    m.ID,
		Title: title,
		AlternativeTitles: models.AlternativeTitles{
			En:       m.Title.English,
			Ja:       m.Title.Native,
			Synonyms: append([]string{m.Title.Romaji}, m.Synonyms...),
		},
		NumEpisodes:  m.Episodes,
		AiringStatus: normalizeAniListAiring(m.Status),
		NSFW:         m.IsAdult,
	}
	if m.MediaListEntry != nil {
		anime.ListStatus = m.MediaListEntry.toListStatus()
	}
	if m.Relations != nil {
		for _, edge := range m.Relations.Edges {
			anime.Related = append(anime.Related, models.RelatedAnime{
				Anime:    edge.Node.toAnime(),
				Relation: normalizeAniListRelation(edge.RelationType),
			})
		}
	}
	return anime
}

func (e anilistListEntry) toListStatus() *models.ListStatus {
	return &models.ListStatus{
		Status:             normalizeAniListStatus(e.Status),
		NumEpisodesWatched: e.Progress,
		IsRewatching:       e.Status == "REPEATING",
		RewatchCount:       e.Repeat,
	}
}

func anilistStatus(status models.AnimeStatus) string {
	switch status {
	case models.StatusWatching:
		return "CURRENT"
	case models.StatusCompleted:
		return "COMPLETED"
	case models.StatusOnHold:
		return "PAUSED"
	case models.StatusDropped:
		return "DROPPED"
	case models.StatusPlanToWatch:
		return "PLANNING"
	case models.StatusRewatching:
		return "REPEATING"
	}
	return ""
}

func normalizeAniListStatus(status string) models.AnimeStatus {
	switch status {
	case "CURRENT":
		return models.StatusWatching
	case "COMPLETED":
		return models.StatusCompleted
	case "PAUSED":
		return models.StatusOnHold
	case "DROPPED":
		return models.StatusDropped
	case "PLANNING":
		return models.StatusPlanToWatch
	case "REPEATING":
		return models.StatusRewatching
	}
	return models.AnimeStatus("")
}

func normalizeAniListAiring(status string) models.AiringStatus {
	switch status {
	case "FINISHED":
		return models.AiringFinished
	case "RELEASING":
		return models.AiringCurrent
	default:
		return models.AiringNotYet
	}
}

func normalizeAniListRelation(relation string) models.RelationType {
	switch relation {
	case "SEQUEL":
		return models.RelationSequel
	case "PREQUEL":
		return models.RelationPrequel
	case "SIDE_STORY":
		return models.RelationSideStory
	case "ALTERNATIVE":
		return models.RelationAlternativeVersion
	case "SPIN_OFF":
		return models.RelationSpinOff
	default:
		return models.RelationOther
	}
}

func fuzzyDate(t time.Time) map[string]interface{} {
	return map[string]interface{}{
		"year":  t.Year(),
		"month": int(t.Month()),
		"day":   t.Day(),
	}
}
