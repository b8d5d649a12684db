package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"anisync/models"
)

const annictBaseURL = "https://api.annict.com/graphql"

const annictWorkFields = `
id
annictId
title
titleEn
titleKana
episodesCount
malAnimeId
viewerStatusState
`

const annictSearchQuery = `
query ($titles: [String!], $after: String) {
  searchWorks(titles: $titles, first: 20, after: $after) {
    pageInfo { hasNextPage endCursor }
    nodes {` + annictWorkFields + `}
  }
}`

const annictGetQuery = `
query ($annictIds: [Int!]) {
  searchWorks(annictIds: $annictIds, first: 1) {
    nodes {` + annictWorkFields + `}
  }
}`

const annictUpdateMutation = `
mutation ($workId: ID!, $state: StatusState!) {
  updateStatus(input: { workId: $workId, state: $state }) {
    work {` + annictWorkFields + `}
  }
}`

const annictListQuery = `
query ($state: StatusState!, $after: String) {
  viewer {
    works(state: $state, first: 50, after: $after) {
      pageInfo { hasNextPage endCursor }
      nodes {` + annictWorkFields + `}
    }
  }
}`

const annictViewerQuery = `query { viewer { annictId name username } }`

// AnnictClient talks to the Annict GraphQL API. Annict works are keyed by
// their own ID (carried as AlternativeID) while the normalized numeric ID is
// the work's cross-referenced MyAnimeList number, so search matching happens
// by ID equality rather than by title. The API exposes no relation graph and
// no episode progress counter; sequels resolve through the crosswalk instead.
type AnnictClient struct {
	exec    *Executor
	baseURL string
}

func NewAnnictClient(exec *Executor) *AnnictClient {
	return &AnnictClient{exec: exec, baseURL: annictBaseURL}
}

func (c *AnnictClient) Name() models.Provider { return models.ProviderAnnict }

type annictWork struct {
	ID                string `json:"id"`
	AnnictID          int    `json:"annictId"`
	Title             string `json:"title"`
	TitleEn           string `json:"titleEn"`
	TitleKana         string `json:"titleKana"`
	EpisodesCount     int    `json:"episodesCount"`
	MalAnimeID        string `json:"malAnimeId"`
	ViewerStatusState string `json:"viewerStatusState"`
}

func (c *AnnictClient) gql(ctx context.Context, sess Session, query string, variables map[string]interface{}, out interface{}) error {
	payload, err := json.Marshal(map[string]interface{}{
		"query":     query,
		"variables": variables,
	})
	if err != nil {
		return fmt.Errorf("marshal query: %w", err)
	}

	header := map[string]string{"Content-Type": "application/json"}
	body, err := c.exec.Call(ctx, sess.UserID, models.ProviderAnnict, http.MethodPost, c.baseURL, payload, header)
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

func (c *AnnictClient) SearchAnime(ctx context.Context, sess Session, query string) ([]models.Anime, error) {
	var animes []models.Anime
	after := ""

	for page := 0; page < maxPages; page++ {
		vars := map[string]interface{}{"titles": []string{query}}
		if after != "" {
			vars["after"] = after
		}

		var result struct {
			SearchWorks struct {
				PageInfo struct {
					HasNextPage bool   `json:"hasNextPage"`
					EndCursor   string `json:"endCursor"`
				} `json:"pageInfo"`
				Nodes []annictWork `json:"nodes"`
			} `json:"searchWorks"`
		}
		if err := c.gql(ctx, sess, annictSearchQuery, vars, &result); err != nil {
			return nil, fmt.Errorf("annict search: %w", err)
		}

		for _, work := range result.SearchWorks.Nodes {
			animes = append(animes, work.toAnime())
		}
		if !result.SearchWorks.PageInfo.HasNextPage {
			break
		}
		after = result.SearchWorks.PageInfo.EndCursor
	}
	return filterNSFW(sess, animes), nil
}

func (c *AnnictClient) GetAnime(ctx context.Context, sess Session, id int, opts GetOptions) (*models.Anime, error) {
	annictID, err := strconv.Atoi(opts.AlternativeID)
	if err != nil {
		return nil, fmt.Errorf("annict requires a numeric alternative id, got %q", opts.AlternativeID)
	}

	var result struct {
		SearchWorks struct {
			Nodes []annictWork `json:"nodes"`
		} `json:"searchWorks"`
	}
	vars := map[string]interface{}{"annictIds": []int{annictID}}
	if err := c.gql(ctx, sess, annictGetQuery, vars, &result); err != nil {
		return nil, fmt.Errorf("annict get work %d: %w", annictID, err)
	}
	if len(result.SearchWorks.Nodes) == 0 {
		return nil, ErrNotFound
	}

	anime := result.SearchWorks.Nodes[0].toAnime()
	return &anime, nil
}

func (c *AnnictClient) UpdateAnime(ctx context.Context, sess Session, id int, req UpdateRequest) (*models.UpdateResult, error) {
	if req.AlternativeID == "" {
		return nil, fmt.Errorf("annict update requires an alternative id")
	}

	annictID, err := strconv.Atoi(req.AlternativeID)
	if err != nil {
		return nil, fmt.Errorf("annict alternative id %q: %w", req.AlternativeID, err)
	}
	work, err := c.workGlobalID(ctx, sess, annictID)
	if err != nil {
		return nil, err
	}

	var result struct {
		UpdateStatus struct {
			Work *annictWork `json:"work"`
		} `json:"updateStatus"`
	}
	vars := map[string]interface{}{
		"workId": work,
		"state":  annictState(req.Status),
	}
	if err := c.gql(ctx, sess, annictUpdateMutation, vars, &result); err != nil {
		return nil, fmt.Errorf("annict update work %d: %w", annictID, err)
	}
	if result.UpdateStatus.Work == nil {
		return nil, fmt.Errorf("annict update work %d: empty mutation result", annictID)
	}

	// Annict tracks no per-entry episode counter; echo the requested
	// progress back so callers can log a consistent result.
	return &models.UpdateResult{
		Status:             normalizeAnnictState(result.UpdateStatus.Work.ViewerStatusState),
		NumEpisodesWatched: req.EpisodesWatched,
	}, nil
}

func (c *AnnictClient) GetAnimeList(ctx context.Context, sess Session, status models.AnimeStatus) ([]models.Anime, error) {
	var animes []models.Anime
	after := ""

	for page := 0; page < maxPages; page++ {
		vars := map[string]interface{}{"state": annictState(status)}
		if after != "" {
			vars["after"] = after
		}

		var result struct {
			Viewer *struct {
				Works struct {
					PageInfo struct {
						HasNextPage bool   `json:"hasNextPage"`
						EndCursor   string `json:"endCursor"`
					} `json:"pageInfo"`
					Nodes []annictWork `json:"nodes"`
				} `json:"works"`
			} `json:"viewer"`
		}
		if err := c.gql(ctx, sess, annictListQuery, vars, &result); err != nil {
			return nil, fmt.Errorf("annict anime list: %w", err)
		}
		if result.Viewer == nil {
			return nil, ErrNotAuthenticated
		}

		for _, work := range result.Viewer.Works.Nodes {
			animes = append(animes, work.toAnime())
		}
		if !result.Viewer.Works.PageInfo.HasNextPage {
			break
		}
		after = result.Viewer.Works.PageInfo.EndCursor
	}
	return animes, nil
}

func (c *AnnictClient) GetUser(ctx context.Context, sess Session) (*models.User, error) {
	var result struct {
		Viewer *struct {
			AnnictID int    `json:"annictId"`
			Name     string `json:"name"`
			Username string `json:"username"`
		} `json:"viewer"`
	}
	if err := c.gql(ctx, sess, annictViewerQuery, nil, &result); err != nil {
		return nil, fmt.Errorf("annict get user: %w", err)
	}
	if result.Viewer == nil {
		return nil, ErrNotAuthenticated
	}

	name := result.Viewer.Name
	if name == "" {
		name = result.Viewer.Username
	}
	return &models.User{ID: strconv.Itoa(result.Viewer.AnnictID), Name: name}, nil
}

// workGlobalID resolves an annictId to the GraphQL global node ID mutations
// require.
func (c *AnnictClient) workGlobalID(ctx context.Context, sess Session, annictID int) (string, error) {
	var result struct {
		SearchWorks struct {
			Nodes []annictWork `json:"nodes"`
		} `json:"searchWorks"`
	}
	vars := map[string]interface{}{"annictIds": []int{annictID}}
	if err := c.gql(ctx, sess, annictGetQuery, vars, &result); err != nil {
		return "", fmt.Errorf("annict resolve work %d: %w", annictID, err)
	}
	if len(result.SearchWorks.Nodes) == 0 {
		return "", ErrNotFound
	}
	return result.SearchWorks.Nodes[0].ID, nil
}

func (w annictWork) toAnime() models.Anime {
	malID, _ := strconv.Atoi(w.MalAnimeID)

	anime := models.Anime{
		ID:            malID,
		AlternativeID: strconv.Itoa(w.AnnictID),
		Title:         w.Title,
		AlternativeTitles: models.AlternativeTitles{
			En: w.TitleEn,
			Ja: w.TitleKana,
		},
		NumEpisodes: w.EpisodesCount,
		// Annict exposes no airing state on works; treat unknown as current
		// so an uncounted show is not mistaken for a finished one.
		AiringStatus: models.AiringCurrent,
	}
	if w.ViewerStatusState != "" && w.ViewerStatusState != "NO_STATE" {
		anime.ListStatus = &models.ListStatus{
			Status: normalizeAnnictState(w.ViewerStatusState),
		}
	}
	return anime
}

func annictState(status models.AnimeStatus) string {
	switch status {
	case models.StatusWatching, models.StatusRewatching:
		return "WATCHING"
	case models.StatusCompleted:
		return "WATCHED"
	case models.StatusOnHold:
		return "ON_HOLD"
	case models.StatusDropped:
		return "STOP_WATCHING"
	case models.StatusPlanToWatch:
		return "WANNA_WATCH"
	}
	return "NO_STATE"
}

func normalizeAnnictState(state string) models.AnimeStatus {
	switch state {
	case "WATCHING":
		return models.StatusWatching
	case "WATCHED":
		return models.StatusCompleted
	case "ON_HOLD":
		return models.StatusOnHold
	case "STOP_WATCHING":
		return models.StatusDropped
	case "WANNA_WATCH":
		return models.StatusPlanToWatch
	}
	return models.AnimeStatus("")
}
