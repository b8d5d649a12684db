package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"anisync/models"
)

const simklBaseURL = "https://api.simkl.com"

// SimklClient talks to the Simkl REST API. Simkl entities are keyed by their
// own ID (carried as AlternativeID); the normalized numeric ID is the
// cross-referenced MyAnimeList number, so search matching happens by ID
// equality rather than by title. Simkl exposes no relation graph.
type SimklClient struct {
	exec    *Executor
	baseURL string
}

func NewSimklClient(exec *Executor) *SimklClient {
	return &SimklClient{exec: exec, baseURL: simklBaseURL}
}

func (c *SimklClient) Name() models.Provider { return models.ProviderSimkl }

type simklIDs struct {
	Simkl int    `json:"simkl"`
	Mal   string `json:"mal"`
}

type simklShow struct {
	Title    string   `json:"title"`
	EnTitle  string   `json:"en_title"`
	IDs      simklIDs `json:"ids"`
	EpCount  int      `json:"total_episodes"`
	Status   string   `json:"status"`
	Anime18  bool     `json:"anime_18plus"`
	AllTitleSynonyms []string `json:"all_titles"`
}

func (c *SimklClient) SearchAnime(ctx context.Context, sess Session, query string) ([]models.Anime, error) {
	var animes []models.Anime

	for page := 1; page <= maxPages; page++ {
		params := url.Values{}
		params.Set("q", query)
		params.Set("extended", "full")
		params.Set("limit", "50")
		params.Set("page", strconv.Itoa(page))

		body, err := c.exec.Call(ctx, sess.UserID, models.ProviderSimkl, http.MethodGet, c.baseURL+"/search/anime?"+params.Encode(), nil, nil)
		if err != nil {
			return nil, fmt.Errorf("simkl search: %w", err)
		}

		var shows []simklShow
		if err := json.Unmarshal(body, &shows); err != nil {
			return nil, fmt.Errorf("simkl search decode: %w", err)
		}
		for _, show := range shows {
			animes = append(animes, show.toAnime())
		}
		if len(shows) < 50 {
			break
		}
	}
	return filterNSFW(sess, animes), nil
}

func (c *SimklClient) GetAnime(ctx context.Context, sess Session, id int, opts GetOptions) (*models.Anime, error) {
	if opts.AlternativeID == "" {
		return nil, fmt.Errorf("simkl requires an alternative id")
	}

	endpoint := fmt.Sprintf("%s/anime/%s?extended=full", c.baseURL, url.PathEscape(opts.AlternativeID))
	body, err := c.exec.Call(ctx, sess.UserID, models.ProviderSimkl, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("simkl get anime %s: %w", opts.AlternativeID, err)
	}

	var show simklShow
	if err := json.Unmarshal(body, &show); err != nil {
		return nil, fmt.Errorf("simkl decode anime: %w", err)
	}

	anime := show.toAnime()
	if status, err := c.listStatus(ctx, sess, anime.AlternativeID); err == nil {
		anime.ListStatus = status
	}
	return &anime, nil
}

func (c *SimklClient) UpdateAnime(ctx context.Context, sess Session, id int, req UpdateRequest) (*models.UpdateResult, error) {
	ids, err := simklUpdateIDs(req)
	if err != nil {
		return nil, err
	}

	// Movies sync through the "movies" container and carry no episode list.
	container := "shows"
	if !req.IsShow {
		container = "movies"
	}

	// Status move first, then watched episodes through sync/history.
	statusPayload, err := json.Marshal(map[string]interface{}{
		container: []map[string]interface{}{{
			"to":  simklStatus(req.Status),
			"ids": ids,
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("simkl marshal status: %w", err)
	}

	header := map[string]string{"Content-Type": "application/json"}
	if _, err := c.exec.Call(ctx, sess.UserID, models.ProviderSimkl, http.MethodPost, c.baseURL+"/sync/add-to-list", statusPayload, header); err != nil {
		return nil, fmt.Errorf("simkl move to list: %w", err)
	}

	var item map[string]interface{}
	if req.EpisodesWatched > 0 {
		item = map[string]interface{}{"ids": ids}
		if req.IsShow {
			episodes := make([]map[string]int, 0, req.EpisodesWatched)
			for ep := 1; ep <= req.EpisodesWatched; ep++ {
				episodes = append(episodes, map[string]int{"number": ep})
			}
			item["seasons"] = []map[string]interface{}{{"number": 1, "episodes": episodes}}
		}
	}
	if item != nil {
		historyPayload, err := json.Marshal(map[string]interface{}{
			container: []map[string]interface{}{item},
		})
		if err != nil {
			return nil, fmt.Errorf("simkl marshal history: %w", err)
		}
		if _, err := c.exec.Call(ctx, sess.UserID, models.ProviderSimkl, http.MethodPost, c.baseURL+"/sync/history", historyPayload, header); err != nil {
			return nil, fmt.Errorf("simkl sync history: %w", err)
		}
	}

	return &models.UpdateResult{
		Status:             req.Status,
		NumEpisodesWatched: req.EpisodesWatched,
	}, nil
}

// simklUpdateIDs builds the sync payload identity, preferring the Simkl ID
// and falling back to a cross-referenced MyAnimeList number.
func simklUpdateIDs(req UpdateRequest) (map[string]int, error) {
	if req.AlternativeID != "" {
		simklID, err := strconv.Atoi(req.AlternativeID)
		if err != nil {
			return nil, fmt.Errorf("simkl alternative id %q: %w", req.AlternativeID, err)
		}
		return map[string]int{"simkl": simklID}, nil
	}
	if req.CrossRefs != nil && req.CrossRefs.MyAnimeList != nil {
		return map[string]int{"mal": *req.CrossRefs.MyAnimeList}, nil
	}
	return nil, fmt.Errorf("simkl update requires an alternative id or mal cross reference")
}

func (c *SimklClient) GetAnimeList(ctx context.Context, sess Session, status models.AnimeStatus) ([]models.Anime, error) {
	endpoint := fmt.Sprintf("%s/sync/all-items/anime/%s", c.baseURL, simklStatus(status))
	body, err := c.exec.Call(ctx, sess.UserID, models.ProviderSimkl, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("simkl anime list: %w", err)
	}

	var result struct {
		Anime []struct {
			Show            simklShow `json:"show"`
			Status          string    `json:"status"`
			WatchedEpisodes int       `json:"watched_episodes_count"`
		} `json:"anime"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("simkl list decode: %w", err)
	}

	animes := make([]models.Anime, 0, len(result.Anime))
	for _, entry := range result.Anime {
		anime := entry.Show.toAnime()
		anime.ListStatus = &models.ListStatus{
			Status:             normalizeSimklStatus(entry.Status),
			NumEpisodesWatched: entry.WatchedEpisodes,
		}
		animes = append(animes, anime)
	}
	return animes, nil
}

func (c *SimklClient) GetUser(ctx context.Context, sess Session) (*models.User, error) {
	body, err := c.exec.Call(ctx, sess.UserID, models.ProviderSimkl, http.MethodPost, c.baseURL+"/users/settings", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("simkl get user: %w", err)
	}

	var settings struct {
		User struct {
			Name string `json:"name"`
		} `json:"user"`
		Account struct {
			ID int `json:"id"`
		} `json:"account"`
	}
	if err := json.Unmarshal(body, &settings); err != nil {
		return nil, fmt.Errorf("simkl decode user: %w", err)
	}
	return &models.User{ID: strconv.Itoa(settings.Account.ID), Name: settings.User.Name}, nil
}

// listStatus scans the user's lists for the entity to recover its current
// status; Simkl has no per-item my-status endpoint.
func (c *SimklClient) listStatus(ctx context.Context, sess Session, alternativeID string) (*models.ListStatus, error) {
	for _, status := range []models.AnimeStatus{models.StatusWatching, models.StatusCompleted, models.StatusPlanToWatch, models.StatusOnHold, models.StatusDropped} {
		animes, err := c.GetAnimeList(ctx, sess, status)
		if err != nil {
			return nil, err
		}
		for _, anime := range animes {
			if anime.AlternativeID == alternativeID {
				return anime.ListStatus, nil
			}
		}
	}
	return nil, ErrNotFound
}

func (s simklShow) toAnime() models.Anime {
	malID, _ := strconv.Atoi(s.IDs.Mal)
	return models.Anime{
		ID:            malID,
		AlternativeID: strconv.Itoa(s.IDs.Simkl),
		Title:         s.Title,
		AlternativeTitles: models.AlternativeTitles{
			En:       s.EnTitle,
			Synonyms: s.AllTitleSynonyms,
		},
		NumEpisodes:  s.EpCount,
		AiringStatus: normalizeSimklAiring(s.Status),
		NSFW:         s.Anime18,
	}
}

func simklStatus(status models.AnimeStatus) string {
	switch status {
	case models.StatusWatching, models.StatusRewatching:
		return "watching"
	case models.StatusCompleted:
		return "completed"
	case models.StatusOnHold:
		return "hold"
	case models.StatusDropped:
		return "notinteresting"
	case models.StatusPlanToWatch:
		return "plantowatch"
	}
	return "watching"
}

func normalizeSimklStatus(status string) models.AnimeStatus {
	switch status {
	case "watching":
		return models.StatusWatching
	case "completed":
		return models.StatusCompleted
	case "hold":
		return models.StatusOnHold
	case "notinteresting":
		return models.StatusDropped
	case "plantowatch":
		return models.StatusPlanToWatch
	}
	return models.AnimeStatus("")
}

func normalizeSimklAiring(status string) models.AiringStatus {
	switch status {
	case "ended", "released":
		return models.AiringFinished
	case "airing", "ongoing":
		return models.AiringCurrent
	default:
		return models.AiringNotYet
	}
}
