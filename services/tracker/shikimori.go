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

const shikimoriBaseURL = "https://shikimori.one/api"

// ShikimoriClient talks to the Shikimori REST API. Shikimori anime IDs are
// MyAnimeList-numbered, and its user rates natively support a rewatching
// status.
type ShikimoriClient struct {
	exec    *Executor
	baseURL string
}

func NewShikimoriClient(exec *Executor) *ShikimoriClient {
	return &ShikimoriClient{exec: exec, baseURL: shikimoriBaseURL}
}

func (c *ShikimoriClient) Name() models.Provider { return models.ProviderShikimori }

type shikimoriAnime struct {
	ID       int      `json:"id"`
	Name     string   `json:"name"`
	Russian  string   `json:"russian"`
	English  []string `json:"english"`
	Japanese []string `json:"japanese"`
	Synonyms []string `json:"synonyms"`
	Episodes int      `json:"episodes"`
	Status   string   `json:"status"`
	Rating   string   `json:"rating"`
	UserRate *struct {
		ID        int    `json:"id"`
		Status    string `json:"status"`
		Episodes  int    `json:"episodes"`
		Rewatches int    `json:"rewatches"`
	} `json:"user_rate"`
}

func (c *ShikimoriClient) get(ctx context.Context, sess Session, endpoint string, out interface{}) error {
	body, err := c.exec.Call(ctx, sess.UserID, models.ProviderShikimori, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func (c *ShikimoriClient) SearchAnime(ctx context.Context, sess Session, query string) ([]models.Anime, error) {
	var animes []models.Anime

	for page := 1; page <= maxPages; page++ {
		params := url.Values{}
		params.Set("search", query)
		params.Set("limit", "50")
		params.Set("page", strconv.Itoa(page))
		if !sess.AllowNSFW {
			// Shikimori filters adult entries server side.
			params.Set("censored", "true")
		}

		var pageAnimes []shikimoriAnime
		if err := c.get(ctx, sess, c.baseURL+"/animes?"+params.Encode(), &pageAnimes); err != nil {
			return nil, fmt.Errorf("shikimori search: %w", err)
		}
		for _, native := range pageAnimes {
			animes = append(animes, native.toAnime())
		}
		if len(pageAnimes) < 50 {
			break
		}
	}
	return filterNSFW(sess, animes), nil
}

func (c *ShikimoriClient) GetAnime(ctx context.Context, sess Session, id int, opts GetOptions) (*models.Anime, error) {
	var native shikimoriAnime
	if err := c.get(ctx, sess, fmt.Sprintf("%s/animes/%d", c.baseURL, id), &native); err != nil {
		return nil, fmt.Errorf("shikimori get anime %d: %w", id, err)
	}
	anime := native.toAnime()

	if opts.IncludeRelated {
		var related []struct {
			Relation string          `json:"relation"`
			Anime    *shikimoriAnime `json:"anime"`
		}
		if err := c.get(ctx, sess, fmt.Sprintf("%s/animes/%d/related", c.baseURL, id), &related); err != nil {
			return nil, fmt.Errorf("shikimori anime %d related: %w", id, err)
		}
		for _, rel := range related {
			if rel.Anime == nil {
				continue
			}
			anime.Related = append(anime.Related, models.RelatedAnime{
				Anime:    rel.Anime.toAnime(),
				Relation: normalizeShikimoriRelation(rel.Relation),
			})
		}
	}
	return &anime, nil
}

func (c *ShikimoriClient) UpdateAnime(ctx context.Context, sess Session, id int, req UpdateRequest) (*models.UpdateResult, error) {
	user, err := c.GetUser(ctx, sess)
	if err != nil {
		return nil, err
	}
	userID, err := strconv.Atoi(user.ID)
	if err != nil {
		return nil, fmt.Errorf("shikimori user id %q: %w", user.ID, err)
	}

	rate := map[string]interface{}{
		"user_id":     userID,
		"target_id":   id,
		"target_type": "Anime",
		"episodes":    req.EpisodesWatched,
	}
	if req.Status != "" {
		rate["status"] = shikimoriStatus(req.Status)
	}
	if req.RewatchCount != nil {
		rate["rewatches"] = *req.RewatchCount
	}

	payload, err := json.Marshal(map[string]interface{}{"user_rate": rate})
	if err != nil {
		return nil, fmt.Errorf("shikimori marshal rate: %w", err)
	}

	header := map[string]string{"Content-Type": "application/json"}
	body, err := c.exec.Call(ctx, sess.UserID, models.ProviderShikimori, http.MethodPost, c.baseURL+"/v2/user_rates", payload, header)
	if err != nil {
		return nil, fmt.Errorf("shikimori update anime %d: %w", id, err)
	}

	var updated struct {
		Status    string `json:"status"`
		Episodes  int    `json:"episodes"`
		Rewatches int    `json:"rewatches"`
	}
	if err := json.Unmarshal(body, &updated); err != nil {
		return nil, fmt.Errorf("shikimori decode rate: %w", err)
	}
	return &models.UpdateResult{
		Status:             normalizeShikimoriStatus(updated.Status),
		NumEpisodesWatched: updated.Episodes,
		IsRewatching:       updated.Status == "rewatching",
		RewatchCount:       updated.Rewatches,
	}, nil
}

func (c *ShikimoriClient) GetAnimeList(ctx context.Context, sess Session, status models.AnimeStatus) ([]models.Anime, error) {
	user, err := c.GetUser(ctx, sess)
	if err != nil {
		return nil, err
	}

	var animes []models.Anime
	for page := 1; page <= maxPages; page++ {
		params := url.Values{}
		params.Set("status", shikimoriStatus(status))
		params.Set("limit", "100")
		params.Set("page", strconv.Itoa(page))

		var rates []struct {
			Status    string          `json:"status"`
			Episodes  int             `json:"episodes"`
			Rewatches int             `json:"rewatches"`
			Anime     *shikimoriAnime `json:"anime"`
		}
		endpoint := fmt.Sprintf("%s/users/%s/anime_rates?%s", c.baseURL, user.ID, params.Encode())
		if err := c.get(ctx, sess, endpoint, &rates); err != nil {
			return nil, fmt.Errorf("shikimori anime list: %w", err)
		}

		for _, rate := range rates {
			if rate.Anime == nil {
				continue
			}
			anime := rate.Anime.toAnime()
			anime.ListStatus = &models.ListStatus{
				Status:             normalizeShikimoriStatus(rate.Status),
				NumEpisodesWatched: rate.Episodes,
				IsRewatching:       rate.Status == "rewatching",
				RewatchCount:       rate.Rewatches,
			}
			animes = append(animes, anime)
		}
		if len(rates) < 100 {
			break
		}
	}
	return animes, nil
}

func (c *ShikimoriClient) GetUser(ctx context.Context, sess Session) (*models.User, error) {
	var user struct {
		ID       int    `json:"id"`
		Nickname string `json:"nickname"`
	}
	if err := c.get(ctx, sess, c.baseURL+"/users/whoami", &user); err != nil {
		return nil, fmt.Errorf("shikimori get user: %w", err)
	}
	return &models.User{ID: strconv.Itoa(user.ID), Name: user.Nickname}, nil
}

func (a shikimoriAnime) toAnime() models.Anime {
	var en, ja string
	if len(a.English) > 0 {
		en = a.English[0]
	}
	if len(a.Japanese) > 0 {
		ja = a.Japanese[0]
	}

	anime := models.Anime{
		ID:    a.ID,
		Title: a.Name,
		AlternativeTitles: models.AlternativeTitles{
			En:       en,
			Ja:       ja,
			Synonyms: append([]string{a.Russian}, a.Synonyms...),
		},
		NumEpisodes:  a.Episodes,
		AiringStatus: normalizeShikimoriAiring(a.Status),
		NSFW:         a.Rating == "rx" || a.Rating == "r_plus",
	}
	if a.UserRate != nil {
		anime.ListStatus = &models.ListStatus{
			Status:             normalizeShikimoriStatus(a.UserRate.Status),
			NumEpisodesWatched: a.UserRate.Episodes,
			IsRewatching:       a.UserRate.Status == "rewatching",
			RewatchCount:       a.UserRate.Rewatches,
		}
	}
	return anime
}

func shikimoriStatus(status models.AnimeStatus) string {
	switch status {
	case models.StatusPlanToWatch:
		return "planned"
	default:
		return string(status)
	}
}

func normalizeShikimoriStatus(status string) models.AnimeStatus {
	switch status {
	case "planned":
		return models.StatusPlanToWatch
	default:
		return models.AnimeStatus(status)
	}
}

func normalizeShikimoriAiring(status string) models.AiringStatus {
	switch status {
	case "released":
		return models.AiringFinished
	case "ongoing":
		return models.AiringCurrent
	default:
		return models.AiringNotYet
	}
}

func normalizeShikimoriRelation(relation string) models.RelationType {
	switch relation {
	case "Sequel":
		return models.RelationSequel
	case "Prequel":
		return models.RelationPrequel
	case "Side story", "Side Story":
		return models.RelationSideStory
	case "Alternative setting":
		return models.RelationAlternativeSetting
	case "Alternative version":
		return models.RelationAlternativeVersion
	case "Spin-off":
		return models.RelationSpinOff
	default:
		return models.RelationOther
	}
}
