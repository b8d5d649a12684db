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

const (
	malBaseURL = "https://api.myanimelist.net/v2"
	malFields  = "id,title,alternative_titles,num_episodes,status,nsfw,my_list_status{num_times_rewatched,is_rewatching},related_anime"
)

// MalClient talks to the MyAnimeList v2 REST API.
type MalClient struct {
	exec    *Executor
	baseURL string
}

func NewMalClient(exec *Executor) *MalClient {
	return &MalClient{exec: exec, baseURL: malBaseURL}
}

func (c *MalClient) Name() models.Provider { return models.ProviderMal }

type malListStatus struct {
	Status             string `json:"status"`
	NumEpisodesWatched int    `json:"num_watched_episodes"`
	IsRewatching       bool   `json:"is_rewatching"`
	NumTimesRewatched  int    `json:"num_times_rewatched"`
}

type malAnime struct {
	ID                int    `json:"id"`
	Title             string `json:"title"`
	AlternativeTitles struct {
		Synonyms []string `json:"synonyms"`
		En       string   `json:"en"`
		Ja       string   `json:"ja"`
	} `json:"alternative_titles"`
	NumEpisodes  int            `json:"num_episodes"`
	Status       string         `json:"status"`
	Nsfw         string         `json:"nsfw"`
	MyListStatus *malListStatus `json:"my_list_status"`
	RelatedAnime []struct {
		Node         malAnime `json:"node"`
		RelationType string   `json:"relation_type"`
	} `json:"related_anime"`
}

type malPage struct {
	Data []struct {
		Node       malAnime       `json:"node"`
		ListStatus *malListStatus `json:"list_status"`
	} `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

func (c *MalClient) SearchAnime(ctx context.Context, sess Session, query string) ([]models.Anime, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", "100")
	params.Set("fields", malFields)
	params.Set("nsfw", "true")

	animes, err := c.fetchPages(ctx, sess, c.baseURL+"/anime?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("mal search: %w", err)
	}
	return filterNSFW(sess, animes), nil
}

func (c *MalClient) GetAnime(ctx context.Context, sess Session, id int, opts GetOptions) (*models.Anime, error) {
	endpoint := fmt.Sprintf("%s/anime/%d?fields=%s", c.baseURL, id, url.QueryEscape(malFields))

	body, err := c.exec.Call(ctx, sess.UserID, models.ProviderMal, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("mal get anime %d: %w", id, err)
	}

	var native malAnime
	if err := json.Unmarshal(body, &native); err != nil {
		return nil, fmt.Errorf("mal decode anime: %w", err)
	}

	anime := native.toAnime()
	if !opts.IncludeRelated {
		anime.Related = nil
	}
	return &anime, nil
}

func (c *MalClient) UpdateAnime(ctx context.Context, sess Session, id int, req UpdateRequest) (*models.UpdateResult, error) {
	data := url.Values{}
	data.Set("num_watched_episodes", strconv.Itoa(req.EpisodesWatched))

	// MAL models an in-progress rewatch as status=completed plus the
	// is_rewatching flag and a separate progress counter.
	switch req.Status {
	case models.StatusRewatching:
		data.Set("status", string(models.StatusCompleted))
		data.Set("is_rewatching", "true")
	case "":
	default:
		data.Set("status", string(req.Status))
	}
	if req.IsRewatching != nil {
		data.Set("is_rewatching", strconv.FormatBool(*req.IsRewatching))
	}
	if req.RewatchCount != nil {
		data.Set("num_times_rewatched", strconv.Itoa(*req.RewatchCount))
	}
	if req.StartDate != nil {
		data.Set("start_date", req.StartDate.Format("2006-01-02"))
	}
	if req.EndDate != nil {
		data.Set("finish_date", req.EndDate.Format("2006-01-02"))
	}

	endpoint := fmt.Sprintf("%s/anime/%d/my_list_status", c.baseURL, id)
	header := map[string]string{"Content-Type": "application/x-www-form-urlencoded"}

	body, err := c.exec.Call(ctx, sess.UserID, models.ProviderMal, http.MethodPatch, endpoint, []byte(data.Encode()), header)
	if err != nil {
		return nil, fmt.Errorf("mal update anime %d: %w", id, err)
	}

	var status malListStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("mal decode update: %w", err)
	}
	return &models.UpdateResult{
		Status:             normalizeMalStatus(status.Status, status.IsRewatching),
		NumEpisodesWatched: status.NumEpisodesWatched,
		IsRewatching:       status.IsRewatching,
		RewatchCount:       status.NumTimesRewatched,
	}, nil
}

func (c *MalClient) GetAnimeList(ctx context.Context, sess Session, status models.AnimeStatus) ([]models.Anime, error) {
	params := url.Values{}
	params.Set("status", string(status))
	params.Set("limit", "100")
	params.Set("fields", "list_status{num_times_rewatched,is_rewatching},num_episodes,alternative_titles,status")
	params.Set("nsfw", "true")

	animes, err := c.fetchPages(ctx, sess, c.baseURL+"/users/@me/animelist?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("mal anime list: %w", err)
	}
	return animes, nil
}

func (c *MalClient) GetUser(ctx context.Context, sess Session) (*models.User, error) {
	body, err := c.exec.Call(ctx, sess.UserID, models.ProviderMal, http.MethodGet, c.baseURL+"/users/@me", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("mal get user: %w", err)
	}

	var user struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("mal decode user: %w", err)
	}
	return &models.User{ID: strconv.Itoa(user.ID), Name: user.Name}, nil
}

// fetchPages follows paging.next links, capped at maxPages.
func (c *MalClient) fetchPages(ctx context.Context, sess Session, endpoint string) ([]models.Anime, error) {
	var animes []models.Anime

	for page := 0; endpoint != "" && page < maxPages; page++ {
		body, err := c.exec.Call(ctx, sess.UserID, models.ProviderMal, http.MethodGet, endpoint, nil, nil)
		if err != nil {
			return nil, err
		}

		var result malPage
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, fmt.Errorf("decode page: %w", err)
		}

		for _, entry := range result.Data {
			anime := entry.Node.toAnime()
			if entry.ListStatus != nil {
				anime.ListStatus = entry.ListStatus.toListStatus()
			}
			animes = append(animes, anime)
		}
		endpoint = result.Paging.Next
	}
	return animes, nil
}

func (a malAnime) toAnime() models.Anime {
	anime := models.Anime{
		ID:    a.ID,
		Title: a.Title,
		AlternativeTitles: models.AlternativeTitles{
			En:       a.AlternativeTitles.En,
			Ja:       a.AlternativeTitles.Ja,
			Synonyms: a.AlternativeTitles.Synonyms,
		},
		NumEpisodes:  a.NumEpisodes,
		AiringStatus: models.AiringStatus(a.Status),
		NSFW:         a.Nsfw == "black" || a.Nsfw == "gray",
	}
	if a.MyListStatus != nil {
		anime.ListStatus = a.MyListStatus.toListStatus()
	}
	for _, rel := range a.RelatedAnime {
		anime.Related = append(anime.Related, models.RelatedAnime{
			Anime:    rel.Node.toAnime(),
			Relation: normalizeRelation(rel.RelationType),
		})
	}
	return anime
}

func (s malListStatus) toListStatus() *models.ListStatus {
	return &models.ListStatus{
		Status:             normalizeMalStatus(s.Status, s.IsRewatching),
		NumEpisodesWatched: s.NumEpisodesWatched,
		IsRewatching:       s.IsRewatching,
		RewatchCount:       s.NumTimesRewatched,
	}
}

func normalizeMalStatus(status string, isRewatching bool) models.AnimeStatus {
	if isRewatching {
		return models.StatusRewatching
	}
	return models.AnimeStatus(status)
}

func normalizeRelation(relation string) models.RelationType {
	switch r := models.RelationType(relation); r {
	case models.RelationSequel, models.RelationPrequel, models.RelationSideStory,
		models.RelationAlternativeSetting, models.RelationAlternativeVersion, models.RelationSpinOff:
		return r
	default:
		return models.RelationOther
	}
}
