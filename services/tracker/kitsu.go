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

const kitsuBaseURL = "https://kitsu.io/api/edge"

// KitsuClient talks to the Kitsu JSON:API. Entities carry numeric IDs encoded
// as strings; list mutations go through the user's library-entry resource.
type KitsuClient struct {
	exec    *Executor
	baseURL string
}

func NewKitsuClient(exec *Executor) *KitsuClient {
	return &KitsuClient{exec: exec, baseURL: kitsuBaseURL}
}

func (c *KitsuClient) Name() models.Provider { return models.ProviderKitsu }

type kitsuAnimeAttributes struct {
	CanonicalTitle string `json:"canonicalTitle"`
	Titles         struct {
		En   string `json:"en"`
		EnJp string `json:"en_jp"`
		JaJp string `json:"ja_jp"`
	} `json:"titles"`
	AbbreviatedTitles []string `json:"abbreviatedTitles"`
	EpisodeCount      int      `json:"episodeCount"`
	Status            string   `json:"status"`
	Nsfw              bool     `json:"nsfw"`
}

type kitsuResource struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Attributes    json.RawMessage `json:"attributes"`
	Relationships map[string]struct {
		Data json.RawMessage `json:"data"`
	} `json:"relationships"`
}

type kitsuDocument struct {
	Data     json.RawMessage `json:"data"`
	Included []kitsuResource `json:"included"`
	Links    struct {
		Next string `json:"next"`
	} `json:"links"`
}

type kitsuLibraryAttributes struct {
	Status         string `json:"status"`
	Progress       int    `json:"progress"`
	Reconsuming    bool   `json:"reconsuming"`
	ReconsumeCount int    `json:"reconsumeCount"`
	StartedAt      string `json:"startedAt,omitempty"`
	FinishedAt     string `json:"finishedAt,omitempty"`
}

var kitsuJSONAPIHeader = map[string]string{
	"Content-Type": "application/vnd.api+json",
	"Accept":       "application/vnd.api+json",
}

func (c *KitsuClient) get(ctx context.Context, sess Session, endpoint string) (*kitsuDocument, error) {
	body, err := c.exec.Call(ctx, sess.UserID, models.ProviderKitsu, http.MethodGet, endpoint, nil, kitsuJSONAPIHeader)
	if err != nil {
		return nil, err
	}
	var doc kitsuDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return &doc, nil
}

func (c *KitsuClient) SearchAnime(ctx context.Context, sess Session, query string) ([]models.Anime, error) {
	params := url.Values{}
	params.Set("filter[text]", query)
	params.Set("page[limit]", "20")
	endpoint := c.baseURL + "/anime?" + params.Encode()

	var animes []models.Anime
	for page := 0; endpoint != "" && page < maxPages; page++ {
		doc, err := c.get(ctx, sess, endpoint)
		if err != nil {
			return nil, fmt.Errorf("kitsu search: %w", err)
		}

		var resources []kitsuResource
		if err := json.Unmarshal(doc.Data, &resources); err != nil {
			return nil, fmt.Errorf("kitsu search decode: %w", err)
		}
		for _, res := range resources {
			anime, err := kitsuToAnime(res)
			if err != nil {
				continue
			}
			animes = append(animes, anime)
		}
		endpoint = doc.Links.Next
	}
	return filterNSFW(sess, animes), nil
}

func (c *KitsuClient) GetAnime(ctx context.Context, sess Session, id int, opts GetOptions) (*models.Anime, error) {
	endpoint := fmt.Sprintf("%s/anime/%d", c.baseURL, id)
	doc, err := c.get(ctx, sess, endpoint)
	if err != nil {
		return nil, fmt.Errorf("kitsu get anime %d: %w", id, err)
	}

	var res kitsuResource
	if err := json.Unmarshal(doc.Data, &res); err != nil {
		return nil, fmt.Errorf("kitsu decode anime: %w", err)
	}
	anime, err := kitsuToAnime(res)
	if err != nil {
		return nil, fmt.Errorf("kitsu anime %d: %w", id, err)
	}

	if status, err := c.libraryStatus(ctx, sess, id); err == nil {
		anime.ListStatus = status
	}

	if opts.IncludeRelated {
		related, err := c.relatedAnime(ctx, sess, id)
		if err != nil {
			return nil, fmt.Errorf("kitsu anime %d relations: %w", id, err)
		}
		anime.Related = related
	}
	return &anime, nil
}

// relatedAnime fetches the entity's media relationships with destinations
// side-loaded and rebuilds the relation edges.
func (c *KitsuClient) relatedAnime(ctx context.Context, sess Session, id int) ([]models.RelatedAnime, error) {
	endpoint := fmt.Sprintf("%s/anime/%d/media-relationships?include=destination&page[limit]=20", c.baseURL, id)
	doc, err := c.get(ctx, sess, endpoint)
	if err != nil {
		return nil, err
	}

	var relationships []kitsuResource
	if err := json.Unmarshal(doc.Data, &relationships); err != nil {
		return nil, fmt.Errorf("decode relationships: %w", err)
	}

	included := make(map[string]kitsuResource, len(doc.Included))
	for _, res := range doc.Included {
		included[res.Type+":"+res.ID] = res
	}

	var related []models.RelatedAnime
	for _, rel := range relationships {
		var attrs struct {
			Role string `json:"role"`
		}
		if err := json.Unmarshal(rel.Attributes, &attrs); err != nil {
			continue
		}

		dest, ok := rel.Relationships["destination"]
		if !ok {
			continue
		}
		var ref struct {
			Type string `json:"type"`
			ID   string `json:"id"`
		}
		if err := json.Unmarshal(dest.Data, &ref); err != nil || ref.Type != "anime" {
			continue
		}
		res, ok := included[ref.Type+":"+ref.ID]
		if !ok {
			continue
		}
		anime, err := kitsuToAnime(res)
		if err != nil {
			continue
		}
		related = append(related, models.RelatedAnime{
			Anime:    anime,
			Relation: normalizeRelation(attrs.Role),
		})
	}
	return related, nil
}

func (c *KitsuClient) UpdateAnime(ctx context.Context, sess Session, id int, req UpdateRequest) (*models.UpdateResult, error) {
	user, err := c.GetUser(ctx, sess)
	if err != nil {
		return nil, err
	}

	attrs := kitsuLibraryAttributes{
		Status:   kitsuStatus(req.Status),
		Progress: req.EpisodesWatched,
	}
	// Kitsu models a rewatch as a current entry with the reconsuming flag.
	if req.Status == models.StatusRewatching {
		attrs.Reconsuming = true
	}
	if req.IsRewatching != nil {
		attrs.Reconsuming = *req.IsRewatching
	}
	if req.RewatchCount != nil {
		attrs.ReconsumeCount = *req.RewatchCount
	}
	if req.StartDate != nil {
		attrs.StartedAt = req.StartDate.Format("2006-01-02")
	}
	if req.EndDate != nil {
		attrs.FinishedAt = req.EndDate.Format("2006-01-02")
	}

	entryID, err := c.libraryEntryID(ctx, sess, user.ID, id)
	if err != nil {
		return nil, fmt.Errorf("kitsu library entry lookup: %w", err)
	}

	var method, endpoint string
	payload := map[string]interface{}{
		"data": map[string]interface{}{
			"type":       "libraryEntries",
			"attributes": attrs,
			"relationships": map[string]interface{}{
				"user":  map[string]interface{}{"data": map[string]string{"type": "users", "id": user.ID}},
				"anime": map[string]interface{}{"data": map[string]string{"type": "anime", "id": strconv.Itoa(id)}},
			},
		},
	}
	if entryID == "" {
		method, endpoint = http.MethodPost, c.baseURL+"/library-entries"
	} else {
		method, endpoint = http.MethodPatch, c.baseURL+"/library-entries/"+entryID
		payload["data"].(map[string]interface{})["id"] = entryID
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("kitsu marshal update: %w", err)
	}
	respBody, err := c.exec.Call(ctx, sess.UserID, models.ProviderKitsu, method, endpoint, body, kitsuJSONAPIHeader)
	if err != nil {
		return nil, fmt.Errorf("kitsu update anime %d: %w", id, err)
	}

	var doc kitsuDocument
	if err := json.Unmarshal(respBody, &doc); err != nil {
		return nil, fmt.Errorf("kitsu decode update: %w", err)
	}
	var res kitsuResource
	if err := json.Unmarshal(doc.Data, &res); err != nil {
		return nil, fmt.Errorf("kitsu decode update entry: %w", err)
	}
	var updated kitsuLibraryAttributes
	if err := json.Unmarshal(res.Attributes, &updated); err != nil {
		return nil, fmt.Errorf("kitsu decode update attributes: %w", err)
	}
	return &models.UpdateResult{
		Status:             normalizeKitsuStatus(updated.Status, updated.Reconsuming),
		NumEpisodesWatched: updated.Progress,
		IsRewatching:       updated.Reconsuming,
		RewatchCount:       updated.ReconsumeCount,
	}, nil
}

func (c *KitsuClient) GetAnimeList(ctx context.Context, sess Session, status models.AnimeStatus) ([]models.Anime, error) {
	user, err := c.GetUser(ctx, sess)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("filter[userId]", user.ID)
	params.Set("filter[kind]", "anime")
	params.Set("filter[status]", kitsuStatus(status))
	params.Set("include", "anime")
	params.Set("page[limit]", "50")
	endpoint := c.baseURL + "/library-entries?" + params.Encode()

	var animes []models.Anime
	for page := 0; endpoint != "" && page < maxPages; page++ {
		doc, err := c.get(ctx, sess, endpoint)
		if err != nil {
			return nil, fmt.Errorf("kitsu anime list: %w", err)
		}

		var entries []kitsuResource
		if err := json.Unmarshal(doc.Data, &entries); err != nil {
			return nil, fmt.Errorf("kitsu list decode: %w", err)
		}

		included := make(map[string]kitsuResource, len(doc.Included))
		for _, res := range doc.Included {
			included[res.Type+":"+res.ID] = res
		}

		for _, entry := range entries {
			var attrs kitsuLibraryAttributes
			if err := json.Unmarshal(entry.Attributes, &attrs); err != nil {
				continue
			}
			rel, ok := entry.Relationships["anime"]
			if !ok {
				continue
			}
			var ref struct {
				Type string `json:"type"`
				ID   string `json:"id"`
			}
			if err := json.Unmarshal(rel.Data, &ref); err != nil {
				continue
			}
			res, ok := included[ref.Type+":"+ref.ID]
			if !ok {
				continue
			}
			anime, err := kitsuToAnime(res)
			if err != nil {
				continue
			}
			anime.ListStatus = &models.ListStatus{
				Status:             normalizeKitsuStatus(attrs.Status, attrs.Reconsuming),
				NumEpisodesWatched: attrs.Progress,
				IsRewatching:       attrs.Reconsuming,
				RewatchCount:       attrs.ReconsumeCount,
			}
			animes = append(animes, anime)
		}
		endpoint = doc.Links.Next
	}
	return animes, nil
}

func (c *KitsuClient) GetUser(ctx context.Context, sess Session) (*models.User, error) {
	doc, err := c.get(ctx, sess, c.baseURL+"/users?filter[self]=true")
	if err != nil {
		return nil, fmt.Errorf("kitsu get user: %w", err)
	}

	var users []kitsuResource
	if err := json.Unmarshal(doc.Data, &users); err != nil {
		return nil, fmt.Errorf("kitsu decode users: %w", err)
	}
	if len(users) == 0 {
		return nil, ErrNotAuthenticated
	}

	var attrs struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(users[0].Attributes, &attrs); err != nil {
		return nil, fmt.Errorf("kitsu decode user: %w", err)
	}
	return &models.User{ID: users[0].ID, Name: attrs.Name}, nil
}

// libraryStatus fetches the user's existing entry for the anime, if any.
func (c *KitsuClient) libraryStatus(ctx context.Context, sess Session, animeID int) (*models.ListStatus, error) {
	user, err := c.GetUser(ctx, sess)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("filter[userId]", user.ID)
	params.Set("filter[animeId]", strconv.Itoa(animeID))
	doc, err := c.get(ctx, sess, c.baseURL+"/library-entries?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var entries []kitsuResource
	if err := json.Unmarshal(doc.Data, &entries); err != nil || len(entries) == 0 {
		return nil, fmt.Errorf("no library entry")
	}
	var attrs kitsuLibraryAttributes
	if err := json.Unmarshal(entries[0].Attributes, &attrs); err != nil {
		return nil, err
	}
	return &models.ListStatus{
		Status:             normalizeKitsuStatus(attrs.Status, attrs.Reconsuming),
		NumEpisodesWatched: attrs.Progress,
		IsRewatching:       attrs.Reconsuming,
		RewatchCount:       attrs.ReconsumeCount,
	}, nil
}

func (c *KitsuClient) libraryEntryID(ctx context.Context, sess Session, userID string, animeID int) (string, error) {
	params := url.Values{}
	params.Set("filter[userId]", userID)
	params.Set("filter[animeId]", strconv.Itoa(animeID))
	doc, err := c.get(ctx, sess, c.baseURL+"/library-entries?"+params.Encode())
	if err != nil {
		return "", err
	}
	var entries []kitsuResource
	if err := json.Unmarshal(doc.Data, &entries); err != nil {
		return "", fmt.Errorf("decode entries: %w", err)
	}
	if len(entries) == 0 {
		return "", nil
	}
	return entries[0].ID, nil
}

func kitsuToAnime(res kitsuResource) (models.Anime, error) {
	id, err := strconv.Atoi(res.ID)
	if err != nil {
		return models.Anime{}, fmt.Errorf("non-numeric kitsu id %q", res.ID)
	}
	var attrs kitsuAnimeAttributes
	if err := json.Unmarshal(res.Attributes, &attrs); err != nil {
		return models.Anime{}, fmt.Errorf("decode attributes: %w", err)
	}

	return models.Anime{
		ID:    id,
		Title: attrs.CanonicalTitle,
		AlternativeTitles: models.AlternativeTitles{
			En:       attrs.Titles.En,
			Ja:       attrs.Titles.JaJp,
			Synonyms: append([]string{attrs.Titles.EnJp}, attrs.AbbreviatedTitles...),
		},
		NumEpisodes:  attrs.EpisodeCount,
		AiringStatus: normalizeKitsuAiring(attrs.Status),
		NSFW:         attrs.Nsfw,
	}, nil
}

func kitsuStatus(status models.AnimeStatus) string {
	switch status {
	case models.StatusWatching, models.StatusRewatching:
		return "current"
	case models.StatusPlanToWatch:
		return "planned"
	case models.StatusOnHold:
		return "on_hold"
	default:
		return string(status)
	}
}

func normalizeKitsuStatus(status string, reconsuming bool) models.AnimeStatus {
	if reconsuming {
		return models.StatusRewatching
	}
	switch status {
	case "current":
		return models.StatusWatching
	case "planned":
		return models.StatusPlanToWatch
	default:
		return models.AnimeStatus(status)
	}
}

func normalizeKitsuAiring(status string) models.AiringStatus {
	switch status {
	case "finished":
		return models.AiringFinished
	case "current":
		return models.AiringCurrent
	default:
		return models.AiringNotYet
	}
}
