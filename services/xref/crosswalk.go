// Package xref resolves identities across tracker ID spaces: the external
// ID-crosswalk service and the community AniDb season-mapping table.
package xref

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"anisync/models"
)

// Source names the ID space a crosswalk lookup starts from.
type Source string

const (
	SourceAniDb   Source = "anidb"
	SourceAniList Source = "anilist"
	SourceMal     Source = "myanimelist"
	SourceKitsu   Source = "kitsu"
)

// ErrNoCrossReference means the crosswalk service knows nothing about the ID.
// This is a frequent, expected outcome: metadata coverage is incomplete.
var ErrNoCrossReference = errors.New("no cross reference")

// CrosswalkClient queries the external ID-crosswalk lookup service.
type CrosswalkClient struct {
	httpc   *http.Client
	baseURL string
}

func NewCrosswalkClient(baseURL string) *CrosswalkClient {
	return &CrosswalkClient{
		httpc:   &http.Client{Timeout: 15 * time.Second},
		baseURL: baseURL,
	}
}

// Resolve maps an ID from the given source space onto the other spaces.
// Transport failures surface as errors; callers are expected to fall back to
// a partial record built from the value they already hold (see Partial)
// rather than aborting the item.
func (c *CrosswalkClient) Resolve(ctx context.Context, source Source, id int) (*models.CrossReferenceIDs, error) {
	params := url.Values{}
	params.Set("source", string(source))
	params.Set("id", strconv.Itoa(id))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ids?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("crosswalk request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNoCrossReference
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("crosswalk failed: %s - %s", resp.Status, string(body))
	}

	var ids models.CrossReferenceIDs
	if err := json.NewDecoder(resp.Body).Decode(&ids); err != nil {
		return nil, fmt.Errorf("decode crosswalk response: %w", err)
	}
	return &ids, nil
}

// Partial builds a single-field cross-reference record from an ID the caller
// already holds, the fallback when the crosswalk service is unreachable.
func Partial(source Source, id int) *models.CrossReferenceIDs {
	ids := &models.CrossReferenceIDs{}
	switch source {
	case SourceAniDb:
		ids.AniDb = &id
	case SourceAniList:
		ids.AniList = &id
	case SourceMal:
		ids.MyAnimeList = &id
	case SourceKitsu:
		ids.Kitsu = &id
	}
	return ids
}
