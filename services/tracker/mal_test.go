package tracker

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"anisync/models"
)

func newTestMalClient(t *testing.T, handler http.Handler) *MalClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewMalClient(newTestExecutor(malAuth(), &fakeTokenSource{}, &fakeTimer{}))
	client.baseURL = server.URL
	return client
}

func TestMalSearchFollowsPagingAndCapsPages(t *testing.T) {
	var requests int
	var client *MalClient
	client = newTestMalClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		// Every page points to a next page; the client must stop at the cap.
		next := client.baseURL + "/anime?offset=" + fmt.Sprint(requests)
		fmt.Fprintf(w, `{"data":[{"node":{"id":%d,"title":"title %d"}}],"paging":{"next":%q}}`, requests, requests, next)
	}))

	animes, err := client.SearchAnime(context.Background(), Session{UserID: "u"}, "test")
	require.NoError(t, err)
	require.Len(t, animes, maxPages)
	require.Equal(t, maxPages, requests)
}

func TestMalSearchFiltersNSFW(t *testing.T) {
	client := newTestMalClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[
			{"node":{"id":1,"title":"safe","nsfw":"white"}},
			{"node":{"id":2,"title":"adult","nsfw":"black"}}
		]}`)
	}))

	animes, err := client.SearchAnime(context.Background(), Session{UserID: "u"}, "test")
	require.NoError(t, err)
	require.Len(t, animes, 1)
	require.Equal(t, 1, animes[0].ID)
}

func TestMalUpdateMapsRewatchingToCompletedPlusFlag(t *testing.T) {
	var form map[string][]string
	client := newTestMalClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		fmt.Fprint(w, `{"status":"completed","num_watched_episodes":5,"is_rewatching":true,"num_times_rewatched":1}`)
	}))

	count := 1
	result, err := client.UpdateAnime(context.Background(), Session{UserID: "u"}, 42, UpdateRequest{
		EpisodesWatched: 5,
		Status:          models.StatusRewatching,
		RewatchCount:    &count,
	})
	require.NoError(t, err)

	require.Equal(t, []string{"completed"}, form["status"])
	require.Equal(t, []string{"true"}, form["is_rewatching"])
	require.Equal(t, []string{"1"}, form["num_times_rewatched"])
	require.Equal(t, []string{"5"}, form["num_watched_episodes"])

	require.Equal(t, models.StatusRewatching, result.Status)
	require.Equal(t, 5, result.NumEpisodesWatched)
	require.True(t, result.IsRewatching)
}

func TestMalGetAnimeConvertsRelations(t *testing.T) {
	client := newTestMalClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"id": 1, "title": "Show", "num_episodes": 12, "status": "finished_airing",
			"my_list_status": {"status":"watching","num_watched_episodes":4},
			"related_anime": [
				{"node": {"id": 2, "title": "Show 2nd Season"}, "relation_type": "sequel"},
				{"node": {"id": 3, "title": "Show OVA"}, "relation_type": "side_story"},
				{"node": {"id": 4, "title": "Show Recap"}, "relation_type": "summary"}
			]
		}`)
	}))

	anime, err := client.GetAnime(context.Background(), Session{UserID: "u"}, 1, GetOptions{IncludeRelated: true})
	require.NoError(t, err)

	require.Equal(t, 12, anime.NumEpisodes)
	require.Equal(t, models.AiringFinished, anime.AiringStatus)
	require.NotNil(t, anime.ListStatus)
	require.Equal(t, models.StatusWatching, anime.ListStatus.Status)
	require.Equal(t, 4, anime.ListStatus.NumEpisodesWatched)

	require.Len(t, anime.Related, 3)
	require.Equal(t, models.RelationSequel, anime.Related[0].Relation)
	require.Equal(t, models.RelationSideStory, anime.Related[1].Relation)
	require.Equal(t, models.RelationOther, anime.Related[2].Relation)
}
