package sync

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anisync/config"
	"anisync/models"
	"anisync/services/reconcile"
	"anisync/services/tracker"
	"anisync/services/xref"
)

type stubResolver struct{ client tracker.Client }

func (r stubResolver) Client(models.Provider) (tracker.Client, error) { return r.client, nil }

type stubLibrary struct {
	series []models.Series
	played []PlayedUpdate
}

func (l *stubLibrary) Series(ctx context.Context, userID string) ([]models.Series, error) {
	return l.series, nil
}

func (l *stubLibrary) MarkPlayed(ctx context.Context, userID string, upd PlayedUpdate) error {
	l.played = append(l.played, upd)
	return nil
}

// newTestService wires a service over in-process crosswalk and season-map
// endpoints, with sleeps recorded instead of taken.
func newTestService(t *testing.T, client tracker.Client, library *stubLibrary) (*Service, *[]time.Duration) {
	t.Helper()

	crosswalk := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"anidb":900,"myanimelist":21,"anilist":2928,"kitsu":44}`)
	}))
	t.Cleanup(crosswalk.Close)

	seasons := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"anidbId": 900, "tvdbId": 500, "defaultSeasonNumber": 1, "name": "Show"}]`)
	}))
	t.Cleanup(seasons.Close)

	var sleeps []time.Duration
	svc := &Service{
		registry:   stubResolver{client: client},
		crosswalk:  xref.NewCrosswalkClient(crosswalk.URL),
		seasons:    xref.NewSeasonMap(afero.NewMemMapFs(), "/season-map.json", seasons.URL),
		library:    library,
		reconciler: reconcile.New(),
		engine:     newTestEngine(),
		sleep: func(ctx context.Context, d time.Duration) {
			sleeps = append(sleeps, d)
		},
	}
	return svc, &sleeps
}

func testUser(policy models.SyncPolicy) *config.UserConfig {
	return &config.UserConfig{
		UserID:       "u1",
		Auth:         []models.ProviderAuth{{Provider: models.ProviderMal, AccessToken: "tok"}},
		Policy:       policy,
		SyncProvider: models.ProviderMal,
	}
}

func anidb(id int) *int { return &id }

func TestUpdateItemPushesProgress(t *testing.T) {
	client := &stubClient{animes: map[int]*models.Anime{
		21: show(12, &models.ListStatus{Status: models.StatusWatching, NumEpisodesWatched: 4}),
	}}
	svc, _ := newTestService(t, client, &stubLibrary{})

	svc.updateItem(context.Background(), "p1", testUser(models.SyncPolicy{}), models.LibraryItem{
		SeriesID:      "s1",
		SeriesName:    "Show",
		SeasonNumber:  1,
		EpisodeNumber: 5,
		AnidbID:       anidb(900),
	})

	require.Len(t, client.updates, 1)
	assert.Equal(t, 5, client.updates[0].EpisodesWatched)
	assert.Equal(t, models.StatusWatching, client.updates[0].Status)
	// Cross references resolved for the item ride along on the request.
	require.NotNil(t, client.updates[0].CrossRefs)
	assert.Equal(t, 900, *client.updates[0].CrossRefs.AniDb)
}

func TestUpdateItemHonorsLibraryFilter(t *testing.T) {
	client := &stubClient{}
	svc, _ := newTestService(t, client, &stubLibrary{})

	svc.updateItem(context.Background(), "p1", testUser(models.SyncPolicy{LibraryFilter: []string{"other"}}), models.LibraryItem{
		SeriesID:      "s1",
		SeriesName:    "Show",
		SeasonNumber:  1,
		EpisodeNumber: 5,
		AnidbID:       anidb(900),
	})

	assert.Empty(t, client.updates)
}

func TestSyncFromLocalPushesHighestPlayedPerSeason(t *testing.T) {
	client := &stubClient{animes: map[int]*models.Anime{
		21: show(12, &models.ListStatus{Status: models.StatusWatching, NumEpisodesWatched: 1}),
	}}
	library := &stubLibrary{series: []models.Series{
		{
			ID:      "s1",
			Name:    "Show",
			AnidbID: anidb(900),
			Seasons: []models.Season{{
				Number: 1,
				Episodes: []models.EpisodeState{
					{Number: 1, Played: true},
					{Number: 2, Played: true},
					{Number: 3, Played: false},
				},
			}},
		},
		{ID: "s2", Name: "Unwatched", Seasons: []models.Season{{Number: 1, Episodes: []models.EpisodeState{{Number: 1}}}}},
	}}
	svc, sleeps := newTestService(t, client, library)

	err := svc.syncFromLocal(context.Background(), "p1", testUser(models.SyncPolicy{}))
	require.NoError(t, err)

	require.Len(t, client.updates, 1)
	assert.Equal(t, 2, client.updates[0].EpisodesWatched)
	// One sleep between the two series, none after the last.
	assert.Equal(t, []time.Duration{interItemDelay}, *sleeps)
}

func TestSyncFromProviderMarksLocalPlayed(t *testing.T) {
	completed := *show(12, &models.ListStatus{Status: models.StatusCompleted, NumEpisodesWatched: 0})
	completed.ID = 21
	watching := *show(24, &models.ListStatus{Status: models.StatusWatching, NumEpisodesWatched: 7})
	watching.ID = 21

	client := &stubClient{lists: map[models.AnimeStatus][]models.Anime{
		models.StatusCompleted: {completed},
		models.StatusWatching:  {watching},
	}}
	library := &stubLibrary{}
	svc, sleeps := newTestService(t, client, library)

	err := svc.syncFromProvider(context.Background(), "p1", testUser(models.SyncPolicy{}), nil)
	require.NoError(t, err)

	require.Len(t, library.played, 2)
	// A completed entry with no progress counter covers the full run.
	assert.Equal(t, 12, library.played[0].UpToEpisode)
	assert.Equal(t, 1, library.played[0].Season)
	assert.Equal(t, 500, library.played[0].TvdbID)
	assert.Equal(t, 7, library.played[1].UpToEpisode)
	assert.Len(t, *sleeps, 1)
}

func TestSyncFromProviderRequiresProvider(t *testing.T) {
	svc, _ := newTestService(t, &stubClient{}, &stubLibrary{})
	user := testUser(models.SyncPolicy{})
	user.SyncProvider = ""

	err := svc.syncFromProvider(context.Background(), "p1", user, nil)
	assert.Error(t, err)
}

func TestSyncFromProviderSkipsUnlistedEntries(t *testing.T) {
	entry := *show(12, nil)
	entry.ID = 21
	client := &stubClient{lists: map[models.AnimeStatus][]models.Anime{
		models.StatusCompleted: {entry},
	}}
	library := &stubLibrary{}
	svc, _ := newTestService(t, client, library)

	err := svc.syncFromProvider(context.Background(), "p1", testUser(models.SyncPolicy{}), []models.AnimeStatus{models.StatusCompleted})
	require.NoError(t, err)
	assert.Empty(t, library.played)
}
