package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anisync/models"
	"anisync/services/tracker"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

// stubClient records update requests and answers them successfully.
type stubClient struct {
	updates []tracker.UpdateRequest
	animes  map[int]*models.Anime
	lists   map[models.AnimeStatus][]models.Anime
	updErr  error
}

func (s *stubClient) Name() models.Provider { return models.ProviderMal }

func (s *stubClient) SearchAnime(ctx context.Context, sess tracker.Session, query string) ([]models.Anime, error) {
	return nil, nil
}

func (s *stubClient) GetAnime(ctx context.Context, sess tracker.Session, id int, opts tracker.GetOptions) (*models.Anime, error) {
	a, ok := s.animes[id]
	if !ok {
		return nil, tracker.ErrNotFound
	}
	copied := *a
	return &copied, nil
}

func (s *stubClient) UpdateAnime(ctx context.Context, sess tracker.Session, id int, req tracker.UpdateRequest) (*models.UpdateResult, error) {
	if s.updErr != nil {
		return nil, s.updErr
	}
	s.updates = append(s.updates, req)
	return &models.UpdateResult{Status: req.Status, NumEpisodesWatched: req.EpisodesWatched}, nil
}

func (s *stubClient) GetAnimeList(ctx context.Context, sess tracker.Session, status models.AnimeStatus) ([]models.Anime, error) {
	return s.lists[status], nil
}

func (s *stubClient) GetUser(ctx context.Context, sess tracker.Session) (*models.User, error) {
	return &models.User{ID: "7", Name: "tester"}, nil
}

func newTestEngine() *Engine {
	return &Engine{now: func() time.Time { return testNow }}
}

func show(episodes int, status *models.ListStatus) *models.Anime {
	return &models.Anime{
		ID:           1,
		Title:        "Show",
		NumEpisodes:  episodes,
		AiringStatus: models.AiringFinished,
		ListStatus:   status,
	}
}

func TestApplyWatchingAdvancesProgress(t *testing.T) {
	client := &stubClient{}
	anime := show(12, &models.ListStatus{Status: models.StatusWatching, NumEpisodesWatched: 4})

	res, err := newTestEngine().Apply(context.Background(), client, tracker.Session{}, anime, 5, nil, models.SyncPolicy{})
	require.NoError(t, err)
	require.NotNil(t, res)

	require.Len(t, client.updates, 1)
	req := client.updates[0]
	assert.Equal(t, models.StatusWatching, req.Status)
	assert.Equal(t, 5, req.EpisodesWatched)
	assert.Nil(t, req.StartDate)
}

func TestApplyIdempotenceGuard(t *testing.T) {
	client := &stubClient{}
	anime := show(12, &models.ListStatus{Status: models.StatusWatching, NumEpisodesWatched: 8})

	res, err := newTestEngine().Apply(context.Background(), client, tracker.Session{}, anime, 5, nil, models.SyncPolicy{})
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Empty(t, client.updates)
}

func TestApplyPlanToWatchOnlyStartsNewWatch(t *testing.T) {
	client := &stubClient{}
	anime := show(12, &models.ListStatus{Status: models.StatusPlanToWatch})

	_, err := newTestEngine().Apply(context.Background(), client, tracker.Session{}, anime, 1, nil, models.SyncPolicy{PlanToWatchOnly: true})
	require.NoError(t, err)

	require.Len(t, client.updates, 1)
	req := client.updates[0]
	assert.Equal(t, models.StatusWatching, req.Status)
	// A watch starting at episode 1 gets a start date.
	require.NotNil(t, req.StartDate)
	assert.Equal(t, testNow, *req.StartDate)
	assert.Nil(t, req.EndDate)
}

func TestApplyPlanToWatchOnlySkipsOthers(t *testing.T) {
	client := &stubClient{}
	anime := show(12, &models.ListStatus{Status: models.StatusOnHold, NumEpisodesWatched: 3})

	res, err := newTestEngine().Apply(context.Background(), client, tracker.Session{}, anime, 5, nil, models.SyncPolicy{PlanToWatchOnly: true})
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Empty(t, client.updates)
}

func TestApplyPlanToWatchOnlyRewatchesCompleted(t *testing.T) {
	client := &stubClient{}
	anime := show(12, &models.ListStatus{Status: models.StatusCompleted, NumEpisodesWatched: 12, RewatchCount: 1})

	_, err := newTestEngine().Apply(context.Background(), client, tracker.Session{}, anime, 3, nil, models.SyncPolicy{
		PlanToWatchOnly:  true,
		RewatchCompleted: true,
	})
	require.NoError(t, err)

	require.Len(t, client.updates, 1)
	req := client.updates[0]
	assert.Equal(t, models.StatusRewatching, req.Status)
	assert.Equal(t, 3, req.EpisodesWatched)
}

func TestApplyCompletedWithoutRewatchPolicySkips(t *testing.T) {
	client := &stubClient{}
	anime := show(12, &models.ListStatus{Status: models.StatusCompleted, NumEpisodesWatched: 12})

	res, err := newTestEngine().Apply(context.Background(), client, tracker.Session{}, anime, 5, nil, models.SyncPolicy{})
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Empty(t, client.updates)
}

func TestApplyFirstCompletionStampsDates(t *testing.T) {
	client := &stubClient{}
	anime := show(12, &models.ListStatus{Status: models.StatusWatching, NumEpisodesWatched: 11})

	_, err := newTestEngine().Apply(context.Background(), client, tracker.Session{}, anime, 12, nil, models.SyncPolicy{})
	require.NoError(t, err)

	require.Len(t, client.updates, 1)
	req := client.updates[0]
	assert.Equal(t, models.StatusCompleted, req.Status)
	require.NotNil(t, req.StartDate)
	require.NotNil(t, req.EndDate)
	assert.Equal(t, testNow, *req.EndDate)
	assert.Nil(t, req.RewatchCount)
}

func TestApplyNewMovieCompletesImmediately(t *testing.T) {
	client := &stubClient{}
	anime := show(1, nil)

	_, err := newTestEngine().Apply(context.Background(), client, tracker.Session{}, anime, 1, nil, models.SyncPolicy{})
	require.NoError(t, err)

	require.Len(t, client.updates, 1)
	req := client.updates[0]
	assert.Equal(t, models.StatusCompleted, req.Status)
	assert.False(t, req.IsShow)
	require.NotNil(t, req.StartDate)
	require.NotNil(t, req.EndDate)
	assert.Equal(t, *req.StartDate, *req.EndDate)
}

func TestApplyNewShowStartsWatching(t *testing.T) {
	client := &stubClient{}
	anime := show(12, nil)

	_, err := newTestEngine().Apply(context.Background(), client, tracker.Session{}, anime, 1, nil, models.SyncPolicy{})
	require.NoError(t, err)

	require.Len(t, client.updates, 1)
	assert.Equal(t, models.StatusWatching, client.updates[0].Status)
	assert.True(t, client.updates[0].IsShow)
}

func TestApplyFinishingRewatchIncrementsCount(t *testing.T) {
	client := &stubClient{}
	anime := show(12, &models.ListStatus{
		Status:             models.StatusRewatching,
		NumEpisodesWatched: 11,
		IsRewatching:       true,
		RewatchCount:       2,
	})

	_, err := newTestEngine().Apply(context.Background(), client, tracker.Session{}, anime, 12, nil, models.SyncPolicy{RewatchCompleted: true})
	require.NoError(t, err)

	require.Len(t, client.updates, 1)
	req := client.updates[0]
	assert.Equal(t, models.StatusCompleted, req.Status)
	require.NotNil(t, req.RewatchCount)
	assert.Equal(t, 3, *req.RewatchCount)
	// Dates belong to the first completion only.
	assert.Nil(t, req.StartDate)
	assert.Nil(t, req.EndDate)
}

func TestApplyMidRewatchKeepsRewatchStatus(t *testing.T) {
	client := &stubClient{}
	anime := show(12, &models.ListStatus{
		Status:             models.StatusRewatching,
		NumEpisodesWatched: 3,
		IsRewatching:       true,
		RewatchCount:       1,
	})

	_, err := newTestEngine().Apply(context.Background(), client, tracker.Session{}, anime, 4, nil, models.SyncPolicy{})
	require.NoError(t, err)

	require.Len(t, client.updates, 1)
	assert.Equal(t, models.StatusRewatching, client.updates[0].Status)
	assert.Equal(t, 4, client.updates[0].EpisodesWatched)
}
