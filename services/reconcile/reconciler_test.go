package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anisync/models"
	"anisync/services/tracker"
)

// fakeClient serves a fixed entity graph and records update calls.
type fakeClient struct {
	animes  map[int]*models.Anime
	updates []updateCall
}

type updateCall struct {
	id  int
	req tracker.UpdateRequest
}

func (f *fakeClient) Name() models.Provider { return models.ProviderMal }

func (f *fakeClient) SearchAnime(ctx context.Context, sess tracker.Session, query string) ([]models.Anime, error) {
	return nil, nil
}

func (f *fakeClient) GetAnime(ctx context.Context, sess tracker.Session, id int, opts tracker.GetOptions) (*models.Anime, error) {
	a, ok := f.animes[id]
	if !ok {
		return nil, tracker.ErrNotFound
	}
	copied := *a
	return &copied, nil
}

func (f *fakeClient) UpdateAnime(ctx context.Context, sess tracker.Session, id int, req tracker.UpdateRequest) (*models.UpdateResult, error) {
	f.updates = append(f.updates, updateCall{id: id, req: req})
	return &models.UpdateResult{Status: req.Status, NumEpisodesWatched: req.EpisodesWatched}, nil
}

func (f *fakeClient) GetAnimeList(ctx context.Context, sess tracker.Session, status models.AnimeStatus) ([]models.Anime, error) {
	return nil, nil
}

func (f *fakeClient) GetUser(ctx context.Context, sess tracker.Session) (*models.User, error) {
	return &models.User{ID: "1", Name: "test"}, nil
}

func anime(id, episodes int, title string) *models.Anime {
	return &models.Anime{
		ID:           id,
		Title:        title,
		NumEpisodes:  episodes,
		AiringStatus: models.AiringFinished,
	}
}

func relate(from *models.Anime, rel models.RelationType, to *models.Anime) {
	from.Related = append(from.Related, models.RelatedAnime{
		Anime:    models.Anime{ID: to.ID, Title: to.Title},
		Relation: rel,
	})
}

// newSequelGraph builds a 12-episode season 1 with a 13-episode sequel, the
// shape most two-season shows take.
func newSequelGraph() (*fakeClient, *models.Anime) {
	s1 := anime(1, 12, "Show")
	s2 := anime(2, 13, "Show 2nd Season")
	relate(s1, models.RelationSequel, s2)
	client := &fakeClient{animes: map[int]*models.Anime{1: s1, 2: s2}}
	return client, s1
}

func TestResolveSeasonOneIsTerminal(t *testing.T) {
	client, root := newSequelGraph()

	res, err := New().Resolve(context.Background(), client, tracker.Session{}, root, 1, 5, "Show")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Anime.ID)
	assert.Equal(t, 5, res.Episode)
	assert.Empty(t, client.updates)
}

func TestResolveSeasonTwoWalksOneSequelHop(t *testing.T) {
	client, root := newSequelGraph()

	res, err := New().Resolve(context.Background(), client, tracker.Session{}, root, 2, 5, "Show")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Anime.ID)
	assert.Equal(t, 5, res.Episode)
}

func TestResolveMissingSequelFails(t *testing.T) {
	client, root := newSequelGraph()

	_, err := New().Resolve(context.Background(), client, tracker.Session{}, root, 3, 1, "Show")
	assert.ErrorIs(t, err, ErrMissingRelation)
}

func TestResolveMultiCourOverflow(t *testing.T) {
	client, root := newSequelGraph()

	// Episode 13 of local season 1 overflows the 12-episode first cour.
	res, err := New().Resolve(context.Background(), client, tracker.Session{}, root, 1, 13, "Show")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Anime.ID)
	assert.Equal(t, 1, res.Episode)

	// The exhausted cour was finalized as completed through its full count.
	require.Len(t, client.updates, 1)
	assert.Equal(t, 1, client.updates[0].id)
	assert.Equal(t, models.StatusCompleted, client.updates[0].req.Status)
	assert.Equal(t, 12, client.updates[0].req.EpisodesWatched)
}

func TestResolveMultiCourConservation(t *testing.T) {
	// Local episode = sum of prior cour counts + adjusted episode.
	s1 := anime(1, 12, "Show")
	s2 := anime(2, 12, "Show Part 2")
	s3 := anime(3, 13, "Show Part 3")
	relate(s1, models.RelationSequel, s2)
	relate(s2, models.RelationSequel, s3)
	client := &fakeClient{animes: map[int]*models.Anime{1: s1, 2: s2, 3: s3}}

	res, err := New().Resolve(context.Background(), client, tracker.Session{}, s1, 1, 30, "Show")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Anime.ID)
	assert.Equal(t, 6, res.Episode)
	require.Len(t, client.updates, 2)
}

func TestResolveMultiCourSkipsFinalizingCompletedCour(t *testing.T) {
	client, root := newSequelGraph()
	client.animes[1].ListStatus = &models.ListStatus{
		Status:             models.StatusCompleted,
		NumEpisodesWatched: 12,
	}

	_, err := New().Resolve(context.Background(), client, tracker.Session{}, root, 1, 13, "Show")
	require.NoError(t, err)
	assert.Empty(t, client.updates)
}

func TestResolveAiringUncountedFallsBackToRoot(t *testing.T) {
	s1 := anime(1, 12, "Show")
	s2 := anime(2, 0, "Show 2nd Season")
	s2.AiringStatus = models.AiringCurrent
	relate(s1, models.RelationSequel, s2)
	client := &fakeClient{animes: map[int]*models.Anime{1: s1, 2: s2}}

	res, err := New().Resolve(context.Background(), client, tracker.Session{}, s1, 1, 14, "Show")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Anime.ID)
	assert.Equal(t, 14, res.Episode)
}

func TestResolveCyclicGraphTerminates(t *testing.T) {
	s1 := anime(1, 12, "Show")
	s2 := anime(2, 12, "Show 2")
	relate(s1, models.RelationSequel, s2)
	relate(s2, models.RelationSequel, s1)
	client := &fakeClient{animes: map[int]*models.Anime{1: s1, 2: s2}}

	_, err := New().Resolve(context.Background(), client, tracker.Session{}, s1, 4, 1, "Show")
	assert.ErrorIs(t, err, ErrMissingRelation)
}

func TestResolveSpecialByFuzzyTitle(t *testing.T) {
	root := anime(1, 12, "Show")
	ova := anime(10, 1, "Show: The Beach Episode!")
	recap := anime(11, 1, "Show Recap")
	relate(root, models.RelationSideStory, recap)
	relate(root, models.RelationSideStory, ova)
	client := &fakeClient{animes: map[int]*models.Anime{1: root, 10: ova, 11: recap}}

	res, err := New().Resolve(context.Background(), client, tracker.Session{}, root, 0, 1, "the beach episode")
	require.NoError(t, err)
	assert.Equal(t, 10, res.Anime.ID)
	assert.Equal(t, 1, res.Episode)
}

func TestResolveSpecialNoMatchFails(t *testing.T) {
	root := anime(1, 12, "Show")
	ova := anime(10, 1, "Show OVA")
	relate(root, models.RelationSideStory, ova)
	// A sequel edge must never be considered for season 0.
	relate(root, models.RelationSequel, anime(2, 12, "Something Else Entirely"))
	client := &fakeClient{animes: map[int]*models.Anime{1: root, 10: ova}}

	_, err := New().Resolve(context.Background(), client, tracker.Session{}, root, 0, 1, "Something Else Entirely")
	assert.ErrorIs(t, err, ErrNoSpecialMatch)
}

func TestNormalizeTitle(t *testing.T) {
	assert.Equal(t, "showthebeachepisode", normalizeTitle("Show: The Beach Episode!"))
	assert.Equal(t, "2", normalizeTitle(" 2 "))
	assert.Equal(t, "", normalizeTitle("---"))
}
