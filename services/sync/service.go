package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"

	"anisync/config"
	"anisync/logger"
	"anisync/models"
	"anisync/services/reconcile"
	"anisync/services/tracker"
	"anisync/services/xref"
)

// interItemDelay spaces consecutive tracker lookups in the bulk jobs.
const interItemDelay = 2 * time.Second

// PlayedUpdate tells the library which local episodes a tracker entry has
// covered. Both IDs travel because libraries key their series either way.
type PlayedUpdate struct {
	AnidbID     int
	TvdbID      int
	Season      int
	UpToEpisode int
	At          time.Time
}

// Library is the host media server surface the bulk jobs read and write.
type Library interface {
	Series(ctx context.Context, userID string) ([]models.Series, error)
	MarkPlayed(ctx context.Context, userID string, upd PlayedUpdate) error
}

// ClientResolver maps a provider name to its capability client. Satisfied by
// tracker.Registry.
type ClientResolver interface {
	Client(provider models.Provider) (tracker.Client, error)
}

// Service is the sync entry point the host hooks call. The public methods
// are fire-and-forget: they spawn one sequential pass and report outcomes
// through logs only.
type Service struct {
	registry   ClientResolver
	config     *config.Manager
	crosswalk  *xref.CrosswalkClient
	seasons    *xref.SeasonMap
	library    Library
	reconciler *reconcile.Reconciler
	engine     *Engine

	// sleep is the inter-item delay hook, injectable so bulk tests do not
	// take wall-clock seconds.
	sleep func(ctx context.Context, d time.Duration)
}

func NewService(registry ClientResolver, cfg *config.Manager, crosswalk *xref.CrosswalkClient, seasons *xref.SeasonMap, library Library) *Service {
	return &Service{
		registry:   registry,
		config:     cfg,
		crosswalk:  crosswalk,
		seasons:    seasons,
		library:    library,
		reconciler: reconcile.New(),
		engine:     NewEngine(),
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// Update pushes one watched episode to every tracker the user is
// authenticated against. Invoked by the host's playback-stopped hook, so it
// returns immediately and runs the pass in the background.
func (s *Service) Update(item models.LibraryItem, userID string, playedToCompletion bool) {
	s.spawn("update", func(ctx context.Context, passID string) {
		if !playedToCompletion {
			logger.Debugf("[sync] pass %s: %q S%02dE%02d not played to completion, ignoring", passID, item.SeriesName, item.SeasonNumber, item.EpisodeNumber)
			return
		}
		user, err := s.userConfig(userID)
		if err != nil {
			logger.Errorf("[sync] pass %s: %v", passID, err)
			return
		}
		s.updateItem(ctx, passID, user, item)
	})
}

// SyncFromProvider pulls the user's tracker watch-list and replays it onto
// the local library as played state. statuses narrows which lists are
// fetched; none means completed and watching.
func (s *Service) SyncFromProvider(userID string, statuses ...models.AnimeStatus) {
	s.spawn("from-provider", func(ctx context.Context, passID string) {
		user, err := s.userConfig(userID)
		if err != nil {
			logger.Errorf("[sync] pass %s: %v", passID, err)
			return
		}
		if err := s.syncFromProvider(ctx, passID, user, statuses); err != nil {
			logger.Errorf("[sync] pass %s: %v", passID, err)
		}
	})
}

// SyncFromLocal pushes the library's played state to the user's trackers,
// one progress update per (series, season).
func (s *Service) SyncFromLocal(userID string) {
	s.spawn("from-local", func(ctx context.Context, passID string) {
		user, err := s.userConfig(userID)
		if err != nil {
			logger.Errorf("[sync] pass %s: %v", passID, err)
			return
		}
		if err := s.syncFromLocal(ctx, passID, user); err != nil {
			logger.Errorf("[sync] pass %s: %v", passID, err)
		}
	})
}

// VerifyAuth confirms a stored credential still works by fetching the
// tracker profile it belongs to.
func (s *Service) VerifyAuth(ctx context.Context, userID string, provider models.Provider) (*models.User, error) {
	user, err := s.userConfig(userID)
	if err != nil {
		return nil, err
	}
	client, err := s.registry.Client(provider)
	if err != nil {
		return nil, err
	}
	return client.GetUser(ctx, s.session(user))
}

// spawn runs one pass on its own goroutine. A panic in a pass is contained
// and logged rather than taking the host process down.
func (s *Service) spawn(kind string, pass func(ctx context.Context, passID string)) {
	passID := uuid.NewString()[:8]
	go func() {
		recovered := panics.Try(func() {
			pass(context.Background(), passID)
		})
		if recovered != nil {
			logger.Errorf("[sync] pass %s (%s) panicked: %v\n%s", passID, kind, recovered.Value, recovered.Stack)
		}
	}()
}

func (s *Service) userConfig(userID string) (*config.UserConfig, error) {
	settings, err := s.config.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	user := settings.UserByID(userID)
	if user == nil {
		return nil, fmt.Errorf("no configuration for user %s", userID)
	}
	return user, nil
}

func (s *Service) session(user *config.UserConfig) tracker.Session {
	return tracker.Session{UserID: user.UserID, AllowNSFW: user.AllowNSFW}
}

// updateItem reconciles and applies one episode against every authenticated
// tracker. Failures are item-and-provider-local: one tracker erroring never
// stops the others.
func (s *Service) updateItem(ctx context.Context, passID string, user *config.UserConfig, item models.LibraryItem) {
	if !user.Policy.InLibraryFilter(item.SeriesID) {
		logger.Debugf("[sync] pass %s: series %q excluded by library filter", passID, item.SeriesName)
		return
	}

	providers := user.AuthenticatedProviders()
	if len(providers) == 0 {
		logger.Infof("[sync] pass %s: user %s has no authenticated trackers", passID, user.UserID)
		return
	}

	refs := s.crossReferences(ctx, item)
	sess := s.session(user)

	for _, provider := range providers {
		if err := s.updateOne(ctx, sess, user, provider, item, refs); err != nil {
			logger.Errorf("[sync] pass %s: %s: %q S%02dE%02d: %v", passID, provider, item.SeriesName, item.SeasonNumber, item.EpisodeNumber, err)
			continue
		}
	}
}

func (s *Service) updateOne(ctx context.Context, sess tracker.Session, user *config.UserConfig, provider models.Provider, item models.LibraryItem, refs *models.CrossReferenceIDs) error {
	client, err := s.registry.Client(provider)
	if err != nil {
		return err
	}

	root, err := s.rootEntity(ctx, client, sess, item, refs)
	if err != nil {
		return err
	}

	res, err := s.reconciler.Resolve(ctx, client, sess, root, item.SeasonNumber, item.EpisodeNumber, item.ItemName)
	if err != nil {
		return err
	}

	_, err = s.engine.Apply(ctx, client, sess, res.Anime, res.Episode, refs, user.Policy)
	return err
}
