package models

import "strconv"

// AnimeStatus is a tracker list status for an anime entry.
type AnimeStatus string

const (
	StatusWatching    AnimeStatus = "watching"
	StatusCompleted   AnimeStatus = "completed"
	StatusOnHold      AnimeStatus = "on_hold"
	StatusDropped     AnimeStatus = "dropped"
	StatusPlanToWatch AnimeStatus = "plan_to_watch"
	StatusRewatching  AnimeStatus = "rewatching"
)

// AiringStatus describes whether an anime has finished broadcasting.
type AiringStatus string

const (
	AiringFinished AiringStatus = "finished_airing"
	AiringCurrent  AiringStatus = "currently_airing"
	AiringNotYet   AiringStatus = "not_yet_aired"
)

// RelationType classifies an edge between two related tracker entities.
type RelationType string

const (
	RelationSequel             RelationType = "sequel"
	RelationPrequel            RelationType = "prequel"
	RelationSideStory          RelationType = "side_story"
	RelationAlternativeSetting RelationType = "alternative_setting"
	RelationAlternativeVersion RelationType = "alternative_version"
	RelationSpinOff            RelationType = "spin_off"
	RelationOther              RelationType = "other"
)

// AlternativeTitles holds the localized and synonym titles of an anime.
type AlternativeTitles struct {
	En       string   `json:"en,omitempty"`
	Ja       string   `json:"ja,omitempty"`
	Synonyms []string `json:"synonyms,omitempty"`
}

// ListStatus is the authenticated user's list entry for an anime on a tracker.
type ListStatus struct {
	Status             AnimeStatus `json:"status"`
	NumEpisodesWatched int         `json:"numEpisodesWatched"`
	IsRewatching       bool        `json:"isRewatching"`
	RewatchCount       int         `json:"rewatchCount"`
}

// RelatedAnime is one edge of a tracker's relation graph. The referenced
// entity is shallow: only detail fetches populate its own relations.
type RelatedAnime struct {
	Anime    Anime        `json:"anime"`
	Relation RelationType `json:"relationType"`
}

// Anime is the provider-neutral shape every capability client converts its
// native schema into. ID is the provider's numeric identifier; trackers whose
// entities are not numbered that way carry an opaque AlternativeID instead,
// with ID holding the cross-referenced MyAnimeList number when known.
type Anime struct {
	ID                int               `json:"id"`
	AlternativeID     string            `json:"alternativeId,omitempty"`
	Title             string            `json:"title"`
	AlternativeTitles AlternativeTitles `json:"alternativeTitles"`
	NumEpisodes       int               `json:"numEpisodes"`
	AiringStatus      AiringStatus      `json:"airingStatus"`
	ListStatus        *ListStatus       `json:"myListStatus,omitempty"`
	Related           []RelatedAnime    `json:"relatedAnime,omitempty"`
	NSFW              bool              `json:"nsfw,omitempty"`
}

// Titles returns every known display name of the anime, primary title first.
func (a *Anime) Titles() []string {
	titles := make([]string, 0, 3+len(a.AlternativeTitles.Synonyms))
	titles = append(titles, a.Title)
	if a.AlternativeTitles.En != "" {
		titles = append(titles, a.AlternativeTitles.En)
	}
	if a.AlternativeTitles.Ja != "" {
		titles = append(titles, a.AlternativeTitles.Ja)
	}
	return append(titles, a.AlternativeTitles.Synonyms...)
}

// Key returns a stable identity for visited-set tracking during relation
// walks. Relation graphs can contain cycles, so walks must terminate on
// revisit rather than assuming a DAG.
func (a *Anime) Key() string {
	if a.AlternativeID != "" {
		return a.AlternativeID
	}
	return strconv.Itoa(a.ID)
}

// UpdateResult summarizes the remote entry state after a list update.
type UpdateResult struct {
	Status             AnimeStatus `json:"status"`
	NumEpisodesWatched int         `json:"numEpisodesWatched"`
	IsRewatching       bool        `json:"isRewatching"`
	RewatchCount       int         `json:"rewatchCount"`
}

// User is the authenticated tracker profile. ID is a string because some
// trackers use slugs rather than numbers.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CrossReferenceIDs maps one show across tracker ID spaces. Fields are
// pointers: absence of a mapping is distinct from zero.
type CrossReferenceIDs struct {
	AniList     *int `json:"anilist,omitempty"`
	AniDb       *int `json:"anidb,omitempty"`
	MyAnimeList *int `json:"myanimelist,omitempty"`
	Kitsu       *int `json:"kitsu,omitempty"`
}

// SeasonMappingEntry is one row of the community AniDb season-mapping table.
// EpisodeOffset is nil for a season's first row and set for subsequent cours
// of the same season.
type SeasonMappingEntry struct {
	AnidbID       int    `json:"anidbId"`
	TvdbID        int    `json:"tvdbId"`
	DefaultSeason int    `json:"defaultSeasonNumber"`
	EpisodeOffset *int   `json:"episodeOffset,omitempty"`
	Name          string `json:"name"`
}

// Offset returns the row's episode offset, treating a first-row nil as zero.
func (e SeasonMappingEntry) Offset() int {
	if e.EpisodeOffset == nil {
		return 0
	}
	return *e.EpisodeOffset
}
