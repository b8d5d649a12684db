package models

// LibraryItem is one watched episode as reported by the host media server.
// AnidbID comes from the metadata provider attached to the library item and
// is the entry point into the cross-reference ID spaces.
type LibraryItem struct {
	SeriesID      string `json:"seriesId"`
	SeriesName    string `json:"seriesName"`
	ItemName      string `json:"itemName"`
	SeasonNumber  int    `json:"seasonNumber"`
	EpisodeNumber int    `json:"episodeNumber"`
	AnidbID       *int   `json:"anidbId,omitempty"`
	TvdbID        *int   `json:"tvdbId,omitempty"`
}

// Series is a local library series with its per-season played state.
type Series struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	AnidbID *int     `json:"anidbId,omitempty"`
	Seasons []Season `json:"seasons"`
}

// Season groups the episode played state for one local season index.
// Number 0 is the specials/OVA season.
type Season struct {
	Number   int            `json:"number"`
	Episodes []EpisodeState `json:"episodes"`
}

// EpisodeState is the local played flag for one episode.
type EpisodeState struct {
	Number int    `json:"number"`
	Name   string `json:"name,omitempty"`
	Played bool   `json:"played"`
}

// HighestPlayed returns the highest-index played episode of the season,
// or 0 when nothing has been played.
func (s Season) HighestPlayed() int {
	highest := 0
	for _, ep := range s.Episodes {
		if ep.Played && ep.Number > highest {
			highest = ep.Number
		}
	}
	return highest
}
