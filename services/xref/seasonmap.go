package xref

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/spf13/afero"

	"anisync/logger"
	"anisync/models"
)

// ErrNoSeasonMapping means the table has no row for the AniDb ID. Like
// missing cross references, this is expected and the item is skipped.
var ErrNoSeasonMapping = errors.New("no season mapping")

// errTableUnavailable marks a table that failed to download or parse; further
// calls fail fast instead of hammering the source until Refresh clears it.
var errTableUnavailable = errors.New("season mapping table unavailable")

// SeasonMap serves the community season-mapping table keyed by AniDb ID. The
// table is downloaded on first use, cached on the filesystem, and parsed into
// memory once per process.
type SeasonMap struct {
	mu    sync.Mutex
	fs    afero.Fs
	path  string
	url   string
	httpc *http.Client

	entries map[int][]models.SeasonMappingEntry
	loaded  bool
	broken  bool
}

// NewSeasonMap creates a SeasonMap caching the table from url at path.
func NewSeasonMap(fs afero.Fs, path, url string) *SeasonMap {
	return &SeasonMap{
		fs:    fs,
		path:  path,
		url:   url,
		httpc: &http.Client{Timeout: 30 * time.Second},
	}
}

// ResolveSeason returns the mapping row covering the given absolute episode
// of the AniDb entity. When a season is split into cours with per-row
// offsets, the row with the highest offset not exceeding the episode wins;
// rows are sorted by offset first so malformed file ordering cannot shift
// the match, and the last row wins ties.
func (m *SeasonMap) ResolveSeason(ctx context.Context, anidbID, episode int) (*models.SeasonMappingEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	rows := append([]models.SeasonMappingEntry(nil), m.entries[anidbID]...)
	if len(rows) == 0 {
		return nil, ErrNoSeasonMapping
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Offset() < rows[j].Offset()
	})

	var match *models.SeasonMappingEntry
	for i := range rows {
		if rows[i].Offset() <= episode-1 {
			match = &rows[i]
		}
	}
	if match == nil {
		// All offsets exceed the episode; the first cour covers it.
		match = &rows[0]
	}

	selected := *match
	return &selected, nil
}

// Refresh forces a re-download of the table, clearing any failure state.
// Used by the scheduled refresh job.
func (m *SeasonMap) Refresh(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.loaded = false
	m.broken = false
	if err := m.download(ctx); err != nil {
		m.broken = true
		return err
	}
	if err := m.parse(); err != nil {
		m.broken = true
		return err
	}
	return nil
}

// ensureLoaded parses the cached table, downloading it once when the file is
// missing or unparsable. A parse failure of a freshly downloaded file is
// terminal until Refresh.
func (m *SeasonMap) ensureLoaded(ctx context.Context) error {
	if m.loaded {
		return nil
	}
	if m.broken {
		return errTableUnavailable
	}

	if err := m.parse(); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		logger.Warnf("[xref] cached season mapping table unusable, re-downloading: %v", err)
	}

	if err := m.download(ctx); err != nil {
		m.broken = true
		logger.Errorf("[xref] season mapping download failed: %v", err)
		return errTableUnavailable
	}
	if err := m.parse(); err != nil {
		m.broken = true
		logger.Errorf("[xref] season mapping table failed to parse after download: %v", err)
		return errTableUnavailable
	}
	return nil
}

func (m *SeasonMap) parse() error {
	data, err := afero.ReadFile(m.fs, m.path)
	if err != nil {
		return err
	}

	var rows []models.SeasonMappingEntry
	if err := json.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("parse season mapping table: %w", err)
	}

	entries := make(map[int][]models.SeasonMappingEntry)
	for _, row := range rows {
		entries[row.AnidbID] = append(entries[row.AnidbID], row)
	}
	m.entries = entries
	m.loaded = true
	m.broken = false
	return nil
}

func (m *SeasonMap) download(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := m.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("download table: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download table: unexpected status %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read table: %w", err)
	}
	if err := afero.WriteFile(m.fs, m.path, data, 0o644); err != nil {
		return fmt.Errorf("cache table: %w", err)
	}
	logger.Infof("[xref] season mapping table downloaded (%d bytes)", len(data))
	return nil
}
