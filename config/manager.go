package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/afero"

	"anisync/models"
)

// Store is the persistence collaborator the sync engine goes through instead
// of a process-wide settings singleton. Token refresh is the only engine-side
// writer.
type Store interface {
	Load() (Settings, error)
	Save(Settings) error
}

// Manager is a file-backed Store. Reads and writes are serialized with a
// mutex; concurrent passes for the same user's token remain an unguarded
// race at the settings level.
type Manager struct {
	mu   sync.Mutex
	fs   afero.Fs
	path string
}

// NewManager creates a Manager persisting to the given path on the OS
// filesystem.
func NewManager(path string) *Manager {
	return NewManagerWithFs(afero.NewOsFs(), path)
}

// NewManagerWithFs creates a Manager on an explicit filesystem, used by tests.
func NewManagerWithFs(fs afero.Fs, path string) *Manager {
	return &Manager{fs: fs, path: path}
}

// Load reads the settings file. A missing file yields empty settings.
func (m *Manager) Load() (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := afero.ReadFile(m.fs, m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Settings{}, nil
		}
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}

	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return Settings{}, fmt.Errorf("parse settings: %w", err)
	}
	return settings, nil
}

// Save writes the settings file.
func (m *Manager) Save(settings Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := afero.WriteFile(m.fs, m.path, data, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// AuthFor returns the stored credential for (user, provider), or nil when
// the user has not authenticated with that tracker.
func (m *Manager) AuthFor(userID string, provider models.Provider) (*models.ProviderAuth, error) {
	settings, err := m.Load()
	if err != nil {
		return nil, err
	}
	user := settings.UserByID(userID)
	if user == nil {
		return nil, nil
	}
	if auth := user.AuthFor(provider); auth != nil {
		copied := *auth
		return &copied, nil
	}
	return nil, nil
}

// SaveAuth replaces the stored credential for (user, provider), creating the
// user record if needed. This is the token-refresh persistence path.
func (m *Manager) SaveAuth(userID string, auth models.ProviderAuth) error {
	settings, err := m.Load()
	if err != nil {
		return err
	}

	user := settings.UserByID(userID)
	if user == nil {
		settings.Users = append(settings.Users, UserConfig{UserID: userID})
		user = &settings.Users[len(settings.Users)-1]
	}

	for i := range user.Auth {
		if user.Auth[i].Provider == auth.Provider {
			user.Auth[i] = auth
			return m.Save(settings)
		}
	}
	user.Auth = append(user.Auth, auth)
	return m.Save(settings)
}

// DeleteAuth removes the stored credential for (user, provider). Used on
// explicit de-authentication.
func (m *Manager) DeleteAuth(userID string, provider models.Provider) error {
	settings, err := m.Load()
	if err != nil {
		return err
	}

	user := settings.UserByID(userID)
	if user == nil {
		return nil
	}

	kept := user.Auth[:0]
	for _, a := range user.Auth {
		if a.Provider != provider {
			kept = append(kept, a)
		}
	}
	user.Auth = kept
	return m.Save(settings)
}
