package stash

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"yarnstash/internal/blob"
	"yarnstash/pkg/domain"
)

// SettingsName is the settings file name within the namespace. Settings
// travel with the document in exports so preferences follow the data.
const SettingsName = "settings.json"

// Settings holds user preferences. Unlike the stash document, settings load
// leniently: anything unreadable falls back to defaults so a corrupt
// preferences file can never block access to the data.
type Settings struct {
	Language          string            `json:"language"`
	ProjectToggles    map[string]bool   `json:"projectToggles,omitempty"`
	HideUsedYarns     bool              `json:"hideUsedYarns"`
	StatisticTimespan string            `json:"statisticTimespan"`
	LengthUnit        domain.LengthUnit `json:"lengthUnit"`
}

// DefaultSettings returns the settings applied on first launch or when the
// stored file cannot be read.
func DefaultSettings() Settings {
	return Settings{
		Language:          "en",
		StatisticTimespan: "year",
		LengthUnit:        domain.UnitMeter,
	}
}

// SettingsManager persists settings through the same blob namespace as the
// repository.
type SettingsManager struct {
	store     blob.Store
	namespace string
	logger    zerolog.Logger
}

// NewSettingsManager builds a manager over the repository's store and
// namespace.
func NewSettingsManager(repo *Repository, logger zerolog.Logger) *SettingsManager {
	return &SettingsManager{store: repo.store, namespace: repo.Namespace(), logger: logger}
}

func (m *SettingsManager) path() string { return m.namespace + "/" + SettingsName }

// Load returns the stored settings, or defaults when the file is absent or
// unreadable. Read and decode failures are logged, never surfaced.
func (m *SettingsManager) Load(ctx context.Context) Settings {
	raw, ok, err := m.store.Read(ctx, m.path())
	if err != nil {
		m.logger.Warn().Err(err).Str("path", m.path()).Msg("settings unreadable, using defaults")
		return DefaultSettings()
	}
	if !ok {
		return DefaultSettings()
	}
	settings := DefaultSettings()
	if err := json.Unmarshal(raw, &settings); err != nil {
		m.logger.Warn().Err(err).Str("path", m.path()).Msg("settings malformed, using defaults")
		return DefaultSettings()
	}
	if settings.LengthUnit != domain.UnitMeter && settings.LengthUnit != domain.UnitYard {
		settings.LengthUnit = domain.UnitMeter
	}
	return settings
}

// Save persists the settings.
func (m *SettingsManager) Save(ctx context.Context, settings Settings) error {
	raw, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	if err := m.store.Write(ctx, m.path(), raw); err != nil {
		return domain.IOError{Op: "write", Path: m.path(), Err: err}
	}
	return nil
}
