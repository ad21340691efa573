package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/arena-data/mocap.bridge/internal/db"
	"github.com/arena-data/mocap.bridge/internal/mocap"
)

// ConfigSnapshot describes the connection configuration currently applied
// to the bridge, mirroring the stored model so API responses can report
// the active settings.
type ConfigSnapshot struct {
	ConfigID         int    `json:"config_id,omitempty"`
	Name             string `json:"name,omitempty"`
	Enabled          bool   `json:"enabled"`
	CommandPort      int    `json:"command_port"`
	DataPort         int    `json:"data_port"`
	MulticastAddress string `json:"multicast_address"`
	VersionHint      string `json:"version_hint,omitempty"`
	Source           string `json:"source"`
}

// ReloadResult is returned to API clients when a reload request is
// processed.
type ReloadResult struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Config  *ConfigSnapshot `json:"config,omitempty"`
}

// Manager applies stored connection configs to a running Bridge. Reloads
// are serialized; each one reads the enabled config from the database,
// converts it, and pushes it through the bridge's reconfiguration path.
// A reload that cannot bind leaves the previously working connection in
// place (the bridge rolls back), so it reports failure without taking the
// stream down.
type Manager struct {
	bridge   *Bridge
	db       *db.DB
	reloadMu sync.Mutex

	mu       sync.RWMutex
	snapshot *ConfigSnapshot
}

// NewManager constructs a Manager for the given bridge and config store.
// The initial snapshot is optional; pass nil when no configuration has
// been applied yet.
func NewManager(bridge *Bridge, database *db.DB, initial *ConfigSnapshot) *Manager {
	return &Manager{bridge: bridge, db: database, snapshot: initial}
}

// Snapshot returns a copy of the most recently applied configuration.
func (m *Manager) Snapshot() ConfigSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.snapshot == nil {
		return ConfigSnapshot{}
	}
	return *m.snapshot
}

// LoadConnectionConfig reads the active (first enabled) stored config and
// converts it for the bridge. With no enabled row the bridge is meant to
// be disabled, which is a valid configuration, not an error.
func (m *Manager) LoadConnectionConfig() (ConnectionConfig, *ConfigSnapshot, error) {
	return LoadStoredConnectionConfig(m.db)
}

// LoadStoredConnectionConfig reads the active connection config from the
// store without requiring a running bridge, so startup can load before
// the bridge is constructed.
func LoadStoredConnectionConfig(database *db.DB) (ConnectionConfig, *ConfigSnapshot, error) {
	configs, err := database.GetEnabledConnectionConfigs()
	if err != nil {
		return ConnectionConfig{}, nil, fmt.Errorf("failed to load connection configs: %w", err)
	}
	if len(configs) == 0 {
		snap := &ConfigSnapshot{Enabled: false, Source: "database"}
		return ConnectionConfig{Enabled: false}, snap, nil
	}

	stored := configs[0]
	cfg, err := convertConnectionConfig(stored)
	if err != nil {
		return ConnectionConfig{}, nil, err
	}

	snap := &ConfigSnapshot{
		ConfigID:         stored.ID,
		Name:             stored.Name,
		Enabled:          stored.Enabled,
		CommandPort:      stored.CommandPort,
		DataPort:         stored.DataPort,
		MulticastAddress: stored.MulticastAddress,
		VersionHint:      stored.VersionHint,
		Source:           "database",
	}
	return cfg, snap, nil
}

// ReloadConfig re-reads the stored configuration and applies it to the
// bridge. All-or-nothing: on failure the bridge keeps (or rolls back to)
// the previous connection and the error is reported to the caller.
func (m *Manager) ReloadConfig(ctx context.Context) (*ReloadResult, error) {
	if m.db == nil {
		return nil, errors.New("database not configured")
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	cfg, snap, err := m.LoadConnectionConfig()
	if err != nil {
		return nil, err
	}

	if err := m.bridge.Reconfigure(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to apply connection config: %w", err)
	}

	m.mu.Lock()
	m.snapshot = snap
	m.mu.Unlock()

	message := "Connection disabled: no enabled configuration"
	if snap.Name != "" {
		message = fmt.Sprintf("Applied connection configuration %q", snap.Name)
	}
	return &ReloadResult{
		Success: true,
		Message: message,
		Config:  snap,
	}, nil
}

// convertConnectionConfig validates a stored row and converts it into the
// bridge's runtime form. Invalid rows are rejected here, before any
// teardown happens.
func convertConnectionConfig(stored db.ConnectionConfig) (ConnectionConfig, error) {
	cfg := ConnectionConfig{
		Enabled:          stored.Enabled,
		CommandPort:      stored.CommandPort,
		DataPort:         stored.DataPort,
		MulticastAddress: stored.MulticastAddress,
	}
	if stored.VersionHint != "" {
		ver, err := mocap.ParseVersion(stored.VersionHint)
		if err != nil {
			return ConnectionConfig{}, fmt.Errorf("invalid version hint in config %q: %w", stored.Name, err)
		}
		cfg.VersionHint = &ver
	}
	return cfg, nil
}
