package db

import (
	"database/sql"
	"fmt"
)

// ConnectionConfig is a stored connection description for a mocap server.
// At most one enabled row is applied at a time; replacing the active one
// goes through the bridge's reload path.
type ConnectionConfig struct {
	ID               int    `json:"id"`
	Name             string `json:"name"`
	Enabled          bool   `json:"enabled"`
	CommandPort      int    `json:"command_port"`
	DataPort         int    `json:"data_port"`
	MulticastAddress string `json:"multicast_address"`
	// VersionHint is a dotted protocol version ("3.0.0.0") known
	// out-of-band, or empty to negotiate via handshake.
	VersionHint string `json:"version_hint"`
	Description string `json:"description"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// PublisherConfig names one rigid body that should be published and the
// consumer-facing name it is published under.
type PublisherConfig struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	RigidBodyID int    `json:"rigid_body_id"`
	Enabled     bool   `json:"enabled"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

const connectionConfigColumns = `id, name, enabled, command_port, data_port,
	multicast_address, version_hint, description, created_at, updated_at`

func scanConnectionConfig(row interface{ Scan(...any) error }) (ConnectionConfig, error) {
	var c ConnectionConfig
	var enabled int
	err := row.Scan(&c.ID, &c.Name, &enabled, &c.CommandPort, &c.DataPort,
		&c.MulticastAddress, &c.VersionHint, &c.Description, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return c, err
	}
	c.Enabled = enabled == 1
	return c, nil
}

// GetConnectionConfigs returns all stored connection configs.
func (db *DB) GetConnectionConfigs() ([]ConnectionConfig, error) {
	query := `SELECT ` + connectionConfigColumns + `
	          FROM mocap_connection_config
	          ORDER BY created_at ASC`

	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query connection configs: %w", err)
	}
	defer rows.Close()

	var configs []ConnectionConfig
	for rows.Next() {
		c, err := scanConnectionConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection config: %w", err)
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

// GetEnabledConnectionConfigs returns all enabled connection configs,
// oldest first. The reload path applies the first one.
func (db *DB) GetEnabledConnectionConfigs() ([]ConnectionConfig, error) {
	query := `SELECT ` + connectionConfigColumns + `
	          FROM mocap_connection_config
	          WHERE enabled = 1
	          ORDER BY created_at ASC`

	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query enabled connection configs: %w", err)
	}
	defer rows.Close()

	var configs []ConnectionConfig
	for rows.Next() {
		c, err := scanConnectionConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection config: %w", err)
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

// GetConnectionConfig returns one connection config by ID, or nil when it
// does not exist.
func (db *DB) GetConnectionConfig(id int) (*ConnectionConfig, error) {
	query := `SELECT ` + connectionConfigColumns + `
	          FROM mocap_connection_config
	          WHERE id = ?`

	c, err := scanConnectionConfig(db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection config: %w", err)
	}
	return &c, nil
}

// CreateConnectionConfig inserts a new connection config and returns its ID.
func (db *DB) CreateConnectionConfig(c *ConnectionConfig) (int64, error) {
	query := `INSERT INTO mocap_connection_config
	          (name, enabled, command_port, data_port, multicast_address, version_hint, description)
	          VALUES (?, ?, ?, ?, ?, ?, ?)`

	result, err := db.Exec(query, c.Name, boolToInt(c.Enabled), c.CommandPort,
		c.DataPort, c.MulticastAddress, c.VersionHint, c.Description)
	if err != nil {
		return 0, fmt.Errorf("failed to create connection config: %w", err)
	}
	return result.LastInsertId()
}

// UpdateConnectionConfig updates an existing connection config by ID.
func (db *DB) UpdateConnectionConfig(c *ConnectionConfig) error {
	query := `UPDATE mocap_connection_config
	          SET name = ?, enabled = ?, command_port = ?, data_port = ?,
	              multicast_address = ?, version_hint = ?, description = ?,
	              updated_at = strftime('%s', 'now')
	          WHERE id = ?`

	result, err := db.Exec(query, c.Name, boolToInt(c.Enabled), c.CommandPort,
		c.DataPort, c.MulticastAddress, c.VersionHint, c.Description, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update connection config: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("connection config %d not found", c.ID)
	}
	return nil
}

// DeleteConnectionConfig removes a connection config by ID.
func (db *DB) DeleteConnectionConfig(id int) error {
	result, err := db.Exec(`DELETE FROM mocap_connection_config WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete connection config: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("connection config %d not found", id)
	}
	return nil
}

const publisherConfigColumns = `id, name, rigid_body_id, enabled, created_at, updated_at`

func scanPublisherConfig(row interface{ Scan(...any) error }) (PublisherConfig, error) {
	var p PublisherConfig
	var enabled int
	err := row.Scan(&p.ID, &p.Name, &p.RigidBodyID, &enabled, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return p, err
	}
	p.Enabled = enabled == 1
	return p, nil
}

// GetPublisherConfigs returns all publisher target configs.
func (db *DB) GetPublisherConfigs() ([]PublisherConfig, error) {
	query := `SELECT ` + publisherConfigColumns + `
	          FROM mocap_publisher_config
	          ORDER BY created_at ASC`

	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query publisher configs: %w", err)
	}
	defer rows.Close()

	var configs []PublisherConfig
	for rows.Next() {
		p, err := scanPublisherConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan publisher config: %w", err)
		}
		configs = append(configs, p)
	}
	return configs, rows.Err()
}

// GetEnabledPublisherConfigs returns the publisher targets that should
// receive poses. Evaluated once per epoch when the dispatcher is built.
func (db *DB) GetEnabledPublisherConfigs() ([]PublisherConfig, error) {
	query := `SELECT ` + publisherConfigColumns + `
	          FROM mocap_publisher_config
	          WHERE enabled = 1
	          ORDER BY created_at ASC`

	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query enabled publisher configs: %w", err)
	}
	defer rows.Close()

	var configs []PublisherConfig
	for rows.Next() {
		p, err := scanPublisherConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan publisher config: %w", err)
		}
		configs = append(configs, p)
	}
	return configs, rows.Err()
}

// CreatePublisherConfig inserts a new publisher target and returns its ID.
func (db *DB) CreatePublisherConfig(p *PublisherConfig) (int64, error) {
	query := `INSERT INTO mocap_publisher_config (name, rigid_body_id, enabled)
	          VALUES (?, ?, ?)`

	result, err := db.Exec(query, p.Name, p.RigidBodyID, boolToInt(p.Enabled))
	if err != nil {
		return 0, fmt.Errorf("failed to create publisher config: %w", err)
	}
	return result.LastInsertId()
}

// DeletePublisherConfig removes a publisher target by ID.
func (db *DB) DeletePublisherConfig(id int) error {
	result, err := db.Exec(`DELETE FROM mocap_publisher_config WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete publisher config: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("publisher config %d not found", id)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
