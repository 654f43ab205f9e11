package plugin

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/AnarQorp/qwallet-core/internal/identity"
)

// PostgresRegistryStore persists plugin metadata in PostgreSQL. The list-type
// columns are JSONB: they are always read and written whole with the row.
type PostgresRegistryStore struct {
	db *sql.DB
}

// NewPostgresRegistryStore creates a registry store backed by PostgreSQL.
func NewPostgresRegistryStore(db *sql.DB) *PostgresRegistryStore {
	return &PostgresRegistryStore{db: db}
}

type pluginRow struct {
	Capabilities           []string        `json:"capabilities,omitempty"`
	RequiredPermissions    []string        `json:"requiredPermissions,omitempty"`
	SupportedIdentityTypes []identity.Type `json:"supportedIdentityTypes"`
	Dependencies           []string        `json:"dependencies,omitempty"`
}

func (s *PostgresRegistryStore) Insert(ctx context.Context, p *Plugin) error {
	manifest, err := json.Marshal(pluginRow{
		Capabilities:           p.Capabilities,
		RequiredPermissions:    p.RequiredPermissions,
		SupportedIdentityTypes: p.SupportedIdentityTypes,
		Dependencies:           p.Dependencies,
	})
	if err != nil {
		return err
	}
	cfg, err := json.Marshal(p.Config)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO plugins (plugin_id, version, type, status, manifest, config, registered_at, status_changed_at, last_error)
		VALUES ($1, $2, $3, $4, $5::JSONB, $6::JSONB, $7, $8, $9)
		ON CONFLICT (plugin_id) DO NOTHING
	`, p.PluginID, p.Version, p.Type, p.Status, string(manifest), string(cfg),
		p.RegisteredAt, p.StatusChangedAt, p.LastError)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDuplicateID
	}
	return nil
}

func (s *PostgresRegistryStore) Get(ctx context.Context, pluginID string) (*Plugin, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT plugin_id, version, type, status, manifest, config, registered_at, status_changed_at, COALESCE(last_error, '')
		FROM plugins WHERE plugin_id = $1
	`, pluginID)
	p, err := scanPlugin(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotRegistered
	}
	return p, err
}

func (s *PostgresRegistryStore) List(ctx context.Context) ([]*Plugin, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT plugin_id, version, type, status, manifest, config, registered_at, status_changed_at, COALESCE(last_error, '')
		FROM plugins ORDER BY registered_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Plugin
	for rows.Next() {
		p, err := scanPlugin(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresRegistryStore) UpdateStatus(ctx context.Context, pluginID string, status Status, lastError string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE plugins SET status = $2, last_error = $3, status_changed_at = NOW() WHERE plugin_id = $1
	`, pluginID, status, lastError)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotRegistered
	}
	return nil
}

func (s *PostgresRegistryStore) UpdateConfig(ctx context.Context, pluginID string, cfg Config) error {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE plugins SET config = $2::JSONB WHERE plugin_id = $1
	`, pluginID, string(payload))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotRegistered
	}
	return nil
}

func (s *PostgresRegistryStore) Delete(ctx context.Context, pluginID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM plugins WHERE plugin_id = $1`, pluginID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotRegistered
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPlugin(row scanner) (*Plugin, error) {
	p := &Plugin{}
	var manifest, cfg []byte
	if err := row.Scan(&p.PluginID, &p.Version, &p.Type, &p.Status, &manifest, &cfg,
		&p.RegisteredAt, &p.StatusChangedAt, &p.LastError); err != nil {
		return nil, err
	}
	var pr pluginRow
	if err := json.Unmarshal(manifest, &pr); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(cfg, &p.Config); err != nil {
		return nil, err
	}
	p.Capabilities = pr.Capabilities
	p.RequiredPermissions = pr.RequiredPermissions
	p.SupportedIdentityTypes = pr.SupportedIdentityTypes
	p.Dependencies = pr.Dependencies
	return p, nil
}

var _ RegistryStore = (*PostgresRegistryStore)(nil)
