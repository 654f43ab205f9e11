package governance

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/AnarQorp/qwallet-core/internal/permission"
)

// PostgresStore persists limits and change requests in PostgreSQL. Limits
// are stored as JSONB: they are read-mostly and always loaded whole.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a governance store backed by PostgreSQL.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetLimits(ctx context.Context, identityID string) (*permission.Limits, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT limits FROM wallet_limits WHERE identity_id = $1`, identityID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var limits permission.Limits
	if err := json.Unmarshal(payload, &limits); err != nil {
		return nil, err
	}
	return &limits, nil
}

func (s *PostgresStore) SetLimits(ctx context.Context, identityID string, limits *permission.Limits) error {
	payload, err := json.Marshal(limits)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO wallet_limits (identity_id, limits, updated_at)
		VALUES ($1, $2::JSONB, NOW())
		ON CONFLICT (identity_id) DO UPDATE SET limits = EXCLUDED.limits, updated_at = NOW()
	`, identityID, string(payload))
	return err
}

func (s *PostgresStore) SaveRequest(ctx context.Context, req *ChangeRequest) error {
	payload, err := json.Marshal(req.NewLimits)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO governance_requests (id, identity_id, requested_by, new_limits, status, reason, created_at, decided_at, decided_by)
		VALUES ($1, $2, $3, $4::JSONB, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, reason = EXCLUDED.reason,
			decided_at = EXCLUDED.decided_at, decided_by = EXCLUDED.decided_by
	`, req.ID, req.IdentityID, req.RequestedBy, string(payload), req.Status, req.Reason,
		req.CreatedAt, req.DecidedAt, req.DecidedBy)
	return err
}

func (s *PostgresStore) GetRequest(ctx context.Context, id string) (*ChangeRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, identity_id, requested_by, new_limits, status, COALESCE(reason, ''), created_at, decided_at, COALESCE(decided_by, '')
		FROM governance_requests WHERE id = $1
	`, id)
	req, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, ErrRequestNotFound
	}
	return req, err
}

func (s *PostgresStore) ListRequests(ctx context.Context, identityID string, status RequestStatus) ([]*ChangeRequest, error) {
	query := `SELECT id, identity_id, requested_by, new_limits, status, COALESCE(reason, ''), created_at, decided_at, COALESCE(decided_by, '')
		FROM governance_requests WHERE 1=1`
	var args []interface{}
	if identityID != "" {
		args = append(args, identityID)
		query += ` AND identity_id = $1`
	}
	if status != "" {
		args = append(args, status)
		if len(args) == 1 {
			query += ` AND status = $1`
		} else {
			query += ` AND status = $2`
		}
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*ChangeRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(row scanner) (*ChangeRequest, error) {
	req := &ChangeRequest{}
	var payload []byte
	if err := row.Scan(&req.ID, &req.IdentityID, &req.RequestedBy, &payload, &req.Status,
		&req.Reason, &req.CreatedAt, &req.DecidedAt, &req.DecidedBy); err != nil {
		return nil, err
	}
	var limits permission.Limits
	if err := json.Unmarshal(payload, &limits); err != nil {
		return nil, err
	}
	req.NewLimits = &limits
	return req, nil
}

var _ Store = (*PostgresStore)(nil)
