package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"time"
)

// PostgresStore persists events and violations in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates an audit store backed by PostgreSQL.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, e *Event) error {
	meta, _ := json.Marshal(e.Metadata)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, identity_id, operation_type, amount, token, success, error, risk_score, ts, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::JSONB)
	`, e.ID, e.IdentityID, e.OperationType, e.Amount, e.Token, e.Success, e.Error, e.RiskScore, e.Timestamp, string(meta))
	return err
}

func (s *PostgresStore) Query(ctx context.Context, f *Filter) ([]*Event, error) {
	// Insertion order: seq is a bigserial assigned at append time.
	query := `SELECT id, identity_id, operation_type, amount, COALESCE(token, ''), success,
		COALESCE(error, ''), risk_score, ts, COALESCE(metadata::TEXT, '{}')
		FROM audit_events WHERE 1=1`
	var args []interface{}
	n := 0
	add := func(clause string, v interface{}) {
		n++
		query += clause + "$" + strconv.Itoa(n)
		args = append(args, v)
	}

	if f != nil {
		if f.IdentityID != "" {
			add(" AND identity_id = ", f.IdentityID)
		}
		if f.OperationType != "" {
			add(" AND operation_type = ", f.OperationType)
		}
		if !f.From.IsZero() {
			add(" AND ts >= ", f.From)
		}
		if !f.To.IsZero() {
			add(" AND ts <= ", f.To)
		}
		if f.Success != nil {
			add(" AND success = ", *f.Success)
		}
	}
	query += " ORDER BY seq ASC"
	if f != nil && f.Limit > 0 {
		add(" LIMIT ", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var meta string
		if err := rows.Scan(&e.ID, &e.IdentityID, &e.OperationType, &e.Amount, &e.Token,
			&e.Success, &e.Error, &e.RiskScore, &e.Timestamp, &meta); err != nil {
			return nil, err
		}
		if meta != "" && meta != "{}" {
			_ = json.Unmarshal([]byte(meta), &e.Metadata)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *PostgresStore) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_events WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *PostgresStore) SaveViolation(ctx context.Context, v *Violation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO compliance_violations (id, identity_id, violation_type, severity, status, description, detected_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, resolved_at = EXCLUDED.resolved_at
	`, v.ID, v.IdentityID, v.ViolationType, v.Severity, v.Status, v.Description, v.DetectedAt, v.ResolvedAt)
	return err
}

func (s *PostgresStore) OpenViolations(ctx context.Context, identityID string) ([]*Violation, error) {
	query := `SELECT id, identity_id, violation_type, severity, status, COALESCE(description, ''), detected_at, resolved_at
		FROM compliance_violations WHERE status = 'DETECTED'`
	var args []interface{}
	if identityID != "" {
		query += " AND identity_id = $1"
		args = append(args, identityID)
	}
	query += " ORDER BY detected_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Violation
	for rows.Next() {
		v := &Violation{}
		if err := rows.Scan(&v.ID, &v.IdentityID, &v.ViolationType, &v.Severity, &v.Status,
			&v.Description, &v.DetectedAt, &v.ResolvedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ResolveViolation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE compliance_violations SET status = 'RESOLVED', resolved_at = NOW()
		WHERE id = $1 AND status = 'DETECTED'
	`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrViolationNotFound
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
