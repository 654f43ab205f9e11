package risk

import (
	"context"
	"database/sql"
)

// PostgresReputationStore persists reputation scores in PostgreSQL.
type PostgresReputationStore struct {
	db *sql.DB
}

// NewPostgresReputationStore creates a reputation store backed by PostgreSQL.
func NewPostgresReputationStore(db *sql.DB) *PostgresReputationStore {
	return &PostgresReputationStore{db: db}
}

func (s *PostgresReputationStore) GetReputation(ctx context.Context, identityID string) (int, bool, error) {
	var score int
	err := s.db.QueryRowContext(ctx,
		`SELECT score FROM reputation WHERE identity_id = $1`, identityID).Scan(&score)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return score, true, nil
}

func (s *PostgresReputationStore) SetReputation(ctx context.Context, identityID string, score int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reputation (identity_id, score, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (identity_id) DO UPDATE SET score = EXCLUDED.score, updated_at = NOW()
	`, identityID, score)
	return err
}

var _ ReputationStore = (*PostgresReputationStore)(nil)
