package session

import (
	"context"
	"database/sql"
	"time"
)

type SQLRepository struct {
	db *sql.DB
}

func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

func (r *SQLRepository) Create(ctx context.Context, s *Session) error {
	query := `INSERT INTO upload_sessions (token, media_id, expected_size, expected_content_type, issued_at, expires_at, consumed)
			  VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		s.Token,
		s.MediaID,
		s.ExpectedSize,
		s.ExpectedContentType,
		s.IssuedAt,
		s.ExpiresAt,
		s.Consumed,
	)
	return err
}

func (r *SQLRepository) Get(ctx context.Context, token string) (*Session, error) {
	query := `SELECT token, media_id, expected_size, expected_content_type, issued_at, expires_at, consumed
			  FROM upload_sessions WHERE token = $1`

	s := &Session{}
	err := r.db.QueryRowContext(ctx, query, token).Scan(
		&s.Token,
		&s.MediaID,
		&s.ExpectedSize,
		&s.ExpectedContentType,
		&s.IssuedAt,
		&s.ExpiresAt,
		&s.Consumed,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Consume flips the session to consumed only if it still is not. The
// rows-affected check makes redemption single-use even under racing
// requests carrying the same valid signature.
func (r *SQLRepository) Consume(ctx context.Context, token string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE upload_sessions SET consumed = TRUE WHERE token = $1 AND consumed = FALSE`, token)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		if _, err := r.Get(ctx, token); err != nil {
			return err
		}
		return ErrAlreadyConsumed
	}
	return nil
}

// DeleteExpired removes unconsumed sessions past their expiry plus grace
// period. Called by the external sweep, never on a request path.
func (r *SQLRepository) DeleteExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM upload_sessions WHERE expires_at < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
