package media

import (
	"context"
	"database/sql"
	"fmt"
)

// Repository is the persistence collaborator for media records. Listing is
// ascending-by-id and limit-bounded; CountByContentHash backs the
// reference-count check that authorizes physical deletion.
type Repository interface {
	Create(ctx context.Context, m *Media) error
	GetByID(ctx context.Context, id int64) (*Media, error)
	BindContentHash(ctx context.Context, id int64, hash string) error
	UpdateStatus(ctx context.Context, m *Media) error
	Delete(ctx context.Context, id int64) error
	ListAfterID(ctx context.Context, afterID int64, limit int, status *ProcessingStatus) ([]*Media, error)
	CountByContentHash(ctx context.Context, hash string, excludeID int64) (int64, error)
}

type SQLRepository struct {
	db *sql.DB
}

func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

const mediaColumns = `id, content_hash, original_filename, content_type, file_size, status, error_message, uploaded_at, updated_at, completed_at`

func (r *SQLRepository) Create(ctx context.Context, m *Media) error {
	query := `INSERT INTO media (content_hash, original_filename, content_type, file_size, status, error_message, uploaded_at, updated_at, completed_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			  RETURNING id`

	return r.db.QueryRowContext(ctx, query,
		m.ContentHash,
		m.OriginalFilename,
		m.ContentType,
		m.FileSize,
		m.Status,
		m.ErrorMessage,
		m.UploadedAt,
		m.UpdatedAt,
		m.CompletedAt,
	).Scan(&m.ID)
}

func (r *SQLRepository) GetByID(ctx context.Context, id int64) (*Media, error) {
	query := `SELECT ` + mediaColumns + ` FROM media WHERE id = $1`

	m, err := scanMedia(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *SQLRepository) BindContentHash(ctx context.Context, id int64, hash string) error {
	return r.execWithRowCheck(ctx,
		`UPDATE media SET content_hash = $1, updated_at = NOW() WHERE id = $2`, hash, id)
}

func (r *SQLRepository) UpdateStatus(ctx context.Context, m *Media) error {
	return r.execWithRowCheck(ctx,
		`UPDATE media SET status = $1, error_message = $2, file_size = $3, updated_at = $4, completed_at = $5 WHERE id = $6`,
		m.Status, m.ErrorMessage, m.FileSize, m.UpdatedAt, m.CompletedAt, m.ID)
}

func (r *SQLRepository) Delete(ctx context.Context, id int64) error {
	return r.execWithRowCheck(ctx, `DELETE FROM media WHERE id = $1`, id)
}

func (r *SQLRepository) ListAfterID(ctx context.Context, afterID int64, limit int, status *ProcessingStatus) ([]*Media, error) {
	query := `SELECT ` + mediaColumns + ` FROM media WHERE id > $1`
	args := []interface{}{afterID}

	if status != nil {
		query += ` AND status = $2`
		args = append(args, *status)
	}
	query += fmt.Sprintf(` ORDER BY id ASC LIMIT %d`, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*Media
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

func (r *SQLRepository) CountByContentHash(ctx context.Context, hash string, excludeID int64) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM media WHERE content_hash = $1 AND id <> $2`, hash, excludeID).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *SQLRepository) execWithRowCheck(ctx context.Context, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMedia(row rowScanner) (*Media, error) {
	m := &Media{}
	var contentHash sql.NullString
	var errorMessage sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&m.ID,
		&contentHash,
		&m.OriginalFilename,
		&m.ContentType,
		&m.FileSize,
		&m.Status,
		&errorMessage,
		&m.UploadedAt,
		&m.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if contentHash.Valid {
		m.ContentHash = &contentHash.String
	}
	if errorMessage.Valid {
		m.ErrorMessage = errorMessage.String
	}
	if completedAt.Valid {
		m.CompletedAt = &completedAt.Time
	}
	return m, nil
}
