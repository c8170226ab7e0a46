package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var ErrFileNotFound = errors.New("file not found")
var ErrFileExists = errors.New("file name already exists")

// FileRecord is the metadata row for one stored blob. Name doubles as the
// blob key, so the UNIQUE constraint on it is what keeps concurrent uploads
// of the same name from both succeeding.
type FileRecord struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Extension string    `json:"extension"`
	MimeType  string    `json:"mime_type"`
	Size      int64     `json:"size"`
	StoredAt  time.Time `json:"date_downloaded"`
}

type FileRepository struct {
	db *DB
}

func NewFileRepository(db *DB) *FileRepository {
	return &FileRepository{db: db}
}

// Create inserts the record and fills in its assigned id.
// A unique violation on name maps to ErrFileExists.
func (r *FileRepository) Create(ctx context.Context, record *FileRecord) error {
	query := `
		INSERT INTO files (name, extension, mime_type, size, date_downloaded)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	err := r.db.QueryRowContext(ctx, query,
		record.Name, record.Extension, record.MimeType, record.Size, record.StoredAt,
	).Scan(&record.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrFileExists
		}
		return err
	}

	return nil
}

func (r *FileRepository) GetByID(ctx context.Context, id int64) (*FileRecord, error) {
	query := `
		SELECT id, name, extension, mime_type, size, date_downloaded
		FROM files
		WHERE id = $1
	`

	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *FileRepository) GetByName(ctx context.Context, name string) (*FileRecord, error) {
	query := `
		SELECT id, name, extension, mime_type, size, date_downloaded
		FROM files
		WHERE name = $1
	`

	return r.scanOne(r.db.QueryRowContext(ctx, query, name))
}

// List returns records in insertion order using limit/offset pagination.
func (r *FileRepository) List(ctx context.Context, limit, offset int) ([]FileRecord, error) {
	query := `
		SELECT id, name, extension, mime_type, size, date_downloaded
		FROM files
		ORDER BY id
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]FileRecord, 0, limit)
	for rows.Next() {
		var rec FileRecord
		if err := rows.Scan(
			&rec.ID, &rec.Name, &rec.Extension, &rec.MimeType, &rec.Size, &rec.StoredAt,
		); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// Update overwrites every mutable column of the record identified by id.
func (r *FileRepository) Update(ctx context.Context, record *FileRecord) error {
	query := `
		UPDATE files
		SET name = $1, extension = $2, mime_type = $3, size = $4, date_downloaded = $5
		WHERE id = $6
	`

	result, err := r.db.ExecContext(ctx, query,
		record.Name, record.Extension, record.MimeType, record.Size, record.StoredAt, record.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrFileExists
		}
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrFileNotFound
	}

	return nil
}

func (r *FileRepository) Delete(ctx context.Context, id int64) error {
	query := `DELETE FROM files WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrFileNotFound
	}

	return nil
}

func (r *FileRepository) scanOne(row *sql.Row) (*FileRecord, error) {
	rec := &FileRecord{}
	err := row.Scan(
		&rec.ID, &rec.Name, &rec.Extension, &rec.MimeType, &rec.Size, &rec.StoredAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}
	return rec, nil
}
