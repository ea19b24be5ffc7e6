package document

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const documentColumns = `id::text, application_form_id::text, kind, file_name, stored_path, mime_type, size_bytes, uploaded_by::text, created_at`

func (r *PGRepository) Insert(ctx context.Context, doc Document) (Document, error) {
	const query = `
		INSERT INTO application_documents
			(id, application_form_id, kind, file_name, stored_path, mime_type, size_bytes, uploaded_by, created_at)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + documentColumns

	row := r.pool.QueryRow(ctx, query,
		doc.ID,
		doc.ApplicationFormID,
		doc.Kind,
		doc.FileName,
		doc.StoredPath,
		doc.MimeType,
		doc.SizeBytes,
		doc.UploadedBy,
		doc.CreatedAt,
	)
	out, err := scanDocument(row)
	if err != nil {
		return Document{}, fmt.Errorf("document: insert: %w", err)
	}
	return out, nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (Document, error) {
	query := `SELECT ` + documentColumns + ` FROM application_documents WHERE id = $1`

	doc, err := scanDocument(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("document: get: %w", err)
	}
	return doc, nil
}

func (r *PGRepository) ListForForm(ctx context.Context, formID string) ([]Document, error) {
	query := `SELECT ` + documentColumns + ` FROM application_documents WHERE application_form_id = $1 ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, formID)
	if err != nil {
		return nil, fmt.Errorf("document: list: %w", err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("document: scan list: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (r *PGRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM application_documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("document: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) DeleteForForm(ctx context.Context, formID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM application_documents WHERE application_form_id = $1`, formID); err != nil {
		return fmt.Errorf("document: delete for form: %w", err)
	}
	return nil
}

func scanDocument(row pgx.Row) (Document, error) {
	var doc Document
	return doc, row.Scan(
		&doc.ID,
		&doc.ApplicationFormID,
		&doc.Kind,
		&doc.FileName,
		&doc.StoredPath,
		&doc.MimeType,
		&doc.SizeBytes,
		&doc.UploadedBy,
		&doc.CreatedAt,
	)
}

var _ Repository = (*PGRepository)(nil)
