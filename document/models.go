package document

import "time"

// Kind partitions uploads by size limit: audio recordings of the client's
// consent call are allowed to be larger than scanned documents.
type Kind string

const (
	KindFile  Kind = "file"
	KindAudio Kind = "audio"
)

// Document is a stored upload attached to an application form. Rows are
// cascade-deleted with the form; the file on disk is removed by the service.
type Document struct {
	ID                string    `db:"id"`
	ApplicationFormID string    `db:"application_form_id"`
	Kind              Kind      `db:"kind"`
	FileName          string    `db:"file_name"`
	StoredPath        string    `db:"stored_path"`
	MimeType          string    `db:"mime_type"`
	SizeBytes         int64     `db:"size_bytes"`
	UploadedBy        string    `db:"uploaded_by"`
	CreatedAt         time.Time `db:"created_at"`
}
