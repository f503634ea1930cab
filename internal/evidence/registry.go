// Package evidence keeps the append-only media metadata attached to
// anti-theft events. The media itself lives in blob storage.
package evidence

import (
	"context"
	"time"

	"backend-safetrack/internal/db"
	"backend-safetrack/internal/shared/apperr"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type Registry struct {
	db       db.Querier
	validate *validator.Validate
	now      func() time.Time
}

func NewRegistry(db db.Querier) *Registry {
	return &Registry{db: db, validate: validator.New(), now: time.Now}
}

// Register appends a media record to eventID. Records are never updated or
// deleted here; they go away with their event.
func (r *Registry) Register(ctx context.Context, eventID string, in Input) (Record, error) {
	if err := r.validate.Struct(in); err != nil {
		return Record{}, apperr.FromValidation(err)
	}

	rec := Record{
		ID:              uuid.NewString(),
		EventID:         eventID,
		MediaType:       in.MediaType,
		FileURL:         in.FileURL,
		FileSizeBytes:   in.FileSizeBytes,
		DurationSeconds: in.DurationSeconds,
		EncryptionKeyID: in.EncryptionKeyID,
		UploadedAt:      r.now().UTC(),
		ExpiresAt:       in.ExpiresAt,
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO media_records (id, event_id, media_type, file_url, file_size_bytes, duration_seconds, encryption_key_id, uploaded_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, rec.ID, rec.EventID, string(rec.MediaType), rec.FileURL, rec.FileSizeBytes, rec.DurationSeconds, rec.EncryptionKeyID, rec.UploadedAt, rec.ExpiresAt)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// List returns the records of eventID in upload order.
func (r *Registry) List(ctx context.Context, eventID string) ([]Record, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, event_id, media_type, file_url, file_size_bytes, duration_seconds, encryption_key_id, uploaded_at, expires_at
		FROM media_records
		WHERE event_id=$1
		ORDER BY uploaded_at ASC, id ASC
	`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var rec Record
		var mediaType string
		if err := rows.Scan(&rec.ID, &rec.EventID, &mediaType, &rec.FileURL, &rec.FileSizeBytes, &rec.DurationSeconds, &rec.EncryptionKeyID, &rec.UploadedAt, &rec.ExpiresAt); err != nil {
			return nil, err
		}
		rec.MediaType = MediaType(mediaType)
		records = append(records, rec)
	}
	return records, rows.Err()
}
