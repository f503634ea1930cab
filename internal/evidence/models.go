package evidence

import "time"

type MediaType string

const (
	MediaAudio MediaType = "audio"
	MediaVideo MediaType = "video"
	MediaPhoto MediaType = "photo"
)

// Input is what a client reports after uploading media to blob storage.
type Input struct {
	MediaType       MediaType  `json:"media_type" validate:"oneof=audio video photo"`
	FileURL         string     `json:"file_url"`
	FileSizeBytes   *int64     `json:"file_size_bytes" validate:"omitempty,min=0"`
	DurationSeconds *int       `json:"duration_seconds" validate:"omitempty,min=0"`
	EncryptionKeyID *string    `json:"encryption_key_id"`
	ExpiresAt       *time.Time `json:"expires_at"`
}

type Record struct {
	ID              string     `json:"id"`
	EventID         string     `json:"event_id"`
	MediaType       MediaType  `json:"media_type"`
	FileURL         string     `json:"file_url"`
	FileSizeBytes   *int64     `json:"file_size_bytes"`
	DurationSeconds *int       `json:"duration_seconds"`
	EncryptionKeyID *string    `json:"encryption_key_id"`
	UploadedAt      time.Time  `json:"uploaded_at"`
	ExpiresAt       *time.Time `json:"expires_at"`
}
